// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
veilnetd is a logical-addressing overlay daemon written in Go.

It maintains websocket connections to a configured set of peers,
addresses each of them by a stable logical identifier rather than a
transport address, and exchanges notifications, correlated
request/response pairs, and raw broadcast frames with them.

The default options are sane for most users.  However, there are also a
wide variety of flags that can be used to control it.

The following section provides a usage overview which enumerates the
flags.  The long form of all of these options (except -C) can be
specified in a configuration file that is automatically parsed when
veilnetd starts up.  By default, the configuration file is located at
~/.veilnetd/veilnetd.conf on POSIX-style operating systems and
%LOCALAPPDATA%\veilnetd\veilnetd.conf on Windows.  The -C (--configfile)
flag, as shown below, can be used to override this location.

Usage:

	veilnetd [OPTIONS]

Application Options:

	-V, --version         Display version information and exit
	    --appdata=        Path to application home directory
	-C, --configfile=     Path to configuration file
	    --listen=         Interface/port to listen on for inbound peer
	                      connections (default: :9413)
	    --nolisten        Disable listening for inbound peer connections
	    --connect=        Connect to the peer websocket endpoint at the
	                      given URL (can be used multiple times)
	    --proxy=          Connect through SOCKS5 proxy (host:port)
	    --proxyuser=      Username for proxy server
	    --proxypass=      Password for proxy server
	    --notls           Disable TLS on the inbound listener
	    --tlscert=        File containing the TLS certificate
	    --tlskey=         File containing the TLS private key
	    --requesttimeout= Time to wait for a response to an outstanding
	                      request (default: 30s)
	    --pinginterval=   Interval between keepalive ping requests to
	                      connected peers (default: 1m)
	-d, --debuglevel=     Logging level for all subsystems {trace, debug,
	                      info, warn, error, critical} -- You may also
	                      specify
	                      <subsystem>=<level>,<subsystem2>=<level>,... to
	                      set the log level for individual subsystems
	    --logdir=         Directory to log output
	    --nofilelogging   Disable file logging

Help Options:

	-h, --help            Show this help message
*/
package main
