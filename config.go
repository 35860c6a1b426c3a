// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/veilnet/veilnetd/internal/version"
)

const (
	defaultConfigFilename = "veilnetd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "veilnetd.log"
	defaultLogLevel       = "info"
	defaultListen         = ":9413"
	defaultRequestTimeout = 30 * time.Second
	defaultPingInterval   = time.Minute
	defaultTLSCertFile    = "tls.cert"
	defaultTLSKeyFile     = "tls.key"
)

// config defines the configuration options for veilnetd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	AppData        string        `long:"appdata" description:"Path to application home directory"`
	ConfigFile     string        `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	Listen         string        `long:"listen" description:"Interface/port to listen on for inbound peer connections"`
	NoListen       bool          `long:"nolisten" description:"Disable listening for inbound peer connections"`
	Connect        []string      `long:"connect" description:"Connect to the peer websocket endpoint at the given URL (can be used multiple times)"`
	Proxy          string        `long:"proxy" description:"Connect through SOCKS5 proxy (host:port)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	NoTLS          bool          `long:"notls" description:"Disable TLS on the inbound listener"`
	TLSCert        string        `long:"tlscert" description:"File containing the TLS certificate"`
	TLSKey         string        `long:"tlskey" description:"File containing the TLS private key"`
	RequestTimeout time.Duration `long:"requesttimeout" description:"Time to wait for a response to an outstanding request"`
	PingInterval   time.Duration `long:"pinginterval" description:"Interval between keepalive ping requests to connected peers"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir         string        `long:"logdir" description:"Directory to log output"`
	NoFileLogging  bool          `long:"nofilelogging" description:"Disable file logging"`
}

// defaultAppDataDir returns the default application home directory.
func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".veilnetd")
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not
// caused by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// validateConnectURL ensures the provided peer URL is a usable websocket
// endpoint and returns its normalized form.
func validateConnectURL(rawURL string) (*url.URL, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "ws://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed peer URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("peer URL %q: unsupported scheme %q (want "+
			"ws or wss)", rawURL, u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "9413")
	}
	return u, nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in daemon functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.
func loadConfig(appName string) (*config, []*url.URL, error) {
	// Default config.
	cfg := config{
		AppData:        defaultAppDataDir(),
		Listen:         defaultListen,
		DebugLevel:     defaultLogLevel,
		RequestTimeout: defaultRequestTimeout,
		PingInterval:   defaultPingInterval,
	}
	cfg.ConfigFile = filepath.Join(cfg.AppData, defaultConfigFilename)

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS,
			runtime.GOARCH)
		os.Exit(0)
	}

	// Update the application home directory if specified and adjust the
	// paths that depend on it unless they were themselves overridden.
	if preCfg.AppData != cfg.AppData {
		cfg.AppData = filepath.Clean(preCfg.AppData)
		if preCfg.ConfigFile == filepath.Join(defaultAppDataDir(),
			defaultConfigFilename) {
			preCfg.ConfigFile = filepath.Join(cfg.AppData,
				defaultConfigFilename)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("config file: %w", err)
		}
		// A missing config file at the default location is fine, but one
		// that was explicitly specified must exist.
		if preCfg.ConfigFile != filepath.Join(cfg.AppData,
			defaultConfigFilename) {
			return nil, nil, fmt.Errorf("config file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// Fill in path defaults that depend on the final appdata dir.
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppData, defaultLogDirname)
	}
	if cfg.TLSCert == "" {
		cfg.TLSCert = filepath.Join(cfg.AppData, defaultTLSCertFile)
	}
	if cfg.TLSKey == "" {
		cfg.TLSKey = filepath.Join(cfg.AppData, defaultTLSKeyFile)
	}

	// Create the home directory if it doesn't already exist.
	if err := os.MkdirAll(cfg.AppData, 0700); err != nil {
		return nil, nil, errSuppressUsage(fmt.Sprintf("unable to create "+
			"home directory: %v", err))
	}

	// Validate peer URLs before bringing anything up.
	peerURLs := make([]*url.URL, 0, len(cfg.Connect))
	for _, raw := range cfg.Connect {
		u, err := validateConnectURL(raw)
		if err != nil {
			return nil, nil, err
		}
		peerURLs = append(peerURLs, u)
	}

	if cfg.RequestTimeout <= 0 {
		return nil, nil, fmt.Errorf("requesttimeout must be positive")
	}
	if cfg.PingInterval <= 0 {
		return nil, nil, fmt.Errorf("pinginterval must be positive")
	}

	// Initialize log rotation.  After it is initialized, the logger
	// variables may be used.
	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("debuglevel: %w", err)
	}

	return &cfg, peerURLs, nil
}
