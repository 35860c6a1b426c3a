// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/elliptic"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/decred/dcrd/certgen"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/go-socks/socks"

	"github.com/veilnet/veilnetd/netid"
	"github.com/veilnet/veilnetd/overlay"
	"github.com/veilnet/veilnetd/rpcdisp"
	"github.com/veilnet/veilnetd/transport/wsnet"
)

const (
	// methodPing is the method served and requested by the daemon's
	// keepalive traffic.
	methodPing = "veilnet.ping"

	// connectTimeout is the time allowed for an outbound transport
	// connection to complete.
	connectTimeout = 30 * time.Second
)

// wsAddr adapts a peer websocket URL to the net.Addr interface the
// connection manager tracks requests by, retaining the full URL so the
// websocket handshake can be performed once the transport connection is
// established.
type wsAddr struct {
	u *url.URL
}

// Network returns the network of the transport connection to dial.
//
// This is part of the net.Addr interface.
func (a wsAddr) Network() string {
	return "tcp"
}

// String returns the peer URL.
//
// This is part of the net.Addr interface.
func (a wsAddr) String() string {
	return a.u.String()
}

// Ensure wsAddr implements the net.Addr interface.
var _ net.Addr = wsAddr{}

// server ties the overlay layers together: it owns the local identifier,
// the connection registry, the dispatcher, and the network facade, and
// it drives the transports on both the inbound and outbound side.
type server struct {
	cfg      *config
	id       netid.ID
	registry *overlay.Registry
	disp     *rpcdisp.Dispatcher
	network  *overlay.Net
	connMgr  *connmgr.ConnManager

	wg sync.WaitGroup
}

// newServer returns a new veilnetd server configured per the provided
// configuration.
func newServer(cfg *config) (*server, error) {
	s := server{
		cfg: cfg,
		id:  netid.New(),
	}

	s.disp = rpcdisp.New(&rpcdisp.Config{
		RequestTimeout: cfg.RequestTimeout,
	})

	// Requests outstanding against a peer whose connection goes away
	// must not hang, so registry removals abandon them and close the
	// connection in case removal was not driven by a read failure.
	s.registry = overlay.NewRegistry(func(id netid.ID, conn overlay.Connection) {
		s.disp.AbandonPeer(id)
		conn.Close()
	})

	s.network = overlay.NewNet(s.registry, s.disp)
	s.network.SetHeaders(overlay.Message{
		overlay.HeaderMethod: methodPing,
		"node":               s.id.String(),
	})

	err := s.disp.Register(methodPing, func(peer netid.ID, body overlay.Message) (overlay.Message, error) {
		return overlay.Message{
			"stamp": body["stamp"],
			"node":  s.id.String(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// The connection manager maintains the configured outbound peers,
	// retrying with backoff on failure and disconnect.
	dial := dialerFromConfig(cfg)
	cmgr, err := connmgr.New(&connmgr.Config{
		DialAddr: func(ctx context.Context, addr net.Addr) (net.Conn, error) {
			wa, ok := addr.(wsAddr)
			if !ok {
				return nil, fmt.Errorf("unexpected address type %T", addr)
			}
			return dial(ctx, "tcp", wa.u.Host)
		},
		Timeout:      connectTimeout,
		OnConnection: s.outboundConnected,
	})
	if err != nil {
		return nil, err
	}
	s.connMgr = cmgr

	return &s, nil
}

// dialerFromConfig returns the dial function used to establish outbound
// transport connections, routed through the configured SOCKS5 proxy when
// one is set.
func dialerFromConfig(cfg *config) func(context.Context, string, string) (net.Conn, error) {
	if cfg.Proxy == "" {
		d := net.Dialer{}
		return d.DialContext
	}
	proxy := &socks.Proxy{
		Addr:     cfg.Proxy,
		Username: cfg.ProxyUser,
		Password: cfg.ProxyPass,
	}
	return proxy.DialContext
}

// outboundConnected is invoked by the connection manager once an
// outbound transport connection is established.  It performs the
// websocket and hello handshakes and hands the resulting overlay
// connection to the registry.
func (s *server) outboundConnected(cr *connmgr.ConnReq, nc net.Conn) {
	wa, ok := cr.Addr.(wsAddr)
	if !ok {
		vntdLog.Errorf("Unexpected address type %T on conn req %v",
			cr.Addr, cr)
		nc.Close()
		return
	}
	conn, remoteID, err := wsnet.Client(nc, wa.u, s.id)
	if err != nil {
		vntdLog.Warnf("Handshake with %s failed: %v", wa.u.Host, err)
		nc.Close()
		s.connMgr.Disconnect(cr.ID())
		return
	}
	if remoteID == s.id {
		vntdLog.Warnf("Rejecting connection to self at %s", wa.u.Host)
		conn.Close()
		s.connMgr.Remove(cr.ID())
		return
	}
	s.addPeer(remoteID, conn, cr)
}

// addPeer registers the connection under the peer's identifier and runs
// its read loop, removing the registry entry again once the connection
// fails or is torn down.  For outbound peers the connection manager is
// asked to reconnect afterwards.
func (s *server) addPeer(id netid.ID, conn *wsnet.Conn, cr *connmgr.ConnReq) {
	s.registry.Add(id, conn)
	vntdLog.Infof("Peer %s connected via %s (%d peers)", id,
		conn.RemoteAddr(), s.registry.Len())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.ReadLoop(func(data []byte) {
			err := s.disp.HandleIncoming(id, conn, data)
			if errors.Is(err, rpcdisp.ErrMalformedEnvelope) {
				// Frames that are not dispatch envelopes are raw
				// payloads sent via Send/Broadcast.
				s.handleRawFrame(id, data)
			} else if err != nil {
				vntdLog.Debugf("Frame from %s not handled: %v", id, err)
			}
		})
		// Remove the entry only when it still belongs to this
		// connection.  A reconnect under the same identifier replaces
		// the entry, and the stale read loop exiting afterwards must
		// not tear the replacement down.
		removed := s.registry.RemoveConn(id, conn)
		if removed {
			vntdLog.Infof("Peer %s disconnected (%d peers)", id,
				s.registry.Len())
		}
		if removed && cr != nil {
			s.connMgr.Disconnect(cr.ID())
		}
	}()
}

// handleRawFrame consumes raw (non-envelope) payloads received from a
// peer.  The daemon only uses raw frames for its broadcast heartbeat, so
// they are logged and dropped here; protocol logic layered on the
// overlay would consume them instead.
func (s *server) handleRawFrame(id netid.ID, data []byte) {
	vntdLog.Debugf("Raw frame from %s: %d bytes", id, len(data))
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string) error {
	vntdLog.Info("Generating TLS certificates...")

	org := "veilnetd autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(elliptic.P256(), org,
		validUntil, nil)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	vntdLog.Info("Done generating TLS certificates")
	return nil
}

// listen starts the inbound websocket listener.  The returned function
// shuts it down.
func (s *server) listen() (func(), error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, remoteID, err := wsnet.Accept(w, r, s.id)
		if err != nil {
			vntdLog.Debugf("Inbound handshake from %s failed: %v",
				r.RemoteAddr, err)
			return
		}
		if remoteID == s.id {
			vntdLog.Warn("Rejecting inbound connection from self")
			conn.Close()
			return
		}
		s.addPeer(remoteID, conn, nil)
	})
	httpServer := &http.Server{
		Handler:     mux,
		ReadTimeout: connectTimeout,
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}

	if !s.cfg.NoTLS {
		// Generate the TLS cert and key file if both don't already
		// exist.
		if !fileExists(s.cfg.TLSKey) && !fileExists(s.cfg.TLSCert) {
			if err := genCertPair(s.cfg.TLSCert, s.cfg.TLSKey); err != nil {
				listener.Close()
				return nil, err
			}
		}
		keypair, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			listener.Close()
			return nil, err
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{keypair},
			MinVersion:   tls.VersionTLS12,
		}
		listener = tls.NewListener(listener, tlsConfig)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		vntdLog.Infof("Server listening on %s", listener.Addr())
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			vntdLog.Errorf("Listener on %s: %v", s.cfg.Listen, err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}, nil
}

// pingHandler periodically sends a keepalive request to every connected
// peer, logging the observed round trip, and broadcasts a raw heartbeat
// frame.  It must be run as a goroutine.
func (s *server) pingHandler(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for id := range s.registry.All() {
				id := id
				start := time.Now()
				s.network.SendRequest(overlay.Message{
					"stamp": start.UnixNano(),
				}, id, func(resp overlay.Response) {
					if resp.Err != nil {
						vntdLog.Debugf("Ping to %s failed: %v", id,
							resp.Err)
						return
					}
					vntdLog.Debugf("Ping to %s: %v round trip", id,
						time.Since(start))
				})
			}

			hb := []byte(fmt.Sprintf("hb %d", time.Now().Unix()))
			if err := s.network.Broadcast(hb); err != nil {
				vntdLog.Debugf("Heartbeat broadcast: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// run brings the server up and blocks until the provided context is
// canceled and all of its goroutines have finished.
func (s *server) run(ctx context.Context, peerURLs []*url.URL) error {
	vntdLog.Infof("Local peer identifier: %s", s.id)

	var stopListener func()
	if !s.cfg.NoListen {
		var err error
		stopListener, err = s.listen()
		if err != nil {
			return err
		}
	}

	// Maintain an outbound connection to every configured peer.
	cmgrCtx, cmgrCancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connMgr.Run(cmgrCtx)
	}()
	for _, u := range peerURLs {
		go s.connMgr.Connect(cmgrCtx, &connmgr.ConnReq{
			Addr:      wsAddr{u: u},
			Permanent: true,
		})
	}

	s.wg.Add(1)
	go s.pingHandler(ctx)

	<-ctx.Done()
	vntdLog.Info("Shutting down...")
	cmgrCancel()
	if stopListener != nil {
		stopListener()
	}

	// Fail everything still outstanding and drop all peers, which also
	// closes their connections and unblocks the read loops.
	s.disp.Stop()
	for id := range s.registry.All() {
		s.registry.Remove(id)
	}

	s.wg.Wait()
	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}
