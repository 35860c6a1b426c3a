// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wsnet provides a websocket-backed transport for the overlay.
//
// Each connection carries overlay frames as binary websocket messages.
// Immediately after the websocket handshake, both ends exchange a hello
// frame announcing their overlay identifier, which is what binds the
// connection to a registry entry independently of the transport
// endpoint.
package wsnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilnet/veilnetd/netid"
)

const (
	// handshakeTimeout is the time allowed for the websocket upgrade
	// and the hello exchange to complete.
	handshakeTimeout = 10 * time.Second

	// writeTimeout is the time allowed for a single frame write before
	// the connection is considered failed.
	writeTimeout = 30 * time.Second

	// maxFrameSize is the largest inbound frame that will be accepted.
	maxFrameSize = 1 << 20 // 1 MiB
)

// ErrClosed is returned by Send when the connection has been closed.
var ErrClosed = errors.New("connection closed")

// hello is the identification frame both ends exchange right after the
// websocket handshake.
type hello struct {
	Peer string `json:"peer"`
}

// Conn is a websocket-backed overlay connection.  It implements the
// overlay Connection interface.  All writes are serialized through a
// mutex since websocket connections support a single concurrent writer.
type Conn struct {
	ws      *websocket.Conn
	sendMtx sync.Mutex
	closed  atomic.Bool
}

// Send transmits the bytes as one binary websocket message.
//
// This function is part of the overlay Connection interface.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.sendMtx.Lock()
	defer c.sendMtx.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("websocket write to %s: %w", c.RemoteAddr(), err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket write to %s: %w", c.RemoteAddr(), err)
	}
	return nil
}

// Close tears the websocket connection down.  The read loop, if any, is
// unblocked with an error that is treated as a quiet shutdown.
//
// This function is part of the overlay Connection interface.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.ws.Close()
}

// RemoteAddr returns the remote transport endpoint.
//
// This function is part of the overlay Connection interface.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// shouldLogReadError returns whether the passed error from the read loop
// should be logged, which excludes the expected errors produced by
// either side disconnecting.
func (c *Conn) shouldLogReadError(err error) bool {
	if c.closed.Load() {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return false
	}
	return !websocket.IsCloseError(err, websocket.CloseNormalClosure,
		websocket.CloseAbnormalClosure, websocket.CloseGoingAway)
}

// ReadLoop delivers every inbound frame to recv in arrival order.  It
// blocks until the connection fails or is closed and returns the read
// error for abnormal terminations, nil for expected disconnects.
func (c *Conn) ReadLoop(recv func(data []byte)) error {
	c.ws.SetReadLimit(maxFrameSize)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.shouldLogReadError(err) {
				log.Errorf("Websocket receive from %s: %v",
					c.RemoteAddr(), err)
				return err
			}
			return nil
		}
		recv(msg)
	}
}

// exchangeHello sends the local identifier and reads the remote one.
// The writeFirst parameter orders the exchange so exactly one end writes
// before reading.
func exchangeHello(ws *websocket.Conn, localID netid.ID, writeFirst bool) (netid.ID, error) {
	deadline := time.Now().Add(handshakeTimeout)
	ws.SetReadDeadline(deadline)
	ws.SetWriteDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})
	defer ws.SetWriteDeadline(time.Time{})

	writeLocal := func() error {
		data, err := json.Marshal(&hello{Peer: localID.String()})
		if err != nil {
			return err
		}
		return ws.WriteMessage(websocket.BinaryMessage, data)
	}
	readRemote := func() (netid.ID, error) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return netid.ID{}, err
		}
		var h hello
		if err := json.Unmarshal(data, &h); err != nil {
			return netid.ID{}, fmt.Errorf("invalid hello frame: %w", err)
		}
		remoteID, err := netid.NewFromStr(h.Peer)
		if err != nil {
			return netid.ID{}, fmt.Errorf("invalid hello identifier: %w", err)
		}
		if remoteID.IsZero() {
			return netid.ID{}, errors.New("hello with zero identifier")
		}
		return remoteID, nil
	}

	if writeFirst {
		if err := writeLocal(); err != nil {
			return netid.ID{}, err
		}
		return readRemote()
	}
	remoteID, err := readRemote()
	if err != nil {
		return netid.ID{}, err
	}
	if err := writeLocal(); err != nil {
		return netid.ID{}, err
	}
	return remoteID, nil
}

// Client performs the websocket and hello handshakes as the initiating
// end over an already established transport connection and returns the
// overlay connection along with the remote peer's identifier.
func Client(netConn net.Conn, u *url.URL, localID netid.ID) (*Conn, netid.ID, error) {
	ws, _, err := websocket.NewClient(netConn, u, nil, 0, 0)
	if err != nil {
		return nil, netid.ID{}, fmt.Errorf("websocket handshake with "+
			"%s: %w", u.Host, err)
	}
	remoteID, err := exchangeHello(ws, localID, true)
	if err != nil {
		ws.Close()
		return nil, netid.ID{}, fmt.Errorf("hello exchange with %s: %w",
			u.Host, err)
	}
	log.Debugf("Connected outbound to peer %s at %s", remoteID,
		ws.RemoteAddr())
	return &Conn{ws: ws}, remoteID, nil
}

// upgrader upgrades inbound HTTP requests to websocket connections.  The
// overlay performs its own peer identification via the hello exchange,
// so no origin checking applies.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept performs the websocket upgrade and hello handshake as the
// accepting end and returns the overlay connection along with the remote
// peer's identifier.
func Accept(w http.ResponseWriter, r *http.Request, localID netid.ID) (*Conn, netid.ID, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, netid.ID{}, fmt.Errorf("websocket upgrade from "+
			"%s: %w", r.RemoteAddr, err)
	}
	remoteID, err := exchangeHello(ws, localID, false)
	if err != nil {
		ws.Close()
		return nil, netid.ID{}, fmt.Errorf("hello exchange with %s: %w",
			r.RemoteAddr, err)
	}
	log.Debugf("Accepted inbound from peer %s at %s", remoteID,
		ws.RemoteAddr())
	return &Conn{ws: ws}, remoteID, nil
}
