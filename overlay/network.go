// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"fmt"

	"github.com/veilnet/veilnetd/netid"
)

// Dispatcher is the collaborator that performs request/response
// correlation and remote procedure semantics over the wire.  The facade
// resolves destinations and merges headers, then forwards here.
type Dispatcher interface {
	// Notify transmits a fire-and-forget message on the connection.
	Notify(conn Connection, msg Message) error

	// Request transmits a message that expects exactly one eventual
	// reply and registers the handler for it.  The handler is
	// guaranteed to be invoked exactly once with a terminal outcome:
	// success, failure, timeout, or abandonment when the peer's
	// connection is lost.
	Request(conn Connection, peer netid.ID, msg Message, handler ResponseHandler)
}

// Network is the single entry point for all outgoing overlay traffic.
// It is polymorphic over the backing transport: any implementation that
// can resolve identifiers, send raw bytes, dispatch notifications and
// requests, and fan a broadcast out to the current peer set satisfies
// it.
//
// Implementations must be safe for concurrent callers.
type Network interface {
	// SetHeaders replaces the protocol metadata attached to every
	// outgoing notification and request.  The headers must contain a
	// HeaderMethod entry before any notification or request is sent.
	SetHeaders(headers Message)

	// GetHeaders returns a copy of the current protocol metadata.
	GetHeaders() Message

	// GetConnection resolves an identifier to its live connection.
	GetConnection(id netid.ID) (Connection, bool)

	// SendNotification merges the current headers into the notification
	// and dispatches it to the given peer with no expectation of a
	// reply.
	SendNotification(notification Message, to netid.ID) error

	// SendRequest merges the current headers into the request and
	// dispatches it to the given peer.  The handler is invoked exactly
	// once with the terminal outcome, including when the peer can not
	// be resolved at all, so callers never need a separate synchronous
	// error path.
	SendRequest(request Message, to netid.ID, handler ResponseHandler)

	// Broadcast sends the raw bytes verbatim to every currently
	// registered peer.  Headers are not merged and no reply is
	// correlated.  Failure to reach one peer does not prevent delivery
	// attempts to the others.
	Broadcast(data []byte) error

	// Send transmits the raw bytes directly to the given peer,
	// bypassing headers and request correlation.
	Send(data []byte, to netid.ID) error
}

// Net is the standard Network implementation.  It routes notifications
// and requests through a Dispatcher and raw sends directly to the
// resolved connections.
type Net struct {
	HeaderStore

	registry *Registry
	disp     Dispatcher
}

// Ensure Net implements the Network interface.
var _ Network = (*Net)(nil)

// NewNet returns a network facade that resolves identifiers against the
// given registry and forwards notifications and requests to the given
// dispatcher.
func NewNet(registry *Registry, disp Dispatcher) *Net {
	return &Net{
		registry: registry,
		disp:     disp,
	}
}

// GetConnection resolves an identifier to its live connection.  The
// second return value reports whether the peer is currently reachable.
//
// This function is part of the Network interface.
func (n *Net) GetConnection(id netid.ID) (Connection, bool) {
	return n.registry.Get(id)
}

// resolve merges the configured headers into msg and looks the peer up,
// enforcing the send-time header contract.
func (n *Net) resolve(msg Message, to netid.ID) (Message, Connection, error) {
	merged, haveMethod := n.merge(msg)
	if !haveMethod {
		str := fmt.Sprintf("headers have no %q entry", HeaderMethod)
		return nil, nil, makeError(ErrNoMethod, str)
	}
	conn, ok := n.registry.Get(to)
	if !ok {
		str := fmt.Sprintf("no connection to peer %s", to)
		return nil, nil, makeError(ErrUnknownPeer, str)
	}
	return merged, conn, nil
}

// SendNotification merges the current headers into the notification,
// with headers taking precedence on key conflicts, and dispatches it to
// the given peer.  An error is returned when the headers carry no
// HeaderMethod entry or the peer has no live connection.
//
// This function is part of the Network interface.
func (n *Net) SendNotification(notification Message, to netid.ID) error {
	merged, conn, err := n.resolve(notification, to)
	if err != nil {
		return err
	}
	return n.disp.Notify(conn, merged)
}

// SendRequest merges the current headers into the request, with headers
// taking precedence on key conflicts, and dispatches it to the given
// peer.  The handler is invoked exactly once with the terminal outcome.
// When the headers carry no HeaderMethod entry or the peer has no live
// connection, the handler receives that failure asynchronously instead
// of the call reporting it, keeping a single completion path for
// callers.
//
// This function is part of the Network interface.
func (n *Net) SendRequest(request Message, to netid.ID, handler ResponseHandler) {
	merged, conn, err := n.resolve(request, to)
	if err != nil {
		log.Debugf("Failing request to %s immediately: %v", to, err)
		go handler(Response{Peer: to, Err: err})
		return
	}
	n.disp.Request(conn, to, merged, handler)
}

// Broadcast sends the raw bytes verbatim to every peer registered at
// call time, in no guaranteed order.  Headers are not merged.  Send
// failures are isolated per peer and collected into the returned
// *BroadcastError; nil is returned when every peer was reached.
//
// This function is part of the Network interface.
func (n *Net) Broadcast(data []byte) error {
	var failures map[netid.ID]error
	for id, conn := range n.registry.All() {
		err := conn.Send(data)
		if err == nil {
			continue
		}
		log.Debugf("Broadcast to %s failed: %v", id, err)
		if failures == nil {
			failures = make(map[netid.ID]error)
		}
		failures[id] = makeError(ErrSendFailed, err.Error())
	}
	if len(failures) > 0 {
		return &BroadcastError{Failures: failures}
	}
	return nil
}

// Send transmits the raw bytes directly to the given peer, bypassing
// headers and request correlation.  An error is returned when the peer
// has no live connection or the connection fails the send.
//
// This function is part of the Network interface.
func (n *Net) Send(data []byte, to netid.ID) error {
	conn, ok := n.registry.Get(to)
	if !ok {
		str := fmt.Sprintf("no connection to peer %s", to)
		return makeError(ErrUnknownPeer, str)
	}
	err := conn.Send(data)
	if err != nil {
		return Error{
			Err:         ErrSendFailed,
			Description: fmt.Sprintf("send to %s: %v", to, err),
		}
	}
	return nil
}
