// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcdisp implements the request/response correlation protocol
// the overlay network facade forwards notifications and requests to.
//
// Every request is assigned a random nonzero correlation token and
// entered into a pending table keyed by it.  Completing a request
// removes its table entry before the handler runs, so the exactly-once
// completion contract is enforced structurally: whichever of response
// arrival, timeout, transmission failure, peer abandonment, or
// dispatcher shutdown reaches the entry first resolves the request, and
// the rest find nothing to resolve.
package rpcdisp

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/veilnet/veilnetd/netid"
	"github.com/veilnet/veilnetd/overlay"
)

const (
	// defaultRequestTimeout is the time to wait for a response before a
	// request is resolved with ErrRequestTimeout.
	defaultRequestTimeout = 30 * time.Second

	// completedTokenLimit is the maximum number of recently completed
	// correlation tokens remembered in order to tell a late duplicate
	// response apart from a response that was never requested.
	completedTokenLimit = 4096

	// completedTokenTTL is how long completed correlation tokens are
	// remembered.
	completedTokenTTL = 5 * time.Minute
)

// MethodHandler serves an incoming notification or request for one
// method.  The returned message is sent back as the response body for
// requests and discarded for notifications.  Returning an error resolves
// the remote request with that error instead of a result.
type MethodHandler func(peer netid.ID, body overlay.Message) (overlay.Message, error)

// Config holds the dispatcher configuration options.
type Config struct {
	// RequestTimeout is the time to wait for a response before an
	// outstanding request is resolved with ErrRequestTimeout.  It
	// defaults to 30 seconds when zero.
	RequestTimeout time.Duration
}

// pendingRequest tracks one outstanding request in the pending table.
type pendingRequest struct {
	peer    netid.ID
	handler overlay.ResponseHandler
	timer   *time.Timer
}

// Dispatcher performs request/response correlation for the overlay.  It
// implements overlay.Dispatcher for the outbound direction and serves
// the inbound direction through HandleIncoming and the registered method
// handlers.  It is safe for concurrent access.
type Dispatcher struct {
	cfg Config

	mtx       sync.Mutex
	pending   map[uint64]*pendingRequest
	stopped   bool
	completed *lru.Set[uint64]

	methodsMtx sync.RWMutex
	methods    map[string]MethodHandler
}

// Ensure Dispatcher implements the overlay.Dispatcher interface.
var _ overlay.Dispatcher = (*Dispatcher)(nil)

// New returns a new dispatcher with the provided configuration.
func New(cfg *Config) *Dispatcher {
	d := Dispatcher{
		cfg:       *cfg, // Copy so caller can't mutate
		pending:   make(map[uint64]*pendingRequest),
		completed: lru.NewSetWithDefaultTTL[uint64](completedTokenLimit, completedTokenTTL),
		methods:   make(map[string]MethodHandler),
	}
	if d.cfg.RequestTimeout <= 0 {
		d.cfg.RequestTimeout = defaultRequestTimeout
	}
	return &d
}

// Register installs the handler for incoming notifications and requests
// naming the given method.  An ErrDuplicateMethod error is returned when
// the method already has a handler.
func (d *Dispatcher) Register(method string, handler MethodHandler) error {
	d.methodsMtx.Lock()
	defer d.methodsMtx.Unlock()

	if _, ok := d.methods[method]; ok {
		str := fmt.Sprintf("method %q already has a handler", method)
		return makeError(ErrDuplicateMethod, str)
	}
	d.methods[method] = handler
	return nil
}

// method returns the handler registered for the given method name.
func (d *Dispatcher) method(name string) (MethodHandler, bool) {
	d.methodsMtx.RLock()
	handler, ok := d.methods[name]
	d.methodsMtx.RUnlock()
	return handler, ok
}

// Notify transmits a fire-and-forget message on the connection.
//
// This function is part of the overlay.Dispatcher interface.
func (d *Dispatcher) Notify(conn overlay.Connection, msg overlay.Message) error {
	data, err := marshalEnvelope(&envelope{Kind: kindNotify, Body: msg})
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		str := fmt.Sprintf("notify %s: %v", conn.RemoteAddr(), err)
		return makeError(ErrSendFailed, str)
	}
	return nil
}

// newToken generates a random correlation token that is nonzero and not
// currently pending.  It must be called with the pending table mutex
// held.
func (d *Dispatcher) newToken() uint64 {
	for {
		token := rand.Uint64()
		if token == 0 {
			continue
		}
		if _, ok := d.pending[token]; ok {
			continue
		}
		return token
	}
}

// complete resolves the outstanding request with the given token and
// reports whether an entry was resolved.  The entry is removed from the
// pending table before the handler is invoked, so at most one caller can
// ever resolve a given request.
func (d *Dispatcher) complete(token uint64, resp overlay.Response) bool {
	d.mtx.Lock()
	req, ok := d.pending[token]
	if ok {
		delete(d.pending, token)
		d.completed.Put(token)
	}
	d.mtx.Unlock()

	if !ok {
		return false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	resp.Peer = req.peer
	req.handler(resp)
	return true
}

// Request transmits a message that expects exactly one eventual reply
// and registers the handler for it.  The handler is invoked exactly once
// with the terminal outcome: the peer's response, a transmission
// failure, a timeout, abandonment when the peer's connection is removed,
// or dispatcher shutdown.
//
// This function is part of the overlay.Dispatcher interface.
func (d *Dispatcher) Request(conn overlay.Connection, peer netid.ID, msg overlay.Message, handler overlay.ResponseHandler) {
	d.mtx.Lock()
	if d.stopped {
		d.mtx.Unlock()
		err := makeError(ErrDispatcherStopped, "dispatcher has been stopped")
		go handler(overlay.Response{Peer: peer, Err: err})
		return
	}
	token := d.newToken()
	req := &pendingRequest{peer: peer, handler: handler}
	req.timer = time.AfterFunc(d.cfg.RequestTimeout, func() {
		str := fmt.Sprintf("no response from %s within %v", peer,
			d.cfg.RequestTimeout)
		d.complete(token, overlay.Response{Err: makeError(ErrRequestTimeout, str)})
	})
	d.pending[token] = req
	d.mtx.Unlock()

	data, err := marshalEnvelope(&envelope{
		Kind:  kindRequest,
		Token: token,
		Body:  msg,
	})
	if err != nil {
		d.complete(token, overlay.Response{Err: err})
		return
	}
	if err := conn.Send(data); err != nil {
		str := fmt.Sprintf("request to %s: %v", peer, err)
		d.complete(token, overlay.Response{Err: makeError(ErrSendFailed, str)})
	}
}

// AbandonPeer resolves every request outstanding against the given peer
// with ErrPeerAbandoned.  The connection management subsystem invokes it
// when the peer's connection is removed from the registry, so no request
// is ever left waiting on a peer that can no longer respond.
func (d *Dispatcher) AbandonPeer(id netid.ID) {
	d.mtx.Lock()
	var tokens []uint64
	for token, req := range d.pending {
		if req.peer == id {
			tokens = append(tokens, token)
		}
	}
	d.mtx.Unlock()

	if len(tokens) == 0 {
		return
	}
	log.Debugf("Abandoning %d outstanding request(s) to lost peer %s",
		len(tokens), id)
	str := fmt.Sprintf("connection to %s was removed", id)
	for _, token := range tokens {
		d.complete(token, overlay.Response{Err: makeError(ErrPeerAbandoned, str)})
	}
}

// Stop resolves every outstanding request with ErrDispatcherStopped and
// causes all future requests to resolve the same way immediately.
func (d *Dispatcher) Stop() {
	d.mtx.Lock()
	if d.stopped {
		d.mtx.Unlock()
		return
	}
	d.stopped = true
	tokens := make([]uint64, 0, len(d.pending))
	for token := range d.pending {
		tokens = append(tokens, token)
	}
	d.mtx.Unlock()

	err := makeError(ErrDispatcherStopped, "dispatcher has been stopped")
	for _, token := range tokens {
		d.complete(token, overlay.Response{Err: err})
	}
	log.Debug("Dispatcher stopped")
}

// serve runs the registered handler for an incoming notification or
// request and returns the response body or error for requests.
func (d *Dispatcher) serve(peer netid.ID, body overlay.Message) (overlay.Message, error) {
	name, ok := body[overlay.HeaderMethod].(string)
	if !ok || name == "" {
		str := fmt.Sprintf("message from %s names no method", peer)
		return nil, makeError(ErrUnknownMethod, str)
	}
	handler, ok := d.method(name)
	if !ok {
		str := fmt.Sprintf("no handler for method %q", name)
		return nil, makeError(ErrUnknownMethod, str)
	}
	return handler(peer, body)
}

// HandleIncoming processes one frame received from the given peer.  The
// transport read loop is expected to call it for every inbound frame.
//
// Responses resolve their matching outstanding request.  Requests are
// served through the registered method handlers with the reply sent back
// on conn carrying the request's token.  Notifications are served the
// same way with the result discarded.
func (d *Dispatcher) HandleIncoming(peer netid.ID, conn overlay.Connection, data []byte) error {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return err
	}

	switch env.Kind {
	case kindResponse:
		resp := overlay.Response{Body: env.Body}
		if env.Error != "" {
			resp.Body = nil
			resp.Err = makeError(ErrRemote, env.Error)
		}
		if !d.complete(env.Token, resp) {
			// Requests resolve exactly once, so anything that
			// arrives for an already resolved token is dropped.
			if d.completed.Contains(env.Token) {
				log.Debugf("Ignoring duplicate response for "+
					"token %d from %s", env.Token, peer)
			} else {
				log.Warnf("Ignoring response for unknown token "+
					"%d from %s", env.Token, peer)
			}
		}
		return nil

	case kindRequest:
		result, err := d.serve(peer, env.Body)
		reply := &envelope{Kind: kindResponse, Token: env.Token}
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Body = result
		}
		data, err := marshalEnvelope(reply)
		if err != nil {
			return err
		}
		if err := conn.Send(data); err != nil {
			str := fmt.Sprintf("response to %s: %v", peer, err)
			return makeError(ErrSendFailed, str)
		}
		return nil

	default: // kindNotify
		if _, err := d.serve(peer, env.Body); err != nil {
			log.Debugf("Notification from %s not served: %v", peer, err)
		}
		return nil
	}
}
