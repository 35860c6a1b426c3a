// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"sync"

	"github.com/veilnet/veilnetd/netid"
)

// Connection is a single addressable channel to one remote peer.  It is
// implemented by the transport subsystem, which also owns its lifecycle;
// the overlay only looks connections up and writes to them.
type Connection interface {
	// Send transmits the raw bytes to the remote peer or returns an
	// error when the connection rejects or fails the send.  Calls made
	// to a single connection are transmitted in the order they were
	// issued.
	Send(data []byte) error

	// Close tears the connection down.  It is only invoked by the
	// owning transport subsystem.
	Close() error

	// RemoteAddr returns a human-readable form of the transport
	// endpoint for logging.
	RemoteAddr() string
}

// Registry maps peer identifiers to their live connections.  It is safe
// for concurrent access, so lookups by concurrent senders may race
// freely with additions and removals driven by the connection management
// subsystem.  A lookup that races with a removal reports the peer as not
// found rather than returning a stale connection.
//
// The registry holds at most one connection per identifier at any time.
type Registry struct {
	mtx      sync.RWMutex
	conns    map[netid.ID]Connection
	onRemove func(netid.ID, Connection)
}

// NewRegistry returns a new empty connection registry.  The optional
// onRemove hook is invoked, without internal locks held, for every entry
// that is removed or replaced; the dispatcher uses it to abandon
// requests that are outstanding against a lost peer.
func NewRegistry(onRemove func(netid.ID, Connection)) *Registry {
	return &Registry{
		conns:    make(map[netid.ID]Connection),
		onRemove: onRemove,
	}
}

// Add registers the connection for the given identifier.  When the
// identifier already had a connection, the previous one is replaced and
// treated as removed.
func (r *Registry) Add(id netid.ID, conn Connection) {
	r.mtx.Lock()
	prev, hadPrev := r.conns[id]
	r.conns[id] = conn
	r.mtx.Unlock()

	if hadPrev && prev != conn {
		log.Debugf("Replaced connection for peer %s", id)
		if r.onRemove != nil {
			r.onRemove(id, prev)
		}
	}
}

// RemoveConn drops the registry entry for the given identifier only
// when it still maps to the given connection and reports whether an
// entry was removed.  Transport read loops use it on exit so a loop
// belonging to a connection that has already been replaced does not
// tear down the replacement.
func (r *Registry) RemoveConn(id netid.ID, conn Connection) bool {
	r.mtx.Lock()
	cur, ok := r.conns[id]
	removed := ok && cur == conn
	if removed {
		delete(r.conns, id)
	}
	r.mtx.Unlock()

	if removed && r.onRemove != nil {
		r.onRemove(id, conn)
	}
	return removed
}

// Remove drops the registry entry for the given identifier, if any, and
// reports whether an entry was removed.
func (r *Registry) Remove(id netid.ID) bool {
	r.mtx.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mtx.Unlock()

	if ok && r.onRemove != nil {
		r.onRemove(id, conn)
	}
	return ok
}

// Get resolves an identifier to its live connection.  The second return
// value reports whether a connection exists; callers must treat absence
// as a routing failure rather than retrying internally.
func (r *Registry) Get(id netid.ID) (Connection, bool) {
	r.mtx.RLock()
	conn, ok := r.conns[id]
	r.mtx.RUnlock()
	return conn, ok
}

// All returns a snapshot of the current identifier to connection
// mapping.  Mutating the returned map has no effect on the registry.
func (r *Registry) All() map[netid.ID]Connection {
	r.mtx.RLock()
	conns := make(map[netid.ID]Connection, len(r.conns))
	for id, conn := range r.conns {
		conns[id] = conn
	}
	r.mtx.RUnlock()
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mtx.RLock()
	n := len(r.conns)
	r.mtx.RUnlock()
	return n
}
