// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import "github.com/veilnet/veilnetd/netid"

// HeaderMethod is the header key that names the remote procedure an
// outgoing notification or request targets.  The configured headers must
// contain this key before any notification or request is sent.
const HeaderMethod = "method"

// Message is the unit of protocol communication: an arbitrary mapping of
// string keys to values.  The dispatch layer never interprets the values
// beyond merging the configured headers into outgoing messages.
type Message map[string]interface{}

// Copy returns a new message with the same top-level key/value pairs.
func (m Message) Copy() Message {
	c := make(Message, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Response is the terminal outcome of a request.  Exactly one response
// is delivered per issued request: either Body carries the remote reply,
// or Err describes why no reply will ever arrive (routing failure,
// transport failure, timeout, peer loss, or dispatcher shutdown).
type Response struct {
	// Peer is the identifier the originating request was addressed to.
	Peer netid.ID

	// Body is the reply payload.  It is nil when Err is set.
	Body Message

	// Err is the failure the request was resolved with, or nil on
	// success.
	Err error
}

// ResponseHandler is invoked exactly once with the terminal outcome of a
// request.  Handlers carry no ownership of the network facade and may
// issue further sends from within the callback.
type ResponseHandler func(Response)
