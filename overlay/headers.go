// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import "sync"

// HeaderStore holds the process-wide protocol metadata that is merged
// into every outgoing notification and request.  It is safe for
// concurrent access.
//
// A send observes the headers as a complete snapshot at the moment of
// sending, never a partially-updated set, and a header mutation is
// visible to all subsequently dispatched messages without affecting
// messages already handed to the transport.
type HeaderStore struct {
	mtx     sync.RWMutex
	headers Message
}

// SetHeaders replaces the current header mapping wholesale.  The passed
// message is copied, so later caller mutations have no effect on the
// stored headers.
//
// The headers must contain a HeaderMethod entry before any notification
// or request is sent; the store itself does not validate this since
// validation happens at send time.
func (s *HeaderStore) SetHeaders(headers Message) {
	headers = headers.Copy()
	s.mtx.Lock()
	s.headers = headers
	s.mtx.Unlock()
}

// GetHeaders returns a copy of the current header mapping.  Mutating the
// returned message does not affect the stored headers.
func (s *HeaderStore) GetHeaders() Message {
	s.mtx.RLock()
	headers := s.headers.Copy()
	s.mtx.RUnlock()
	return headers
}

// merge returns a copy of msg with the current headers merged in.  On
// key conflict the stored header wins, so protocol metadata can not be
// overridden by caller-supplied keys bearing the same name.  The second
// return value reports whether the snapshot contained a HeaderMethod
// entry.
func (s *HeaderStore) merge(msg Message) (Message, bool) {
	s.mtx.RLock()
	merged := make(Message, len(msg)+len(s.headers))
	for k, v := range msg {
		merged[k] = v
	}
	for k, v := range s.headers {
		merged[k] = v
	}
	_, haveMethod := s.headers[HeaderMethod]
	s.mtx.RUnlock()
	return merged, haveMethod
}
