// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veilnet/veilnetd/netid"
)

// ErrorKind identifies a kind of error.  It has full support for
// errors.Is and errors.As, so the caller can directly check against an
// error kind when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrUnknownPeer indicates the target identifier has no live
	// connection in the registry.
	ErrUnknownPeer = ErrorKind("ErrUnknownPeer")

	// ErrNoMethod indicates an attempt to send a notification or request
	// while the configured headers do not contain a "method" entry.
	ErrNoMethod = ErrorKind("ErrNoMethod")

	// ErrSendFailed indicates the connection rejected or failed a send.
	ErrSendFailed = ErrorKind("ErrSendFailed")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to overlay message dispatch.  It has
// full support for errors.Is and errors.As, so the caller can ascertain
// the specific reason for the error by checking the underlying error.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

// BroadcastError describes the peers a broadcast failed to reach.  The
// broadcast itself is best effort, so a failure for one peer never
// prevents delivery attempts to the remaining peers; the per-peer
// failures are collected here instead.
type BroadcastError struct {
	// Failures maps each peer the send failed for to the send error.
	Failures map[netid.ID]error
}

// Error satisfies the error interface and prints human-readable errors.
func (e *BroadcastError) Error() string {
	peers := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		peers = append(peers, id.String())
	}
	sort.Strings(peers)
	return fmt.Sprintf("broadcast failed for %d peer(s): %s",
		len(e.Failures), strings.Join(peers, ", "))
}
