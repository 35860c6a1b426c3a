// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcdisp

// ErrorKind identifies a kind of error.  It has full support for
// errors.Is and errors.As, so the caller can directly check against an
// error kind when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrRequestTimeout indicates no response arrived for a request
	// within the configured timeout.
	ErrRequestTimeout = ErrorKind("ErrRequestTimeout")

	// ErrPeerAbandoned indicates the connection to the peer a request
	// was outstanding against was removed before a response arrived.
	ErrPeerAbandoned = ErrorKind("ErrPeerAbandoned")

	// ErrDispatcherStopped indicates the dispatcher was stopped while
	// the request was outstanding or before it was issued.
	ErrDispatcherStopped = ErrorKind("ErrDispatcherStopped")

	// ErrSendFailed indicates the connection rejected or failed the
	// transmission of the request.
	ErrSendFailed = ErrorKind("ErrSendFailed")

	// ErrRemote indicates the remote peer resolved the request with an
	// error instead of a result.
	ErrRemote = ErrorKind("ErrRemote")

	// ErrMalformedEnvelope indicates an incoming frame could not be
	// decoded as a dispatch envelope.
	ErrMalformedEnvelope = ErrorKind("ErrMalformedEnvelope")

	// ErrUnknownMethod indicates an incoming notification or request
	// named a method with no registered handler.
	ErrUnknownMethod = ErrorKind("ErrUnknownMethod")

	// ErrDuplicateMethod indicates an attempt to register a handler for
	// a method that already has one.
	ErrDuplicateMethod = ErrorKind("ErrDuplicateMethod")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to request dispatch.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
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
