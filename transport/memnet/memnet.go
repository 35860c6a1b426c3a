// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package memnet provides an in-process transport for the overlay.
//
// A memnet pipe links two connections so that bytes sent on one side are
// delivered, in order, to the receiver function installed on the other
// side.  It carries real protocol traffic without sockets, which makes
// it the transport of choice for exercising protocol logic in tests and
// simulations.
package memnet

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send when either side of the pipe has been
// closed.
var ErrClosed = errors.New("connection closed")

// sendBufferSize is the number of frames a side of the pipe will queue
// before Send blocks waiting on the remote receiver.
const sendBufferSize = 64

// pipeState is the state shared by the two linked connections.
type pipeState struct {
	quit      chan struct{}
	closeOnce sync.Once
}

func (p *pipeState) close() {
	p.closeOnce.Do(func() { close(p.quit) })
}

// Conn is one side of an in-process pipe.  It implements the overlay
// Connection interface.
//
// OnReceive must be installed before the far side sends more traffic
// than the pipe buffers, since undeliverable frames eventually block the
// sender.
type Conn struct {
	pipe       *pipeState
	in         chan []byte
	peerIn     chan []byte
	remoteAddr string
	recvOnce   sync.Once
}

// Pipe returns two linked in-process connections.  Bytes sent on one are
// delivered to the receiver installed on the other.  The addresses are
// only used for logging.
func Pipe(addrA, addrB string) (*Conn, *Conn) {
	pipe := &pipeState{quit: make(chan struct{})}
	aIn := make(chan []byte, sendBufferSize)
	bIn := make(chan []byte, sendBufferSize)
	a := &Conn{pipe: pipe, in: aIn, peerIn: bIn, remoteAddr: addrB}
	b := &Conn{pipe: pipe, in: bIn, peerIn: aIn, remoteAddr: addrA}
	return a, b
}

// OnReceive installs the receiver invoked, from a single goroutine and
// in send order, for every frame the far side sends.  It may only be
// installed once; further calls are ignored.
func (c *Conn) OnReceive(recv func(data []byte)) {
	c.recvOnce.Do(func() {
		go func() {
			for {
				select {
				case data := <-c.in:
					recv(data)
				case <-c.pipe.quit:
					return
				}
			}
		}()
	})
}

// Send queues the bytes for delivery to the far side's receiver.
// ErrClosed is returned when the pipe has been closed.
//
// This function is part of the overlay Connection interface.
func (c *Conn) Send(data []byte) error {
	// The pipe owns the buffer from here on, so callers remain free to
	// reuse theirs.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-c.pipe.quit:
		return ErrClosed
	default:
	}
	select {
	case c.peerIn <- buf:
		return nil
	case <-c.pipe.quit:
		return ErrClosed
	}
}

// Close tears the pipe down.  Both sides fail further sends with
// ErrClosed and frames not yet delivered are dropped.
//
// This function is part of the overlay Connection interface.
func (c *Conn) Close() error {
	c.pipe.close()
	return nil
}

// RemoteAddr returns the label of the far side of the pipe.
//
// This function is part of the overlay Connection interface.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
