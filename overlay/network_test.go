// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/veilnet/veilnetd/netid"
)

// mockConn implements the Connection interface for tests.  Sends are
// recorded and fail when failErr is set.
type mockConn struct {
	mtx     sync.Mutex
	sent    [][]byte
	failErr error
	addr    string
}

func (c *mockConn) Send(data []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) RemoteAddr() string { return c.addr }

func (c *mockConn) sentData() [][]byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([][]byte(nil), c.sent...)
}

// mockDispatcher implements the Dispatcher interface for tests by
// recording the messages forwarded to it.
type mockDispatcher struct {
	mtx       sync.Mutex
	notifies  []Message
	requests  []Message
	notifyErr error
	respond   func(Message) Response
}

func (d *mockDispatcher) Notify(conn Connection, msg Message) error {
	d.mtx.Lock()
	d.notifies = append(d.notifies, msg)
	d.mtx.Unlock()
	return d.notifyErr
}

func (d *mockDispatcher) Request(conn Connection, peer netid.ID, msg Message, handler ResponseHandler) {
	d.mtx.Lock()
	d.requests = append(d.requests, msg)
	respond := d.respond
	d.mtx.Unlock()

	resp := Response{Peer: peer, Body: Message{"ok": true}}
	if respond != nil {
		resp = respond(msg)
	}
	go handler(resp)
}

func (d *mockDispatcher) lastNotify() Message {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if len(d.notifies) == 0 {
		return nil
	}
	return d.notifies[len(d.notifies)-1]
}

func (d *mockDispatcher) lastRequest() Message {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if len(d.requests) == 0 {
		return nil
	}
	return d.requests[len(d.requests)-1]
}

// awaitResponse waits for a response delivered on the given channel and
// fails the test when none arrives in a reasonable time.
func awaitResponse(t *testing.T, ch chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response handler invocation")
		panic("unreachable")
	}
}

// TestHeaderStore ensures header get/set round trips with value
// semantics in both directions.
func TestHeaderStore(t *testing.T) {
	var store HeaderStore

	// Headers start empty, never nil.
	if got := store.GetHeaders(); len(got) != 0 {
		t.Fatalf("GetHeaders on empty store: got %s", spew.Sdump(got))
	}

	headers := Message{HeaderMethod: "ping", "session": "d34d"}
	store.SetHeaders(headers)

	// Mutating the mapping passed to SetHeaders must not affect the
	// stored headers.
	headers["session"] = "mutated"
	got := store.GetHeaders()
	if got["session"] != "d34d" {
		t.Errorf("stored headers affected by caller mutation: got %s",
			spew.Sdump(got))
	}

	// Mutating the mapping returned by GetHeaders must not affect the
	// stored headers either.
	got[HeaderMethod] = "spoofed"
	if again := store.GetHeaders(); again[HeaderMethod] != "ping" {
		t.Errorf("stored headers affected by reader mutation: got %s",
			spew.Sdump(again))
	}
}

// TestSendNotification ensures the header merge, precedence, and routing
// failure behavior of the notification path.
func TestSendNotification(t *testing.T) {
	peerA := netid.New()
	unknown := netid.New()

	tests := []struct {
		name         string
		headers      Message
		notification Message
		to           netid.ID
		wantErr      error
		want         Message
	}{{
		name:         "headers merged into notification",
		headers:      Message{HeaderMethod: "ping", "session": "s1"},
		notification: Message{"arg": 1},
		to:           peerA,
		want:         Message{HeaderMethod: "ping", "session": "s1", "arg": 1},
	}, {
		name:         "headers win on key conflict",
		headers:      Message{HeaderMethod: "ping"},
		notification: Message{HeaderMethod: "spoofed", "arg": 2},
		to:           peerA,
		want:         Message{HeaderMethod: "ping", "arg": 2},
	}, {
		name:         "missing method header rejected",
		headers:      Message{"session": "s1"},
		notification: Message{"arg": 3},
		to:           peerA,
		wantErr:      ErrNoMethod,
	}, {
		name:         "unknown peer is a routing error",
		headers:      Message{HeaderMethod: "ping"},
		notification: Message{"arg": 4},
		to:           unknown,
		wantErr:      ErrUnknownPeer,
	}}

	for _, test := range tests {
		disp := &mockDispatcher{}
		net := NewNet(NewRegistry(nil), disp)
		net.registry.Add(peerA, &mockConn{addr: "peer a"})
		net.SetHeaders(test.headers)

		err := net.SendNotification(test.notification, test.to)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error - got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if test.wantErr != nil {
			if disp.lastNotify() != nil {
				t.Errorf("%q: notification dispatched despite error",
					test.name)
			}
			continue
		}

		got := disp.lastNotify()
		if len(got) != len(test.want) {
			t.Errorf("%q: wrong merged message - got %s, want %s",
				test.name, spew.Sdump(got), spew.Sdump(test.want))
			continue
		}
		for k, v := range test.want {
			if got[k] != v {
				t.Errorf("%q: wrong value for key %q - got %v, want %v",
					test.name, k, got[k], v)
			}
		}
	}
}

// TestSendRequest ensures the request path delivers exactly one handler
// invocation for both dispatched requests and immediate routing
// failures.
func TestSendRequest(t *testing.T) {
	peerA := netid.New()
	unknown := netid.New()

	tests := []struct {
		name    string
		headers Message
		to      netid.ID
		wantErr error
	}{{
		name:    "dispatched request completes",
		headers: Message{HeaderMethod: "ping"},
		to:      peerA,
	}, {
		name:    "unknown peer fails via handler",
		headers: Message{HeaderMethod: "ping"},
		to:      unknown,
		wantErr: ErrUnknownPeer,
	}, {
		name:    "missing method fails via handler",
		headers: Message{},
		to:      peerA,
		wantErr: ErrNoMethod,
	}}

	for _, test := range tests {
		disp := &mockDispatcher{}
		net := NewNet(NewRegistry(nil), disp)
		net.registry.Add(peerA, &mockConn{addr: "peer a"})
		net.SetHeaders(test.headers)

		responses := make(chan Response, 2)
		net.SendRequest(Message{"arg": 1}, test.to, func(resp Response) {
			responses <- resp
		})

		resp := awaitResponse(t, responses)
		if !errors.Is(resp.Err, test.wantErr) {
			t.Errorf("%q: unexpected response error - got %v, want %v",
				test.name, resp.Err, test.wantErr)
		}
		if resp.Peer != test.to {
			t.Errorf("%q: wrong response peer - got %v, want %v",
				test.name, resp.Peer, test.to)
		}

		// No second invocation may follow.
		select {
		case resp := <-responses:
			t.Errorf("%q: handler invoked more than once: %s", test.name,
				spew.Sdump(resp))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestSend ensures raw sends bypass headers and are routed directly to
// the resolved connection.
func TestSend(t *testing.T) {
	peerA := netid.New()
	connA := &mockConn{addr: "peer a"}
	net := NewNet(NewRegistry(nil), &mockDispatcher{})
	net.registry.Add(peerA, connA)

	// No headers configured on purpose: raw sends must not require any.
	data := []byte{0xca, 0xfe}
	if err := net.Send(data, peerA); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := connA.sentData()
	if len(sent) != 1 || string(sent[0]) != string(data) {
		t.Fatalf("Send: wrong data on connection: %s", spew.Sdump(sent))
	}

	// Unknown peer is a routing error.
	err := net.Send(data, netid.New())
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("Send to unknown peer: got %v, want %v", err,
			ErrUnknownPeer)
	}

	// Transport failure surfaces as ErrSendFailed.
	connA.failErr = errors.New("broken pipe")
	err = net.Send(data, peerA)
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("Send on failing connection: got %v, want %v", err,
			ErrSendFailed)
	}
}

// TestBroadcast ensures broadcast reaches every registered connection
// with per-peer failure isolation and no header involvement.
func TestBroadcast(t *testing.T) {
	net := NewNet(NewRegistry(nil), &mockDispatcher{})

	good1 := &mockConn{addr: "good 1"}
	good2 := &mockConn{addr: "good 2"}
	bad := &mockConn{addr: "bad", failErr: errors.New("broken pipe")}
	badID := netid.New()
	net.registry.Add(netid.New(), good1)
	net.registry.Add(netid.New(), good2)
	net.registry.Add(badID, bad)

	data := []byte("round 7 ciphertext")
	err := net.Broadcast(data)

	var berr *BroadcastError
	if !errors.As(err, &berr) {
		t.Fatalf("Broadcast: got %v, want *BroadcastError", err)
	}
	if len(berr.Failures) != 1 {
		t.Fatalf("Broadcast: wrong failure count: %s", spew.Sdump(berr))
	}
	if _, ok := berr.Failures[badID]; !ok {
		t.Fatalf("Broadcast: failure not attributed to failing peer: %s",
			spew.Sdump(berr))
	}

	// The failing peer must not have prevented delivery to the others,
	// and the data must arrive unmodified.
	for _, conn := range []*mockConn{good1, good2} {
		sent := conn.sentData()
		if len(sent) != 1 || string(sent[0]) != string(data) {
			t.Errorf("Broadcast: wrong data on %s: %s", conn.addr,
				spew.Sdump(sent))
		}
	}

	// All deliverable: no error.
	bad.failErr = nil
	if err := net.Broadcast(data); err != nil {
		t.Fatalf("Broadcast with all peers reachable: %v", err)
	}
}

// TestBroadcastEmptyRegistry ensures broadcasting to no peers succeeds
// trivially.
func TestBroadcastEmptyRegistry(t *testing.T) {
	net := NewNet(NewRegistry(nil), &mockDispatcher{})
	if err := net.Broadcast([]byte("anyone there")); err != nil {
		t.Fatalf("Broadcast on empty registry: %v", err)
	}
}

// TestGetConnection ensures identifier resolution reports absence
// explicitly.
func TestGetConnection(t *testing.T) {
	peerA := netid.New()
	connA := &mockConn{addr: "peer a"}
	net := NewNet(NewRegistry(nil), &mockDispatcher{})
	net.registry.Add(peerA, connA)

	if conn, ok := net.GetConnection(peerA); !ok || conn != Connection(connA) {
		t.Fatalf("GetConnection: got (%v, %v), want (%v, true)", conn, ok,
			connA)
	}
	if conn, ok := net.GetConnection(netid.New()); ok || conn != nil {
		t.Fatalf("GetConnection for unknown peer: got (%v, %v)", conn, ok)
	}
}
