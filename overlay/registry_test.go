// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"sync"
	"testing"

	"github.com/veilnet/veilnetd/netid"
)

// TestRegistry exercises add, lookup, removal, and the removal hook.
func TestRegistry(t *testing.T) {
	type removal struct {
		id   netid.ID
		conn Connection
	}
	var removed []removal
	reg := NewRegistry(func(id netid.ID, conn Connection) {
		removed = append(removed, removal{id, conn})
	})

	peerA, peerB := netid.New(), netid.New()
	connA := &mockConn{addr: "peer a"}
	connB := &mockConn{addr: "peer b"}

	reg.Add(peerA, connA)
	reg.Add(peerB, connB)
	if reg.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", reg.Len())
	}

	if conn, ok := reg.Get(peerA); !ok || conn != Connection(connA) {
		t.Fatalf("Get: got (%v, %v), want (%v, true)", conn, ok, connA)
	}
	if _, ok := reg.Get(netid.New()); ok {
		t.Fatal("Get: found connection for unregistered identifier")
	}

	// Snapshot is a copy.
	all := reg.All()
	delete(all, peerA)
	if _, ok := reg.Get(peerA); !ok {
		t.Fatal("All: snapshot mutation affected registry")
	}

	// Replacing a connection counts as removing the previous one.
	connA2 := &mockConn{addr: "peer a (reconnected)"}
	reg.Add(peerA, connA2)
	if len(removed) != 1 || removed[0].conn != Connection(connA) {
		t.Fatalf("Add: replacement did not report old connection removed")
	}
	if conn, _ := reg.Get(peerA); conn != Connection(connA2) {
		t.Fatal("Add: replacement not visible in lookups")
	}

	// Removal fires the hook and reports whether an entry existed.
	if !reg.Remove(peerB) {
		t.Fatal("Remove: existing entry reported as absent")
	}
	if reg.Remove(peerB) {
		t.Fatal("Remove: absent entry reported as removed")
	}
	if len(removed) != 2 || removed[1].id != peerB {
		t.Fatalf("Remove: hook not fired for peer b")
	}
	if _, ok := reg.Get(peerB); ok {
		t.Fatal("Get: removed entry still resolvable")
	}
}

// TestRegistryRemoveConn ensures conditional removal only drops an
// entry still mapped to the given connection, so a read loop winding
// down after its connection was replaced can not tear down the
// replacement for the same peer.
func TestRegistryRemoveConn(t *testing.T) {
	type removal struct {
		id   netid.ID
		conn Connection
	}
	var removed []removal
	reg := NewRegistry(func(id netid.ID, conn Connection) {
		removed = append(removed, removal{id, conn})
	})

	peer := netid.New()
	stale := &mockConn{addr: "peer (original)"}
	fresh := &mockConn{addr: "peer (reconnected)"}

	// Reconnect under the same identifier replaces the original
	// connection and reports it removed.
	reg.Add(peer, stale)
	reg.Add(peer, fresh)
	if len(removed) != 1 || removed[0].conn != Connection(stale) {
		t.Fatal("Add: replacement did not report old connection removed")
	}

	// The stale connection's teardown must leave the replacement
	// registered and must not fire the hook again.
	if reg.RemoveConn(peer, stale) {
		t.Fatal("RemoveConn: removed entry owned by another connection")
	}
	if conn, ok := reg.Get(peer); !ok || conn != Connection(fresh) {
		t.Fatalf("Get: got (%v, %v), want (%v, true)", conn, ok, fresh)
	}
	if len(removed) != 1 {
		t.Fatalf("RemoveConn: hook fired %d times, want 1", len(removed))
	}

	// The owning connection removes its own entry normally.
	if !reg.RemoveConn(peer, fresh) {
		t.Fatal("RemoveConn: entry owned by connection not removed")
	}
	if _, ok := reg.Get(peer); ok {
		t.Fatal("Get: removed entry still resolvable")
	}
	if len(removed) != 2 || removed[1].conn != Connection(fresh) {
		t.Fatal("RemoveConn: hook not fired for owned removal")
	}

	// Absent entries are reported as not removed.
	if reg.RemoveConn(peer, fresh) {
		t.Fatal("RemoveConn: absent entry reported as removed")
	}
}

// TestRegistryConcurrency ensures lookups racing with additions and
// removals never observe stale or partial state.  It is primarily
// intended to be run with the race detector enabled.
func TestRegistryConcurrency(t *testing.T) {
	reg := NewRegistry(nil)
	ids := make([]netid.ID, 8)
	for i := range ids {
		ids[i] = netid.New()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				id := ids[j%len(ids)]
				reg.Add(id, &mockConn{})
				reg.Get(id)
				reg.All()
				reg.Remove(id)
			}
		}()
	}
	wg.Wait()

	// Every added entry was also removed, though interleavings may make
	// removals race; the registry must end up with no dangling state
	// beyond possibly re-added entries.
	if reg.Len() > len(ids) {
		t.Fatalf("Len: got %d, want at most %d", reg.Len(), len(ids))
	}
}
