// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netid

import (
	"bytes"
	"testing"
)

// TestID tests the ID API.
func TestID(t *testing.T) {
	idStr := "2ef72b85fdcb3ebd4fba931bebbc5f81"
	id, err := NewFromStr(idStr)
	if err != nil {
		t.Fatalf("NewFromStr: %v", err)
	}
	if id.String() != idStr {
		t.Errorf("String: wrong result - got %v, want %v", id.String(),
			idStr)
	}
	if id.IsZero() {
		t.Error("IsZero: reported zero for nonzero identifier")
	}

	buf := id.Bytes()
	if !bytes.Equal(buf, id[:]) {
		t.Errorf("Bytes: wrong result - got %x, want %x", buf, id[:])
	}

	// Mutating the returned slice must not change the identifier.
	buf[0] ^= 0xff
	if bytes.Equal(buf, id[:]) {
		t.Error("Bytes: returned slice aliases internal array")
	}

	var id2 ID
	if err := id2.SetBytes(id.Bytes()); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if id2 != id {
		t.Errorf("SetBytes: round trip mismatch - got %v, want %v", id2,
			id)
	}

	// Invalid size.
	if err := id2.SetBytes([]byte{0x01}); err == nil {
		t.Error("SetBytes: no error on short input")
	}
	if _, err := NewFromBytes(make([]byte, Size+1)); err == nil {
		t.Error("NewFromBytes: no error on long input")
	}
}

// TestNewFromStr tests identifier parsing edge conditions.
func TestNewFromStr(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ID
		wantErr bool
	}{{
		name: "empty string yields zero identifier",
		in:   "",
		want: ID{},
	}, {
		name: "short string is left padded",
		in:   "ff",
		want: ID{15: 0xff},
	}, {
		name: "odd length string is left padded",
		in:   "f",
		want: ID{15: 0x0f},
	}, {
		name: "full length string",
		in:   "000102030405060708090a0b0c0d0e0f",
		want: ID{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	}, {
		name:    "too long",
		in:      "000102030405060708090a0b0c0d0e0f00",
		wantErr: true,
	}, {
		name:    "non-hex characters",
		in:      "banana",
		wantErr: true,
	}}

	for _, test := range tests {
		id, err := NewFromStr(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("%q: unexpected error status - got %v", test.name,
				err)
			continue
		}
		if err == nil && id != test.want {
			t.Errorf("%q: wrong identifier - got %v, want %v", test.name,
				id, test.want)
		}
	}
}

// TestCompare ensures identifiers order lexicographically by their bytes.
func TestCompare(t *testing.T) {
	low := ID{0: 0x01}
	high := ID{0: 0x02}

	if got := low.Compare(high); got != -1 {
		t.Errorf("Compare: got %v, want -1", got)
	}
	if got := high.Compare(low); got != 1 {
		t.Errorf("Compare: got %v, want 1", got)
	}
	if got := low.Compare(low); got != 0 {
		t.Errorf("Compare: got %v, want 0", got)
	}
	if !low.Less(high) || high.Less(low) {
		t.Error("Less: inconsistent with Compare")
	}
}

// TestNew ensures random identifiers are usable as addresses.
func TestNew(t *testing.T) {
	a, b := New(), New()
	if a.IsZero() || b.IsZero() {
		t.Fatal("New: produced zero identifier")
	}
	if a == b {
		t.Fatal("New: produced identical identifiers")
	}
}
