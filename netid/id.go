// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netid provides the logical peer identifier used to address
// peers on the overlay independently of their transport endpoints.
package netid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/rand"
)

// Size is the length of an overlay identifier in bytes.
const Size = 16

// ErrIDStrSize describes an error that indicates the caller specified
// a hex string that has too many characters.
var ErrIDStrSize = fmt.Errorf("max identifier string length is %v chars", 2*Size)

// ID is the logical address of a peer on the overlay.  It is an opaque
// value type that is only ever used as a lookup key; it carries no
// information about the transport endpoint the peer is reachable on.
type ID [Size]byte

// String returns the identifier as the hexadecimal string of its bytes.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the bytes that represent the identifier.
func (id ID) Bytes() []byte {
	newID := make([]byte, Size)
	copy(newID, id[:])
	return newID
}

// SetBytes sets the bytes that represent the identifier.  An error is
// returned if the number of bytes passed in is not Size.
func (id *ID) SetBytes(newID []byte) error {
	nhlen := len(newID)
	if nhlen != Size {
		return fmt.Errorf("invalid identifier length of %v, want %v",
			nhlen, Size)
	}
	copy(id[:], newID)
	return nil
}

// IsZero returns whether the identifier is all zeros, which is the value
// of an unassigned identifier and is never a valid peer address.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare compares the identifier with other and returns -1, 0, or 1
// depending on whether the identifier orders before, equal to, or after
// other.  Identifiers order lexicographically by their bytes, which
// provides the total order higher layers rely on for deterministic peer
// orderings.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less returns whether the identifier orders strictly before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// New returns a new random identifier generated from the cryptographically
// secure userspace PRNG.
func New() ID {
	var id ID
	rand.Read(id[:])
	return id
}

// NewFromBytes returns the identifier represented by the passed bytes.
// An error is returned if the number of bytes is not Size.
func NewFromBytes(newID []byte) (ID, error) {
	var id ID
	err := id.SetBytes(newID)
	if err != nil {
		return ID{}, err
	}
	return id, nil
}

// NewFromStr returns the identifier represented by the passed hex string.
func NewFromStr(idStr string) (ID, error) {
	if len(idStr) > Size*2 {
		return ID{}, ErrIDStrSize
	}

	// Left pad short strings with zeros so short human-readable values
	// such as test fixtures remain usable.
	var srcBytes []byte
	if len(idStr)%2 == 0 {
		srcBytes = []byte(idStr)
	} else {
		srcBytes = make([]byte, len(idStr)+1)
		srcBytes[0] = '0'
		copy(srcBytes[1:], idStr)
	}

	var decoded [Size]byte
	_, err := hex.Decode(decoded[Size-len(srcBytes)/2:], srcBytes)
	if err != nil {
		return ID{}, err
	}
	return ID(decoded), nil
}
