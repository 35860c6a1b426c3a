// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcdisp

import (
	"encoding/json"
	"fmt"

	"github.com/veilnet/veilnetd/overlay"
)

// Envelope kinds carried on the wire.
const (
	kindNotify   = "notify"
	kindRequest  = "request"
	kindResponse = "response"
)

// envelope is the wire form of a dispatched message.  Only the envelope
// itself is defined here; the body remains an opaque key/value mapping
// whose interpretation belongs to the layers above.
//
// Notifications carry no token.  A request carries a nonzero correlation
// token which the matching response echoes back.
type envelope struct {
	Kind  string          `json:"kind"`
	Token uint64          `json:"token,omitempty"`
	Body  overlay.Message `json:"body,omitempty"`
	Error string          `json:"error,omitempty"`
}

// marshalEnvelope returns the serialized wire form of the envelope.
func marshalEnvelope(env *envelope) ([]byte, error) {
	return json.Marshal(env)
}

// unmarshalEnvelope decodes an incoming frame into an envelope.  An
// ErrMalformedEnvelope error is returned when the frame is not a valid
// envelope.
func unmarshalEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		str := fmt.Sprintf("invalid envelope: %v", err)
		return nil, makeError(ErrMalformedEnvelope, str)
	}
	switch env.Kind {
	case kindNotify:
	case kindRequest, kindResponse:
		if env.Token == 0 {
			str := fmt.Sprintf("%s envelope with no token", env.Kind)
			return nil, makeError(ErrMalformedEnvelope, str)
		}
	default:
		str := fmt.Sprintf("unknown envelope kind %q", env.Kind)
		return nil, makeError(ErrMalformedEnvelope, str)
	}
	return &env, nil
}
