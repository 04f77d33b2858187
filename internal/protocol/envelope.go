// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package protocol defines the wire envelope exchanged with the control
// plane over the agent's WebSocket connection: one JSON object per text
// frame, carrying a 128-bit id, a type discriminator, and a kind-specific
// payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type discriminates the kind of envelope.
type Type string

const (
	TypeAuth        Type = "AUTH"
	TypeAuthOK      Type = "AUTH_OK"
	TypeAuthFail    Type = "AUTH_FAIL"
	TypeStatus      Type = "STATUS"
	TypeStatusOK    Type = "STATUS_OK"
	TypeMetrics     Type = "METRICS"
	TypeConfigPush  Type = "CONFIG_PUSH"
	TypeConfigAck   Type = "CONFIG_ACK"
	TypeExec        Type = "EXEC"
	TypeExecResult  Type = "EXEC_RESULT"
	TypeModeUpdate  Type = "MODE_UPDATE"
	TypeModeAck     Type = "MODE_ACK"
	TypePing        Type = "PING"
	TypePong        Type = "PONG"
	TypeLog         Type = "LOG"
	TypeAlert       Type = "ALERT"
)

// Envelope is the single frame format for every message exchanged with the
// control plane: exactly one envelope per WebSocket text frame.
type Envelope struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewID generates a new envelope identifier: a 128-bit value formatted as
// the canonical hex-grouped UUID string.
func NewID() string {
	return uuid.NewString()
}

// New builds an envelope of the given type with id freshly generated and
// payload marshaled from v.
func New(t Type, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{ID: NewID(), Type: t, Payload: raw}, nil
}

// Reply builds an envelope of the given type carrying the same id as req, so
// the dispatcher's reply can be paired back to its originating request.
func Reply(req Envelope, t Type, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{ID: req.ID, Type: t, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
