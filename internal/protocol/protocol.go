// Package protocol defines the JSON envelopes exchanged over the board socket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/busboard/internal/domain"
)

type Type string

const (
	// client -> hub
	TypePatch           Type = "patch"
	TypeSnapshotRequest Type = "snapshot_request"
	TypePing            Type = "ping"

	// hub -> client
	TypeInitialState Type = "initial_state"
	TypeStateUpdated Type = "state_updated"
	TypeError        Type = "error"
	TypePong         Type = "pong"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("bad payload")
)

// Error codes carried in an error envelope.
const (
	CodeBadPayload   = "bad_payload"
	CodeUnknownType  = "unknown_type"
	CodeRateLimited  = "rate_limited"
	CodeUnauthorized = "unauthorized"
)

type envelope struct {
	Type Type `json:"type"`
}

type patchMessage struct {
	Type   Type            `json:"type"`
	Fields json.RawMessage `json:"fields"`
}

type snapshotMessage struct {
	Type    Type               `json:"type"`
	Version uint64             `json:"version"`
	State   domain.SharedState `json:"state"`
}

type errorMessage struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

// Inbound is a decoded client -> hub message.
type Inbound struct {
	Type  Type
	Patch domain.Patch
}

// DecodeInbound parses a client message. A patch with malformed fields is
// still returned; the skipped fields are listed in Patch.Rejected.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch env.Type {
	case TypePatch:
		var m patchMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		var p domain.Patch
		if err := json.Unmarshal(m.Fields, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: fields: %v", ErrBadPayload, err)
		}
		return Inbound{Type: TypePatch, Patch: p}, nil
	case TypeSnapshotRequest, TypePing:
		return Inbound{Type: env.Type}, nil
	}
	return Inbound{Type: env.Type}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func EncodePatch(p domain.Patch) ([]byte, error) {
	fields, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(patchMessage{Type: TypePatch, Fields: fields})
}

func EncodeSnapshotRequest() []byte {
	b, _ := json.Marshal(envelope{Type: TypeSnapshotRequest})
	return b
}

func EncodePing() []byte {
	b, _ := json.Marshal(envelope{Type: TypePing})
	return b
}

func EncodePong() []byte {
	b, _ := json.Marshal(envelope{Type: TypePong})
	return b
}

func EncodeError(code string) []byte {
	b, _ := json.Marshal(errorMessage{Type: TypeError, Error: code})
	return b
}

// EncodeSnapshot builds an initial_state or state_updated message.
func EncodeSnapshot(t Type, version uint64, s domain.SharedState) ([]byte, error) {
	return json.Marshal(snapshotMessage{Type: t, Version: version, State: s})
}

// Outbound is a decoded hub -> client message.
type Outbound struct {
	Type    Type
	Version uint64
	State   domain.SharedState
	Error   string
}

func (o Outbound) IsSnapshot() bool {
	return o.Type == TypeInitialState || o.Type == TypeStateUpdated
}

func DecodeOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch env.Type {
	case TypeInitialState, TypeStateUpdated:
		var m snapshotMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Outbound{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return Outbound{Type: m.Type, Version: m.Version, State: m.State}, nil
	case TypeError:
		var m errorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Outbound{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return Outbound{Type: TypeError, Error: m.Error}, nil
	case TypePong:
		return Outbound{Type: TypePong}, nil
	}
	return Outbound{Type: env.Type}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}
