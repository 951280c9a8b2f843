package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope protocol shared by the realtime server and its clients.
// Every text frame on the socket is exactly one envelope.

// Reserved message types owned by the realtime core.
// Collaborators must not register handlers for these.
const (
	TypePing  = "ping"  // liveness probe, server -> client
	TypePong  = "pong"  // liveness response, client -> server
	TypeError = "error" // unknown type, decode failure, handler failure
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope type is missing")
)

// Envelope is the {type, data} wire unit.
// Data is opaque to the core; its shape is defined by Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"` // offending message type, when known
}

// New builds an envelope, marshalling data once so it can be fanned out.
func New(msgType string, data any) (*Envelope, error) {
	if msgType == "" {
		return nil, ErrMissingType
	}
	var raw json.RawMessage
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q payload: %w", msgType, err)
		}
		raw = b
	}
	return &Envelope{Type: msgType, Data: raw}, nil
}

// NewError builds an error envelope; offendingType may be empty.
func NewError(message, offendingType string) *Envelope {
	b, _ := json.Marshal(ErrorData{Message: message, Type: offendingType})
	return &Envelope{Type: TypeError, Data: b}
}

// Encode marshals the envelope into a single text frame.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses one frame. Anything that is not a JSON object with a
// non-empty string "type" is rejected.
func Decode(frame []byte) (*Envelope, error) {
	var probe struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if probe.Type == nil || *probe.Type == "" {
		return nil, ErrMissingType
	}
	return &Envelope{Type: *probe.Type, Data: probe.Data}, nil
}

// Bind unmarshals the payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %q has no data", ErrMalformedEnvelope, e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// IsReserved reports whether msgType belongs to the core protocol.
func IsReserved(msgType string) bool {
	switch msgType {
	case TypePing, TypePong, TypeError:
		return true
	}
	return false
}
