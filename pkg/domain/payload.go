package domain

import "encoding/json"

// Payload wraps the opaque content blob attached to a variant. The engine
// never interprets the bytes; delivery systems unmarshal them into whatever
// shape the channel needs. Bytes are cloned on the way in and out so callers
// cannot mutate shared state.
type Payload struct {
	defined bool
	raw     json.RawMessage
}

// NewPayload builds a payload wrapper from raw bytes. Passing a nil slice
// yields a defined but empty payload; use UndefinedPayload for "not set".
func NewPayload(raw json.RawMessage) Payload {
	payload := Payload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewPayloadFromValue marshals a typed value into a Payload.
func NewPayloadFromValue[T any](value T) (Payload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return NewPayload(raw), nil
}

// UndefinedPayload returns an uninitialized payload wrapper.
func UndefinedPayload() Payload {
	return Payload{}
}

// Defined reports whether the payload has been initialized.
func (p Payload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p Payload) IsEmpty() bool {
	if !p.defined {
		return true
	}
	return len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying bytes. Nil is returned when the
// payload is undefined or empty.
func (p Payload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// MarshalJSON encodes the payload as its raw bytes, or null when unset.
func (p Payload) MarshalJSON() ([]byte, error) {
	if !p.defined || len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON restores a payload from stored bytes.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Payload{}
		return nil
	}
	*p = NewPayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
