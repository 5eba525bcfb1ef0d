package xhub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies the value held by a Payload.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Payload is the value carried by an Event raise or an Envelope. It stores the value in its
// JSON text form, so every Payload is encodable by construction. The zero value is an absent payload.
type Payload struct {
	raw json.RawMessage
}

// PayloadOf encodes v into a Payload.
func PayloadOf(v any) (Payload, error) {
	if p, ok := v.(Payload); ok {
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("xhub: encode payload: %w", err)
	}
	return Payload{raw: b}, nil
}

// MustPayload is PayloadOf that panics on error. Intended for literals and tests.
func MustPayload(v any) Payload {
	p, err := PayloadOf(v)
	if err != nil {
		panic(err)
	}
	return p
}

// RawPayload wraps already encoded JSON text. The text is validated.
func RawPayload(text []byte) (Payload, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return Payload{}, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, text); err != nil {
		return Payload{}, fmt.Errorf("xhub: raw payload: %w", err)
	}
	return Payload{raw: buf.Bytes()}, nil
}

// IsZero reports whether the payload is absent.
func (p Payload) IsZero() bool { return len(p.raw) == 0 }

// Bytes returns the JSON text of the payload, nil when absent.
func (p Payload) Bytes() []byte { return p.raw }

func (p Payload) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.raw)
}

// Equal reports whether both payloads hold the same JSON text.
func (p Payload) Equal(o Payload) bool { return bytes.Equal(p.raw, o.raw) }

// Kind inspects the first significant byte of the encoded value.
func (p Payload) Kind() Kind {
	b := bytes.TrimLeft(p.raw, " \t\r\n")
	if len(b) == 0 {
		return KindAbsent
	}
	switch b[0] {
	case 'n':
		return KindNull
	case 't', 'f':
		return KindBool
	case '"':
		return KindString
	case '[':
		return KindArray
	case '{':
		return KindObject
	default:
		return KindNumber
	}
}

// Decode unmarshals the payload into T. An absent payload yields the zero T.
func Decode[T any](p Payload) (T, error) {
	var v T
	if p.IsZero() {
		return v, nil
	}
	if err := json.Unmarshal(p.raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
