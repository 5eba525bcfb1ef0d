package xhub

import (
	"encoding/json"
	"fmt"
)

// BroadcastDestination addresses every live connection on the hub.
const BroadcastDestination = "all"

// Envelope is the message traveling between processes.
type Envelope struct {
	// ID is unique per send. Used by callers for tracing; the hub does not enforce it.
	ID string
	// Origin is the service that produced the envelope.
	Origin string
	// EventID names the Event raised at the destination.
	EventID string
	// Destination is the target service. Empty means "handle locally".
	Destination string
	// Payload is optional.
	Payload Payload
}

// WithDestination returns a copy of e addressed to dest.
func (e Envelope) WithDestination(dest string) Envelope {
	e.Destination = dest
	return e
}

// IsBroadcast reports whether the envelope targets every live connection.
func (e Envelope) IsBroadcast() bool { return e.Destination == BroadcastDestination }

// Equal compares all fields, payload by JSON text.
func (e Envelope) Equal(o Envelope) bool {
	return e.ID == o.ID &&
		e.Origin == o.Origin &&
		e.EventID == o.EventID &&
		e.Destination == o.Destination &&
		e.Payload.Equal(o.Payload)
}

type wireEnvelope struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin"`
	EventID     string          `json:"eventId"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EncodeEnvelope renders env as wire text.
func EncodeEnvelope(c Codec, env Envelope) ([]byte, error) {
	if c == nil {
		c = JSONCodec{}
	}
	b, err := c.Marshal(wireEnvelope{
		ID:          env.ID,
		Origin:      env.Origin,
		EventID:     env.EventID,
		Destination: env.Destination,
		Payload:     env.Payload.raw,
	})
	if err != nil {
		return nil, fmt.Errorf("xhub: encode envelope %q: %w", env.ID, err)
	}
	return b, nil
}

// DecodeEnvelope parses wire text. Failures are returned as *DecodeError.
func DecodeEnvelope(c Codec, text []byte) (Envelope, error) {
	if c == nil {
		c = JSONCodec{}
	}
	var w wireEnvelope
	if err := c.Unmarshal(text, &w); err != nil {
		return Envelope{}, &DecodeError{Text: text, Err: fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)}
	}
	switch {
	case w.ID == "":
		return Envelope{}, &DecodeError{Text: text, Err: fmt.Errorf("%w: id", ErrMissingField)}
	case w.Origin == "":
		return Envelope{}, &DecodeError{Text: text, Err: fmt.Errorf("%w: origin", ErrMissingField)}
	case w.EventID == "":
		return Envelope{}, &DecodeError{Text: text, Err: fmt.Errorf("%w: eventId", ErrMissingField)}
	}
	env := Envelope{
		ID:          w.ID,
		Origin:      w.Origin,
		EventID:     w.EventID,
		Destination: w.Destination,
	}
	if len(w.Payload) > 0 {
		p, err := RawPayload(w.Payload)
		if err != nil {
			return Envelope{}, &DecodeError{Text: text, Err: fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)}
		}
		env.Payload = p
	}
	return env, nil
}
