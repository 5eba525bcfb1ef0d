package xhub

import (
	"errors"
	"fmt"
)

// Contract violations returned synchronously to the caller.
var (
	// ErrDuplicateIdentifier is returned when a listener id, a service registration or a live
	// connection name is already taken.
	ErrDuplicateIdentifier = errors.New("xhub: duplicate identifier")

	// ErrNotConnected is returned by Send when no open connection is available.
	ErrNotConnected = errors.New("xhub: not connected")

	// ErrAlreadyRunning is returned when Run is called twice on the same connector.
	ErrAlreadyRunning = errors.New("xhub: already running")

	// ErrListenerNotFound is returned when removing a listener id that is not registered.
	ErrListenerNotFound = errors.New("xhub: listener not found")

	// ErrNilListener is returned when a nil listener is added.
	ErrNilListener = errors.New("xhub: listener must not be nil")

	ErrNoTransportConfigured = errors.New("xhub: no transport configured")
)

// Per-connection handshake rejections. None of them is fatal to the Hub.
var (
	// ErrMissingHandshake means the connection did not present both a service name and an id.
	ErrMissingHandshake = errors.New("xhub: missing service or id handshake parameter")

	// ErrNotRegistered means the presented service name is not in the directory.
	ErrNotRegistered = errors.New("xhub: service is not registered")

	// ErrAlreadyConnected means another live connection holds the service name.
	ErrAlreadyConnected = errors.New("xhub: service is already connected")
)

// Per-message failures. They are reported, never returned to unrelated callers.
var (
	ErrMalformedEnvelope = errors.New("xhub: malformed envelope")
	ErrMissingField      = errors.New("xhub: envelope is missing a required field")
	ErrListenerPanic     = errors.New("xhub: listener panicked")

	ErrObserverPoolShutdownTimeout = errors.New("xhub: observer pool shutdown timeout")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// HandshakeError describes a rejected connection attempt.
type HandshakeError struct {
	Service string
	ID      string
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("xhub: connection rejected (service=%q id=%q): %v", e.Service, e.ID, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// DecodeError wraps a failure to decode one inbound text message.
type DecodeError struct {
	Text []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("xhub: decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ListenerError wraps a failure of one listener during fan-out.
type ListenerError struct {
	EventID    string
	ListenerID string
	Err        error
	// Panic holds the recovered value when the listener panicked.
	Panic any
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("xhub: listener %q on event %q failed: %v", e.ListenerID, e.EventID, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
