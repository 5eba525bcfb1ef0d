package xhub

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"
)

// Handshake parameter keys presented by a connecting peer.
const (
	ParamService = "service"
	ParamID      = "id"
)

// Close codes used when a connection is shut down. The 44xx range mirrors the
// HTTP status of the rejection.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseInternalError    = 1011
	CloseMissingHandshake = 4400
	CloseNotRegistered    = 4403
	CloseAlreadyConnected = 4409
)

// AlreadyConnectedReason is the close reason sent to a duplicate connection.
const AlreadyConnectedReason = "A service is already registered under this name. Services must have a unique identifier."

// MaxCloseReason is the longest close reason, in bytes, a close frame can carry.
const MaxCloseReason = 123

// CloseCodeFor maps a rejection error to a close code and reason. Handshake rejections
// carry the fixed sentinel text, never the client-supplied service or id.
func CloseCodeFor(err error) (int, string) {
	switch {
	case err == nil:
		return CloseNormal, ""
	case errors.Is(err, ErrAlreadyConnected):
		return CloseAlreadyConnected, AlreadyConnectedReason
	case errors.Is(err, ErrNotRegistered):
		return CloseNotRegistered, ErrNotRegistered.Error()
	case errors.Is(err, ErrMissingHandshake):
		return CloseMissingHandshake, ErrMissingHandshake.Error()
	default:
		return CloseInternalError, ClipCloseReason(err.Error())
	}
}

// ClipCloseReason shortens reason to MaxCloseReason bytes without splitting a UTF-8 sequence.
func ClipCloseReason(reason string) string {
	if len(reason) <= MaxCloseReason {
		return reason
	}
	cut := MaxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// Conn is one live duplex text connection.
type Conn interface {
	// ID is assigned by the transport and unique within it.
	ID() string
	// Param returns a handshake parameter supplied at connect time.
	Param(key string) string
	// Send writes one text message. Safe for concurrent use.
	Send(ctx context.Context, text []byte) error
	// Close shuts the connection down with a close code and reason. Idempotent.
	Close(code int, reason string) error
}

// ConnHandler receives connection callbacks from a transport. Callbacks for one
// connection are never invoked concurrently, and Receive calls arrive in wire order.
type ConnHandler interface {
	// Accept is called once the connection is open. A non-nil error makes the transport
	// close the connection with CloseCodeFor(err); Receive is then never called for it.
	Accept(c Conn) error
	Receive(c Conn, text []byte)
	// Closed is called exactly once per accepted connection.
	Closed(c Conn, code int, reason string)
}

// Transport is the Strategy interface for the duplex channel under the hub and its peers.
type Transport interface {
	// Listen binds addr and serves connections in the background. It returns the bound address.
	Listen(ctx context.Context, addr string, h ConnHandler) (string, error)
	// Dial opens a connection to addr presenting params. h.Accept is invoked once it is open.
	Dial(ctx context.Context, addr string, params map[string]string, h ConnHandler) (Conn, error)
	// Close stops listening and closes every connection created by this transport.
	Close(ctx context.Context) error
}

// ConnState is the lifecycle of a peer connection.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a transport adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}
