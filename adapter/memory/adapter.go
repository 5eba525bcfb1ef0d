package memory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xhub"
)

const TransportName = "memory"

func init() {
	if err := xhub.RegisterTransport(TransportName, func(cfg map[string]any) (xhub.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xhub/memory: failed to register transport: %w", err))
	}
}

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("memory: connection closed")
	// ErrTransportClosed is returned by Listen and Dial after Close.
	ErrTransportClosed = errors.New("memory: transport is closed")
	// ErrConnRefused is returned by Dial when nothing listens on the port.
	ErrConnRefused = errors.New("memory: connection refused")
)

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-connection inbox size (default: 1024).
	BufferSize int
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	size := getInt("buffer_size", 0)
	if size < 1 {
		size = 1024
	}
	return Config{BufferSize: size}
}

// network is the process-wide port table shared by all memory transports, so a hub and
// its peers built from separate transport instances can reach each other.
var network = struct {
	mu        sync.Mutex
	listeners map[string]*listener
	nextPort  int
}{
	listeners: make(map[string]*listener),
	nextPort:  40000,
}

type listener struct {
	port    string
	tr      *Transport
	handler xhub.ConnHandler
}

// Transport implements xhub.Transport with in-process channels (dev/testing).
// Not suitable for production but excellent for local development and benchmarking.
type Transport struct {
	cfg Config

	mu        sync.Mutex
	listening []string
	conns     map[*conn]struct{}

	closed atomic.Bool

	// Metrics for observability
	metrics *transportMetrics
}

type transportMetrics struct {
	dialed   atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64
	sent     atomic.Uint64
	received atomic.Uint64
}

var _ xhub.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Transport{
		cfg:     cfg,
		conns:   make(map[*conn]struct{}),
		metrics: &transportMetrics{},
	}
}

// Listen claims the port of addr. Port 0 (or none) picks a free one.
func (t *Transport) Listen(_ context.Context, addr string, h xhub.ConnHandler) (string, error) {
	if t.closed.Load() {
		return "", ErrTransportClosed
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("memory: listen %q: %w", addr, err)
	}

	network.mu.Lock()
	if port == "" || port == "0" {
		for {
			network.nextPort++
			port = strconv.Itoa(network.nextPort)
			if _, taken := network.listeners[port]; !taken {
				break
			}
		}
	}
	if _, taken := network.listeners[port]; taken {
		network.mu.Unlock()
		return "", fmt.Errorf("memory: listen on port %s: address already in use", port)
	}
	network.listeners[port] = &listener{port: port, tr: t, handler: h}
	network.mu.Unlock()

	t.mu.Lock()
	t.listening = append(t.listening, port)
	t.mu.Unlock()
	return net.JoinHostPort("127.0.0.1", port), nil
}

// Dial connects to the listener on the port of addr. The listener's Accept runs first;
// a rejection is delivered to the dialing side as a close with the mapped code.
func (t *Transport) Dial(_ context.Context, addr string, params map[string]string, h xhub.ConnHandler) (xhub.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("memory: dial %q: %w", addr, err)
	}
	network.mu.Lock()
	l, ok := network.listeners[port]
	network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnRefused, addr)
	}

	client := newConn(t, h, params)
	server := newConn(l.tr, l.handler, params)
	client.remote, server.remote = server, client
	t.metrics.dialed.Add(1)

	if err := l.handler.Accept(server); err != nil {
		l.tr.metrics.rejected.Add(1)
		code, reason := xhub.CloseCodeFor(err)
		_ = server.Close(code, reason)
	} else {
		l.tr.metrics.accepted.Add(1)
		l.tr.track(server)
		server.start()
	}

	if err := h.Accept(client); err != nil {
		code, reason := xhub.CloseCodeFor(err)
		_ = client.Close(code, reason)
		return nil, err
	}
	t.track(client)
	client.start()
	return client, nil
}

// Close releases every port claimed by this transport and closes its connections.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil // Already closed
	}

	t.mu.Lock()
	ports := t.listening
	t.listening = nil
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	network.mu.Lock()
	for _, p := range ports {
		if l, ok := network.listeners[p]; ok && l.tr == t {
			delete(network.listeners, p)
		}
	}
	network.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(xhub.CloseGoingAway, "transport closed")
	}
	return nil
}

func (t *Transport) track(c *conn) {
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) forget(c *conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

// Stats returns transport telemetry.
type Stats struct {
	Dialed   uint64
	Accepted uint64
	Rejected uint64
	Sent     uint64
	Received uint64
	Open     int
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	open := len(t.conns)
	t.mu.Unlock()
	return Stats{
		Dialed:   t.metrics.dialed.Load(),
		Accepted: t.metrics.accepted.Load(),
		Rejected: t.metrics.rejected.Load(),
		Sent:     t.metrics.sent.Load(),
		Received: t.metrics.received.Load(),
		Open:     open,
	}
}

// Internal types

// conn is one end of an in-process duplex pipe. Messages written by one end land in
// the other end's inbox and are handed to its handler by a single pump goroutine.
type conn struct {
	id      string
	tr      *Transport
	handler xhub.ConnHandler
	params  map[string]string
	remote  *conn

	inbox chan []byte

	closeOnce sync.Once
	closing   chan struct{}
	code      int
	reason    string
}

var _ xhub.Conn = (*conn)(nil)

func newConn(t *Transport, h xhub.ConnHandler, params map[string]string) *conn {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &conn{
		id:      nextID(),
		tr:      t,
		handler: h,
		params:  p,
		inbox:   make(chan []byte, t.cfg.BufferSize),
		closing: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Param(key string) string { return c.params[key] }

func (c *conn) Send(ctx context.Context, text []byte) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	case <-c.remote.closing:
		return ErrConnClosed
	default:
	}

	buf := make([]byte, len(text))
	copy(buf, text)
	select {
	case c.remote.inbox <- buf:
		c.tr.metrics.sent.Add(1)
		return nil
	case <-c.closing:
		return ErrConnClosed
	case <-c.remote.closing:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes both ends with the same code and reason.
func (c *conn) Close(code int, reason string) error {
	c.signal(code, reason)
	c.remote.signal(code, reason)
	return nil
}

func (c *conn) signal(code int, reason string) {
	c.closeOnce.Do(func() {
		c.code = code
		c.reason = reason
		close(c.closing)
	})
}

func (c *conn) start() { go c.pump() }

func (c *conn) pump() {
	for {
		select {
		case text := <-c.inbox:
			c.receive(text)
		case <-c.closing:
			c.drain()
			c.tr.forget(c)
			c.handler.Closed(c, c.code, c.reason)
			return
		}
	}
}

// drain hands over messages written before the close.
func (c *conn) drain() {
	for {
		select {
		case text := <-c.inbox:
			c.receive(text)
		default:
			return
		}
	}
}

func (c *conn) receive(text []byte) {
	c.tr.metrics.received.Add(1)
	c.handler.Receive(c, text)
}

// Simple monotonic ID generator (not distributed; dev/testing only).
var idSeq uint64

func nextID() string {
	n := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("mem-%d", n)
}
