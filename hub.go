package xhub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultHubName is the service name a Hub registers for itself.
const DefaultHubName = "Hub"

// Hub is the central router. It accepts named connections validated against its Directory
// and relays Envelopes between them, or raises them locally when addressed to the hub.
type Hub struct {
	notifier

	name       string
	transport  Transport
	codec      Codec
	clock      xclock.Clock
	logger     *xlog.Logger
	directory  Directory
	dispatcher *Dispatcher

	mu      sync.RWMutex
	live    map[string]*liveConn
	running bool
	addr    string
	baseCtx context.Context
}

type liveConn struct {
	service     string
	id          string
	conn        Conn
	connectedAt time.Time
}

var _ Sender = (*Hub)(nil)

// Name returns the hub's own service name.
func (h *Hub) Name() string { return h.name }

// Dispatcher returns the hub's dispatch core.
func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

// Event is shorthand for h.Dispatcher().Event(id).
func (h *Hub) Event(id string) *Event { return h.dispatcher.Event(id) }

// Addr returns the bound listen address once running.
func (h *Hub) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.addr
}

// RegisterService declares name eligible to connect. A duplicate returns ErrDuplicateIdentifier.
func (h *Hub) RegisterService(ctx context.Context, name string) error {
	return h.directory.Register(ctx, name)
}

// Services lists the registered service names.
func (h *Hub) Services(ctx context.Context) ([]string, error) {
	return h.directory.Services(ctx)
}

// Connected lists the services holding a live connection, sorted.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.live))
	for name := range h.live {
		out = append(out, name)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Run starts listening on port. It returns once the listening socket is bound.
func (h *Hub) Run(ctx context.Context, port int) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	h.baseCtx = context.WithoutCancel(ctx)
	h.mu.Unlock()

	addr, err := h.transport.Listen(ctx, ":"+strconv.Itoa(port), hubHandler{h: h})
	if err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return fmt.Errorf("xhub: hub listen on port %d: %w", port, err)
	}

	h.mu.Lock()
	h.addr = addr
	h.mu.Unlock()
	h.logger.Info().Str("addr", addr).Str("name", h.name).Msg("xhub: hub started")
	return nil
}

// Stop closes every live connection and the listening socket.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	conns := make([]Conn, 0, len(h.live))
	for _, lc := range h.live {
		conns = append(conns, lc.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(CloseGoingAway, "hub stopping")
	}

	var errs []error
	if err := h.transport.Close(ctx); err != nil {
		h.logger.Error().Err(err).Msg("xhub: transport close failed")
		errs = append(errs, err)
	}

	h.mu.Lock()
	h.live = make(map[string]*liveConn)
	h.mu.Unlock()

	if err := h.closePool(5 * time.Second); err != nil {
		h.logger.Warn().Err(err).Msg("xhub: observer pool shutdown timeout")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Send delivers an envelope originated by the hub. A broadcast goes to every live
// connection; an unknown destination is dropped silently; a destination equal to the
// hub name (or none) is raised locally.
func (h *Hub) Send(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Origin == "" {
		env.Origin = h.name
	}
	if env.Destination == "" || env.Destination == h.name {
		h.deliver(ctx, env)
		return nil
	}

	text, err := EncodeEnvelope(h.codec, env)
	if err != nil {
		return err
	}
	if env.IsBroadcast() {
		h.broadcast(ctx, env, text, nil)
		return nil
	}
	return h.relay(ctx, env, text)
}

// route applies the routing precedence to one inbound envelope.
func (h *Hub) route(ctx context.Context, from Conn, env Envelope, text []byte) {
	switch {
	case env.IsBroadcast():
		h.broadcast(ctx, env, text, from)
		h.deliver(ctx, env)
	case env.Destination != "" && env.Destination != h.name:
		_ = h.relay(ctx, env, text)
	case env.Destination == h.name:
		h.deliver(ctx, env)
	default:
		h.notify(RelayEvent{
			Type:       EnvelopeIgnored,
			ConnID:     from.ID(),
			EnvelopeID: env.ID,
			EventID:    env.EventID,
			Origin:     env.Origin,
		})
	}
}

func (h *Hub) relay(ctx context.Context, env Envelope, text []byte) error {
	h.mu.RLock()
	lc, ok := h.live[env.Destination]
	h.mu.RUnlock()
	if !ok {
		h.notify(RelayEvent{
			Type:        EnvelopeDropped,
			Service:     env.Destination,
			EnvelopeID:  env.ID,
			EventID:     env.EventID,
			Origin:      env.Origin,
			Destination: env.Destination,
		})
		return nil
	}
	if err := lc.conn.Send(ctx, text); err != nil {
		h.notify(RelayEvent{
			Type:        Error,
			Service:     lc.service,
			ConnID:      lc.conn.ID(),
			EnvelopeID:  env.ID,
			EventID:     env.EventID,
			Destination: env.Destination,
			Err:         err,
		})
		return fmt.Errorf("xhub: relay to %q: %w", env.Destination, err)
	}
	h.notify(RelayEvent{
		Type:        EnvelopeRouted,
		Service:     lc.service,
		ConnID:      lc.conn.ID(),
		EnvelopeID:  env.ID,
		EventID:     env.EventID,
		Origin:      env.Origin,
		Destination: env.Destination,
	})
	return nil
}

// broadcast relays text to every live connection except skip.
func (h *Hub) broadcast(ctx context.Context, env Envelope, text []byte, skip Conn) {
	h.mu.RLock()
	targets := make([]*liveConn, 0, len(h.live))
	for _, lc := range h.live {
		if skip != nil && lc.conn == skip {
			continue
		}
		targets = append(targets, lc)
	}
	h.mu.RUnlock()

	for _, lc := range targets {
		err := lc.conn.Send(ctx, text)
		ev := RelayEvent{
			Type:        EnvelopeRouted,
			Service:     lc.service,
			ConnID:      lc.conn.ID(),
			EnvelopeID:  env.ID,
			EventID:     env.EventID,
			Origin:      env.Origin,
			Destination: env.Destination,
		}
		if err != nil {
			ev.Type = Error
			ev.Err = err
		}
		h.notify(ev)
	}
}

func (h *Hub) deliver(ctx context.Context, env Envelope) {
	start := h.clock.Now()
	h.dispatcher.Deliver(ctx, env)
	h.notify(RelayEvent{
		Type:       EnvelopeDelivered,
		Service:    h.name,
		EnvelopeID: env.ID,
		EventID:    env.EventID,
		Origin:     env.Origin,
		Duration:   h.clock.Since(start),
	})
}

func (h *Hub) context() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.baseCtx == nil {
		return context.Background()
	}
	return h.baseCtx
}

// GetMetrics returns current hub metrics.
func (h *Hub) GetMetrics() Metrics {
	m := h.metrics.snapshot()
	h.mu.RLock()
	m.LiveConnections = len(h.live)
	h.mu.RUnlock()
	if h.pool != nil {
		m.EventsDropped = h.pool.Stats().Dropped
	}
	return m
}

// Health reports hub health for probes.
func (h *Hub) Health(_ context.Context) HealthStatus {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	return health(running, h.GetMetrics(), h.clock.Now())
}

// hubHandler adapts the Hub to the transport callbacks.
type hubHandler struct{ h *Hub }

func (hh hubHandler) Accept(c Conn) error {
	h := hh.h
	service, id := c.Param(ParamService), c.Param(ParamID)

	reject := func(err error) error {
		herr := &HandshakeError{Service: service, ID: id, Err: err}
		code, reason := CloseCodeFor(err)
		h.notify(RelayEvent{
			Type:    ConnRejected,
			Service: service,
			ConnID:  c.ID(),
			Code:    code,
			Reason:  reason,
			Err:     herr,
		})
		return herr
	}

	if service == "" || id == "" {
		return reject(ErrMissingHandshake)
	}
	ok, err := h.directory.Registered(h.context(), service)
	if err != nil {
		return reject(fmt.Errorf("directory lookup: %w", err))
	}
	if !ok {
		return reject(ErrNotRegistered)
	}

	h.mu.Lock()
	if _, taken := h.live[service]; taken || service == h.name {
		h.mu.Unlock()
		return reject(ErrAlreadyConnected)
	}
	h.live[service] = &liveConn{service: service, id: id, conn: c, connectedAt: h.clock.Now()}
	h.mu.Unlock()

	h.notify(RelayEvent{Type: ConnAccepted, Service: service, ConnID: c.ID()})
	return nil
}

func (hh hubHandler) Receive(c Conn, text []byte) {
	h := hh.h
	env, err := DecodeEnvelope(h.codec, text)
	if err != nil {
		h.logger.Debug().Str("text", string(text)).Msg("xhub: discarding undecodable message")
		h.notify(RelayEvent{Type: DecodeFailed, Service: c.Param(ParamService), ConnID: c.ID(), Err: err})
		return
	}
	h.route(h.context(), c, env, text)
}

func (hh hubHandler) Closed(c Conn, code int, reason string) {
	h := hh.h
	service := c.Param(ParamService)

	h.mu.Lock()
	lc, ok := h.live[service]
	if ok && lc.conn == c {
		delete(h.live, service)
	} else {
		ok = false
	}
	h.mu.Unlock()

	ev := RelayEvent{Type: ConnClosed, Service: service, ConnID: c.ID(), Code: code, Reason: reason}
	if ok {
		ev.Duration = h.clock.Since(lc.connectedAt)
	}
	h.notify(ev)
}
