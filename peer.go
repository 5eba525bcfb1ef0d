package xhub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultConnectTimeout is how long a Peer waits for its connection to open before
// reporting that the hub is unreachable.
const DefaultConnectTimeout = 5 * time.Second

// DefaultHost is the hub address a Peer dials when none is given.
const DefaultHost = "localhost"

var errPeerStopped = errors.New("xhub: peer stopped")

// Peer is a client endpoint holding one connection to a Hub. Envelopes addressed to its
// service name (or broadcast) are raised on its Dispatcher.
type Peer struct {
	notifier

	transport      Transport
	codec          Codec
	clock          xclock.Clock
	logger         *xlog.Logger
	dispatcher     *Dispatcher
	connectTimeout time.Duration

	state atomic.Int32

	mu        sync.Mutex
	conn      Conn
	target    string
	watchdog  *time.Timer
	ready     chan struct{}
	readyOnce sync.Once
	baseCtx   context.Context
}

var _ Sender = (*Peer)(nil)

// Name returns the service name the peer registers under. It is empty until Run unless
// configured on the builder.
func (p *Peer) Name() string { return p.dispatcher.Name() }

// Dispatcher returns the peer's dispatch core.
func (p *Peer) Dispatcher() *Dispatcher { return p.dispatcher }

// Event is shorthand for p.Dispatcher().Event(id).
func (p *Peer) Event(id string) *Event { return p.dispatcher.Event(id) }

// State reports the connection lifecycle state.
func (p *Peer) State() ConnState { return ConnState(p.state.Load()) }

// Ready is closed once the connection to the hub is open.
func (p *Peer) Ready() <-chan struct{} { return p.ready }

// Target returns the hub address passed to Run.
func (p *Peer) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Run connects to the hub at ip:port as serviceName. It returns before the connection is
// open; use Ready to wait. An empty serviceName keeps the builder name, or generates one.
// An empty ip means DefaultHost.
func (p *Peer) Run(ctx context.Context, port int, serviceName, ip string) error {
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	if serviceName == "" {
		serviceName = p.dispatcher.Name()
	}
	if serviceName == "" {
		serviceName = uuid.NewString()
	}
	p.dispatcher.setName(serviceName)
	if ip == "" {
		ip = DefaultHost
	}
	target := net.JoinHostPort(ip, strconv.Itoa(port))
	p.target = target
	p.baseCtx = context.WithoutCancel(ctx)
	p.watchdog = time.AfterFunc(p.connectTimeout, p.checkConnected)
	dialCtx := p.baseCtx
	p.mu.Unlock()

	params := map[string]string{
		ParamService: serviceName,
		ParamID:      uuid.NewString(),
	}
	go func() {
		if _, err := p.transport.Dial(dialCtx, target, params, peerHandler{p: p}); err != nil {
			p.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed))
			p.notify(RelayEvent{Type: Error, Service: serviceName, Err: fmt.Errorf("dial %s: %w", target, err)})
		}
	}()
	return nil
}

func (p *Peer) checkConnected() {
	if p.State() == StateOpen {
		return
	}
	p.logger.Warn().
		Str("target", p.Target()).
		Msg("Failed to connect to hub. Please ensure the hub is running and port number/ip address is correct.")
	p.notify(RelayEvent{Type: ConnectTimeout, Service: p.Name(), Duration: p.connectTimeout})
}

// Send writes an envelope to the hub. It fails with ErrNotConnected unless the connection is open.
func (p *Peer) Send(ctx context.Context, env Envelope) error {
	if p.State() != StateOpen {
		return ErrNotConnected
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Origin == "" {
		env.Origin = p.Name()
	}
	text, err := EncodeEnvelope(p.codec, env)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, text); err != nil {
		p.notify(RelayEvent{Type: Error, ConnID: conn.ID(), EnvelopeID: env.ID, EventID: env.EventID, Err: err})
		return fmt.Errorf("xhub: send %s: %w", env.EventID, err)
	}
	p.notify(RelayEvent{
		Type:        EnvelopeSent,
		ConnID:      conn.ID(),
		EnvelopeID:  env.ID,
		EventID:     env.EventID,
		Origin:      env.Origin,
		Destination: env.Destination,
	})
	return nil
}

// Stop closes the connection to the hub. A stopped Peer cannot be run again.
func (p *Peer) Stop(ctx context.Context) error {
	p.state.Store(int32(StateClosed))
	p.mu.Lock()
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	var errs []error
	if conn != nil {
		if err := conn.Close(CloseNormal, "peer stopping"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.transport.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.closePool(5 * time.Second); err != nil {
		p.logger.Warn().Err(err).Msg("xhub: observer pool shutdown timeout")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Peer) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseCtx == nil {
		return context.Background()
	}
	return p.baseCtx
}

// GetMetrics returns current peer metrics.
func (p *Peer) GetMetrics() Metrics {
	m := p.metrics.snapshot()
	if p.State() == StateOpen {
		m.LiveConnections = 1
	}
	if p.pool != nil {
		m.EventsDropped = p.pool.Stats().Dropped
	}
	return m
}

// Health reports peer health. A peer that is not connected is unhealthy.
func (p *Peer) Health(_ context.Context) HealthStatus {
	return health(p.State() == StateOpen, p.GetMetrics(), p.clock.Now())
}

// peerHandler adapts the Peer to the transport callbacks.
type peerHandler struct{ p *Peer }

func (ph peerHandler) Accept(c Conn) error {
	p := ph.p
	p.mu.Lock()
	if p.State() != StateConnecting {
		p.mu.Unlock()
		return errPeerStopped
	}
	p.conn = c
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	target := p.target
	p.mu.Unlock()

	p.state.Store(int32(StateOpen))
	p.readyOnce.Do(func() { close(p.ready) })
	p.logger.Info().Str("target", target).Msg("Connected to " + target)
	p.notify(RelayEvent{Type: ConnAccepted, Service: p.Name(), ConnID: c.ID()})
	return nil
}

func (ph peerHandler) Receive(c Conn, text []byte) {
	p := ph.p
	env, err := DecodeEnvelope(p.codec, text)
	if err != nil {
		p.logger.Debug().Str("text", string(text)).Msg("xhub: discarding undecodable message")
		p.notify(RelayEvent{Type: DecodeFailed, ConnID: c.ID(), Err: err})
		return
	}
	if env.Destination != p.Name() && !env.IsBroadcast() {
		p.notify(RelayEvent{
			Type:        EnvelopeIgnored,
			ConnID:      c.ID(),
			EnvelopeID:  env.ID,
			EventID:     env.EventID,
			Origin:      env.Origin,
			Destination: env.Destination,
		})
		return
	}

	start := p.clock.Now()
	p.dispatcher.Deliver(p.context(), env)
	p.notify(RelayEvent{
		Type:       EnvelopeDelivered,
		Service:    p.Name(),
		ConnID:     c.ID(),
		EnvelopeID: env.ID,
		EventID:    env.EventID,
		Origin:     env.Origin,
		Duration:   p.clock.Since(start),
	})
}

func (ph peerHandler) Closed(c Conn, code int, reason string) {
	p := ph.p
	p.mu.Lock()
	if p.conn == c {
		p.conn = nil
	}
	p.mu.Unlock()
	p.state.Store(int32(StateClosed))
	p.notify(RelayEvent{Type: ConnClosed, Service: p.Name(), ConnID: c.ID(), Code: code, Reason: reason})
}
