package xhub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Builder constructs Hub and Peer instances (Builder pattern).
type Builder struct {
	name string

	transportName string
	transportCfg  map[string]any
	transportInst Transport

	codecName string
	codecInst Codec

	directory Directory
	services  []string

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock

	poolWorkers int
	poolBuffer  int

	connectTimeout time.Duration
}

// NewBuilder returns a new builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{
		codecName:      DefaultCodec,
		connectTimeout: DefaultConnectTimeout,
	}
}

// WithName sets the service name: the hub's own name, or the name a peer registers under.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) WithTransport(name string, cfg map[string]any) *Builder {
	b.transportName = name
	b.transportCfg = cfg
	return b
}

// WithTransportInstance accepts a ready Transport instance (e.g., from adapter Use()).
func (b *Builder) WithTransportInstance(t Transport) *Builder {
	b.transportInst = t
	return b
}

func (b *Builder) WithCodec(name string) *Builder {
	b.codecName = name
	return b
}

// WithCodecInstance accepts a ready Codec instance.
func (b *Builder) WithCodecInstance(c Codec) *Builder {
	b.codecInst = c
	return b
}

// WithDirectory sets the registered-services store of a hub. Defaults to a MemoryDirectory.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithServices registers names on the hub's directory at build time. Names already
// present are kept.
func (b *Builder) WithServices(names ...string) *Builder {
	b.services = append(b.services, names...)
	return b
}

// WithMiddleware wraps every listener added through the built connector.
func (b *Builder) WithMiddleware(mw ...Middleware) *Builder {
	if len(mw) == 0 {
		return b
	}
	b.middlewares = append(b.middlewares, mw...)
	return b
}

func (b *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
	return b
}

// WithObserverPool delivers observer events asynchronously through a bounded worker pool.
func (b *Builder) WithObserverPool(workers, bufferSize int) *Builder {
	b.poolWorkers = workers
	b.poolBuffer = bufferSize
	return b
}

func (b *Builder) WithLogger(l *xlog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithClock(c xclock.Clock) *Builder {
	b.clock = c
	return b
}

// WithConnectTimeout sets how long a peer waits before reporting an unreachable hub.
func (b *Builder) WithConnectTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.connectTimeout = d
	}
	return b
}

type parts struct {
	transport Transport
	codec     Codec
	clock     xclock.Clock
	logger    *xlog.Logger
}

func (b *Builder) resolve() (parts, error) {
	var p parts
	var err error

	switch {
	case b.transportInst != nil:
		p.transport = b.transportInst
	case b.transportName != "":
		p.transport, err = NewTransport(b.transportName, b.transportCfg)
		if err != nil {
			return p, err
		}
	default:
		return p, ErrNoTransportConfigured
	}

	if b.codecInst != nil {
		p.codec = b.codecInst
	} else {
		p.codec, err = NewCodec(b.codecName)
		if err != nil {
			return p, err
		}
	}

	if b.clock != nil {
		p.clock = b.clock
	} else {
		p.clock = xclock.Default()
	}
	if b.logger != nil {
		p.logger = b.logger
	} else {
		p.logger = xlog.Default()
	}
	return p, nil
}

func (b *Builder) attach(n *notifier, lg *xlog.Logger) {
	if b.poolWorkers > 0 {
		n.pool = NewObserverPool(context.Background(), b.poolWorkers, b.poolBuffer)
	}

	// Attach logging observer first unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range b.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		n.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range b.observers {
		n.AddObserver(o)
	}
}

func (b *Builder) dispatcherOptions(n *notifier, lg *xlog.Logger) []DispatcherOption {
	return []DispatcherOption{
		WithDispatcherLogger(lg),
		WithListenerMiddleware(b.middlewares...),
		WithFailureHandler(func(le *ListenerError) {
			n.notify(RelayEvent{
				Type:    ListenerFailed,
				EventID: le.EventID,
				Reason:  le.ListenerID,
				Err:     le,
			})
		}),
	}
}

// BuildHub constructs a Hub. The hub name defaults to DefaultHubName and is registered
// on the directory together with any WithServices names.
func (b *Builder) BuildHub() (*Hub, error) {
	p, err := b.resolve()
	if err != nil {
		return nil, err
	}
	name := b.name
	if name == "" {
		name = DefaultHubName
	}
	dir := b.directory
	if dir == nil {
		dir = NewMemoryDirectory()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range append([]string{name}, b.services...) {
		if err := dir.Register(ctx, s); err != nil && !errors.Is(err, ErrDuplicateIdentifier) {
			return nil, fmt.Errorf("xhub: register service %q: %w", s, err)
		}
	}

	h := &Hub{
		name:      name,
		transport: p.transport,
		codec:     p.codec,
		clock:     p.clock,
		logger:    p.logger,
		directory: dir,
		live:      make(map[string]*liveConn),
	}
	b.attach(&h.notifier, p.logger)
	h.dispatcher = NewDispatcher(name, h, b.dispatcherOptions(&h.notifier, p.logger)...)
	return h, nil
}

// BuildPeer constructs a Peer. The name may be left empty and given to Run instead.
func (b *Builder) BuildPeer() (*Peer, error) {
	p, err := b.resolve()
	if err != nil {
		return nil, err
	}
	peer := &Peer{
		transport:      p.transport,
		codec:          p.codec,
		clock:          p.clock,
		logger:         p.logger,
		connectTimeout: b.connectTimeout,
		ready:          make(chan struct{}),
	}
	b.attach(&peer.notifier, p.logger)
	peer.dispatcher = NewDispatcher(b.name, peer, b.dispatcherOptions(&peer.notifier, p.logger)...)
	return peer, nil
}

// NewHub constructs a Hub via Builder.
func NewHub(init func(b *Builder)) (*Hub, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	return b.BuildHub()
}

// NewPeer constructs a Peer via Builder.
func NewPeer(init func(b *Builder)) (*Peer, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	return b.BuildPeer()
}
