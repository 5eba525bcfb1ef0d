package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xlog"
)

// UseHub builds a Hub on the in-memory transport.
// Mirrors the xlog "Use" pattern: explicit construction, panics on misconfiguration.
//
// Example:
//
//	hub := memory.UseHub(memory.Config{BufferSize: 4096},
//	    memory.WithServices("Billing", "Mailer"),
//	    memory.WithLogger(logger),
//	)
func UseHub(cfg Config, opts ...Option) *xhub.Hub {
	b := builder(cfg, opts)
	hub, err := b.BuildHub()
	if err != nil {
		panic(fmt.Errorf("memory.UseHub: %w", err))
	}
	return hub
}

// UsePeer builds a Peer on the in-memory transport.
func UsePeer(cfg Config, opts ...Option) *xhub.Peer {
	b := builder(cfg, opts)
	peer, err := b.BuildPeer()
	if err != nil {
		panic(fmt.Errorf("memory.UsePeer: %w", err))
	}
	return peer
}

func builder(cfg Config, opts []Option) *xhub.Builder {
	b := xhub.NewBuilder().WithTransport(TransportName, cfg.toMap())
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size": c.BufferSize,
	}
}

// Option configures the xhub.Builder when calling UseHub or UsePeer.
type Option func(*xhub.Builder)

// WithName sets the hub name or the peer's service name.
func WithName(name string) Option {
	return func(b *xhub.Builder) { b.WithName(name) }
}

// WithServices pre-registers services on a hub.
func WithServices(names ...string) Option {
	return func(b *xhub.Builder) { b.WithServices(names...) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xhub.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xhub.Builder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xhub.Builder) { b.WithCodec(name) }
}

// WithMiddleware adds listener middlewares (retry, recovery, etc).
func WithMiddleware(mw ...xhub.Middleware) Option {
	return func(b *xhub.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xhub.Observer) Option {
	return func(b *xhub.Builder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xhub.Builder) { b.WithObserverPool(workers, bufferSize) }
}

// WithConnectTimeout sets how long a peer waits before reporting an unreachable hub (default: 5s).
func WithConnectTimeout(d time.Duration) Option {
	return func(b *xhub.Builder) { b.WithConnectTimeout(d) }
}
