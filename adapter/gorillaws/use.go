package gorillaws

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xlog"
)

// UseHub builds a Hub on the WebSocket transport, panicking on misconfiguration.
//
// Example:
//
//	hub := gorillaws.UseHub(gorillaws.Defaults(),
//	    gorillaws.WithServices("Billing"),
//	    gorillaws.WithDirectory(dir),
//	)
//	_ = hub.Run(ctx, 8080)
func UseHub(cfg Config, opts ...Option) *xhub.Hub {
	hub, err := builder(cfg, opts).BuildHub()
	if err != nil {
		panic(fmt.Errorf("gorillaws.UseHub: %w", err))
	}
	return hub
}

// UsePeer builds a Peer on the WebSocket transport, panicking on misconfiguration.
func UsePeer(cfg Config, opts ...Option) *xhub.Peer {
	peer, err := builder(cfg, opts).BuildPeer()
	if err != nil {
		panic(fmt.Errorf("gorillaws.UsePeer: %w", err))
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

// Option configures the xhub.Builder when calling UseHub or UsePeer.
type Option func(*xhub.Builder)

func WithName(name string) Option {
	return func(b *xhub.Builder) { b.WithName(name) }
}

func WithServices(names ...string) Option {
	return func(b *xhub.Builder) { b.WithServices(names...) }
}

// WithDirectory swaps the hub's registered-services store (e.g. redisdir).
func WithDirectory(d xhub.Directory) Option {
	return func(b *xhub.Builder) { b.WithDirectory(d) }
}

func WithLogger(l *xlog.Logger) Option {
	return func(b *xhub.Builder) { b.WithLogger(l) }
}

func WithClock(c xclock.Clock) Option {
	return func(b *xhub.Builder) { b.WithClock(c) }
}

func WithCodec(name string) Option {
	return func(b *xhub.Builder) { b.WithCodec(name) }
}

func WithMiddleware(mw ...xhub.Middleware) Option {
	return func(b *xhub.Builder) { b.WithMiddleware(mw...) }
}

func WithObserver(obs ...xhub.Observer) Option {
	return func(b *xhub.Builder) { b.WithObserver(obs...) }
}

func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xhub.Builder) { b.WithObserverPool(workers, bufferSize) }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(b *xhub.Builder) { b.WithConnectTimeout(d) }
}
