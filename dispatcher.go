package xhub

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/trickstertwo/xlog"
)

// ForwardListenerID is the reserved listener id of the forwarding listener.
const ForwardListenerID = "xhub:forward"

// Sender is the connector seam of a Dispatcher: Hub and Peer implement it.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// Dispatcher maps event identifiers to Events. Events are created lazily and kept for the
// lifetime of the Dispatcher. When built with a Sender, every Event gets a forwarding
// listener that turns raises addressed to another service into Envelopes.
type Dispatcher struct {
	sender      Sender
	logger      *xlog.Logger
	middlewares []Middleware
	onFailure   FailureFunc

	nameMu sync.RWMutex
	name   string

	mu     sync.Mutex
	events map[string]*Event
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger attached to listener contexts on delivery.
func WithDispatcherLogger(l *xlog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithListenerMiddleware wraps every listener added to events of this Dispatcher.
func WithListenerMiddleware(mw ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mw...) }
}

// WithFailureHandler receives listener failures of every event.
func WithFailureHandler(fn FailureFunc) DispatcherOption {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// NewDispatcher creates a Dispatcher for the local service name. A nil sender gives a
// local-only Dispatcher without forwarding listeners.
func NewDispatcher(name string, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		name:   name,
		events: make(map[string]*Event),
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	return d
}

// Name returns the local service name.
func (d *Dispatcher) Name() string {
	d.nameMu.RLock()
	defer d.nameMu.RUnlock()
	return d.name
}

func (d *Dispatcher) setName(name string) {
	d.nameMu.Lock()
	d.name = name
	d.nameMu.Unlock()
}

// Event returns the Event for id, creating it on first reference.
func (d *Dispatcher) Event(id string) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev, ok := d.events[id]; ok {
		return ev
	}
	ev := newEvent(id, d.middlewares, d.onFailure)
	if d.sender != nil {
		// forwarding listener is installed before any user listener
		ev.listeners[ForwardListenerID] = d.forwarder(id)
		ev.order = append(ev.order, ForwardListenerID)
	}
	d.events[id] = ev
	return ev
}

// Events returns the known event identifiers, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.events))
	for id := range d.events {
		out = append(out, id)
	}
	d.mu.Unlock()
	sort.Strings(out)
	return out
}

func (d *Dispatcher) forwarder(eventID string) Listener {
	return func(ctx context.Context, data Payload, destination string) error {
		local := d.Name()
		if destination == "" || destination == local {
			return nil
		}
		return d.sender.Send(ctx, Envelope{
			ID:          uuid.NewString(),
			Origin:      local,
			EventID:     eventID,
			Destination: destination,
			Payload:     data,
		})
	}
}

// Deliver raises env.EventID locally with env.Payload. The destination is cleared, and the
// envelope and logger are visible to listeners through the context.
// It returns the number of failed listeners.
func (d *Dispatcher) Deliver(ctx context.Context, env Envelope) int {
	if ctx == nil {
		ctx = context.Background()
	}
	env.Destination = ""
	ctx = injectEnvelope(ctx, env)
	ctx = injectLogger(ctx, d.logger)
	return d.Event(env.EventID).Raise(ctx, env.Payload, "")
}
