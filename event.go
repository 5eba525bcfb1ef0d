package xhub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Listener is a callback registered on an Event. A returned error or a panic counts as a
// listener failure; it is reported and never stops the remaining listeners.
type Listener func(ctx context.Context, data Payload, destination string) error

// FailureFunc receives listener failures collected during a raise.
type FailureFunc func(err *ListenerError)

// Event is a named local publish/subscribe channel.
type Event struct {
	name string

	mu        sync.RWMutex
	order     []string
	listeners map[string]Listener

	middlewares []Middleware
	onFailure   FailureFunc
}

// NewEvent creates a standalone Event. onFailure may be nil, in which case failures are dropped.
func NewEvent(name string, onFailure FailureFunc) *Event {
	return newEvent(name, nil, onFailure)
}

func newEvent(name string, mws []Middleware, onFailure FailureFunc) *Event {
	return &Event{
		name:        name,
		listeners:   make(map[string]Listener),
		middlewares: mws,
		onFailure:   onFailure,
	}
}

// Name returns the event identifier.
func (e *Event) Name() string { return e.name }

// AddListener registers l and returns its id. When id is omitted or empty a UUID is generated.
// A duplicate id fails with ErrDuplicateIdentifier and leaves the existing listener in place.
func (e *Event) AddListener(l Listener, id ...string) (string, error) {
	if l == nil {
		return "", ErrNilListener
	}
	lid := ""
	if len(id) > 0 {
		lid = id[0]
	}
	if lid == "" {
		lid = uuid.NewString()
	}

	wrapped := Chain(l, e.middlewares...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.listeners[lid]; exists {
		return "", fmt.Errorf("%w: listener %q on event %q", ErrDuplicateIdentifier, lid, e.name)
	}
	e.listeners[lid] = wrapped
	e.order = append(e.order, lid)
	return lid, nil
}

// RemoveListener unregisters id. An unknown id returns ErrListenerNotFound and changes nothing.
func (e *Event) RemoveListener(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[id]; !ok {
		return fmt.Errorf("%w: %q on event %q", ErrListenerNotFound, id, e.name)
	}
	delete(e.listeners, id)
	for i, lid := range e.order {
		if lid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Listeners returns the registered ids in insertion order.
func (e *Event) Listeners() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Raise invokes every listener registered at call time, in registration order, synchronously.
// It returns the number of listeners that failed.
func (e *Event) Raise(ctx context.Context, data Payload, destination string) int {
	type entry struct {
		id string
		l  Listener
	}

	e.mu.RLock()
	snapshot := make([]entry, 0, len(e.order))
	for _, id := range e.order {
		snapshot = append(snapshot, entry{id: id, l: e.listeners[id]})
	}
	e.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}

	failed := 0
	for _, en := range snapshot {
		err := RecoveryMiddleware()(en.l)(ctx, data, destination)
		if err == nil {
			continue
		}
		failed++
		lerr := &ListenerError{EventID: e.name, ListenerID: en.id, Err: err}
		var pe *panicError
		if errors.As(err, &pe) {
			lerr.Panic = pe.value
		}
		if e.onFailure != nil {
			e.onFailure(lerr)
		}
	}
	return failed
}
