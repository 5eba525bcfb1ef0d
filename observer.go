package xhub

import (
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates relay lifecycle events for the Observer pattern.
type EventType string

const (
	ConnAccepted      EventType = "conn_accepted"
	ConnRejected      EventType = "conn_rejected"
	ConnClosed        EventType = "conn_closed"
	ConnectTimeout    EventType = "connect_timeout"
	EnvelopeSent      EventType = "envelope_sent"
	EnvelopeRouted    EventType = "envelope_routed"
	EnvelopeDelivered EventType = "envelope_delivered"
	EnvelopeDropped   EventType = "envelope_dropped"
	EnvelopeIgnored   EventType = "envelope_ignored"
	DecodeFailed      EventType = "decode_failed"
	ListenerFailed    EventType = "listener_failed"
	Error             EventType = "error"
)

// RelayEvent carries telemetry for observers.
type RelayEvent struct {
	Type EventType
	// Service is the remote service of a connection event, or the target of a relay.
	Service     string
	ConnID      string
	EnvelopeID  string
	EventID     string
	Origin      string
	Destination string
	Code        int
	Reason      string
	Duration    time.Duration
	Err         error
}

// Observer receives relay lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnRelayEvent(e RelayEvent)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e RelayEvent)

func (f ObserverFunc) OnRelayEvent(e RelayEvent) { f(e) }

// LoggingObserver is an Adapter that emits RelayEvents via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnRelayEvent(e RelayEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("service", e.Service),
		xlog.Str("conn_id", e.ConnID),
		xlog.Str("envelope_id", e.EnvelopeID),
		xlog.Str("event_id", e.EventID),
	)
	switch e.Type {
	case ConnRejected, ConnectTimeout, DecodeFailed, ListenerFailed, Error:
		ev.Warn().Err(e.Err).Msg("xhub event")
	case ConnAccepted:
		ev.Info().Msg("xhub connected")
	case ConnClosed:
		ev.Info().
			Str("code", strconv.Itoa(e.Code)).
			Str("reason", e.Reason).
			Msg("xhub connection closed")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xhub event")
	}
}

// notifier fans RelayEvents out to observers and keeps the metrics counters.
// Hub and Peer embed one each.
type notifier struct {
	pool        *ObserverPool
	observersMu sync.RWMutex
	observers   []Observer
	metrics     relayMetrics
}

// AddObserver registers an observer (thread-safe).
func (n *notifier) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	n.observersMu.Lock()
	n.observers = append(n.observers, obs)
	n.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of non-comparable types (such as
// ObserverFunc) cannot be removed.
func (n *notifier) RemoveObserver(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	n.observersMu.Lock()
	defer n.observersMu.Unlock()

	for i, o := range n.observers {
		if reflect.TypeOf(o).Comparable() && o == obs {
			n.observers = append(n.observers[:i], n.observers[i+1:]...)
			break
		}
	}
}

func (n *notifier) notify(e RelayEvent) {
	n.metrics.record(e)

	n.observersMu.RLock()
	if len(n.observers) == 0 {
		n.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.observersMu.RUnlock()

	if n.pool != nil {
		n.pool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		safeObserve(o, e)
	}
}

func safeObserve(o Observer, e RelayEvent) {
	defer func() {
		// Silent recovery; observer panic shouldn't break routing
		_ = recover()
	}()
	o.OnRelayEvent(e)
}

func (n *notifier) closePool(timeout time.Duration) error {
	if n.pool == nil {
		return nil
	}
	return n.pool.Close(timeout)
}
