package xhub

import (
	"sync/atomic"
	"time"
)

// Metrics defines observable telemetry for a Hub or a Peer.
type Metrics struct {
	Accepted         uint64
	Rejected         uint64
	Closed           uint64
	Sent             uint64
	Routed           uint64
	Delivered        uint64
	Dropped          uint64
	Ignored          uint64
	DecodeFailures   uint64
	ListenerFailures uint64
	Errors           uint64
	LiveConnections  int
	EventsDropped    uint64 // observer events dropped by the pool
	AvgDeliveryMs    float64
}

// HealthStatus indicates connector health for probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// relayMetrics uses lock-free atomics; it is fed from the notifier.
type relayMetrics struct {
	accepted         atomic.Uint64
	rejected         atomic.Uint64
	closed           atomic.Uint64
	sent             atomic.Uint64
	routed           atomic.Uint64
	delivered        atomic.Uint64
	dropped          atomic.Uint64
	ignored          atomic.Uint64
	decodeFailures   atomic.Uint64
	listenerFailures atomic.Uint64
	errors           atomic.Uint64
	deliveryNs       atomic.Int64
}

func (m *relayMetrics) record(e RelayEvent) {
	switch e.Type {
	case ConnAccepted:
		m.accepted.Add(1)
	case ConnRejected:
		m.rejected.Add(1)
	case ConnClosed:
		m.closed.Add(1)
	case EnvelopeSent:
		m.sent.Add(1)
	case EnvelopeRouted:
		m.routed.Add(1)
	case EnvelopeDelivered:
		m.delivered.Add(1)
		m.recordDeliveryTime(e.Duration.Nanoseconds())
	case EnvelopeDropped:
		m.dropped.Add(1)
	case EnvelopeIgnored:
		m.ignored.Add(1)
	case DecodeFailed:
		m.decodeFailures.Add(1)
	case ListenerFailed:
		m.listenerFailures.Add(1)
	case Error, ConnectTimeout:
		m.errors.Add(1)
	}
}

// recordDeliveryTime keeps an exponential moving average of local dispatch time.
func (m *relayMetrics) recordDeliveryTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := m.deliveryNs.Load()
	if current == 0 {
		m.deliveryNs.Store(ns)
		return
	}
	m.deliveryNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

func (m *relayMetrics) snapshot() Metrics {
	return Metrics{
		Accepted:         m.accepted.Load(),
		Rejected:         m.rejected.Load(),
		Closed:           m.closed.Load(),
		Sent:             m.sent.Load(),
		Routed:           m.routed.Load(),
		Delivered:        m.delivered.Load(),
		Dropped:          m.dropped.Load(),
		Ignored:          m.ignored.Load(),
		DecodeFailures:   m.decodeFailures.Load(),
		ListenerFailures: m.listenerFailures.Load(),
		Errors:           m.errors.Load(),
		AvgDeliveryMs:    float64(m.deliveryNs.Load()) / 1e6,
	}
}

// health derives a status from a metrics snapshot. Degraded when more than 5% of
// handled envelopes failed to decode or were dropped.
func health(running bool, m Metrics, now time.Time) HealthStatus {
	if !running {
		return HealthStatus{Status: "unhealthy", Metrics: m, Timestamp: now, Message: "not running"}
	}
	status := "healthy"
	handled := m.Routed + m.Delivered + m.Dropped + m.DecodeFailures + m.Ignored
	if handled > 0 {
		bad := float64(m.Dropped+m.DecodeFailures) / float64(handled)
		if bad > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}
