// Package promobs exports xhub relay events as Prometheus metrics.
package promobs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trickstertwo/xhub"
)

// MetricsSource is implemented by *xhub.Hub and *xhub.Peer.
type MetricsSource interface {
	GetMetrics() xhub.Metrics
}

// Observer implements xhub.Observer on a private Prometheus registry.
type Observer struct {
	reg       *prometheus.Registry
	namespace string

	Connections *prometheus.CounterVec
	Envelopes   *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Delivery    prometheus.Histogram
}

var _ xhub.Observer = (*Observer)(nil)

// New creates an Observer with metric names under namespace (default "xhub").
func New(namespace string) *Observer {
	if namespace == "" {
		namespace = "xhub"
	}
	reg := prometheus.NewRegistry()
	o := &Observer{
		reg:       reg,
		namespace: namespace,
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connection lifecycle events by result",
		}, []string{"result"}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Envelopes by outcome",
		}, []string{"outcome"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failures by kind",
		}, []string{"kind"}),
		Delivery: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_seconds",
			Help:      "Time spent raising a delivered envelope on local listeners",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	reg.MustRegister(o.Connections, o.Envelopes, o.Failures, o.Delivery)
	return o
}

// Track exports the live connection count of src as a gauge.
func (o *Observer) Track(src MetricsSource) error {
	return o.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: o.namespace,
		Name:      "live_connections",
		Help:      "Connections currently live",
	}, func() float64 {
		return float64(src.GetMetrics().LiveConnections)
	}))
}

// Registry exposes the private registry, e.g. for tests or extra collectors.
func (o *Observer) Registry() *prometheus.Registry { return o.reg }

func (o *Observer) Handler() http.Handler { return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{}) }

func (o *Observer) OnRelayEvent(e xhub.RelayEvent) {
	switch e.Type {
	case xhub.ConnAccepted:
		o.Connections.WithLabelValues("accepted").Inc()
	case xhub.ConnRejected:
		o.Connections.WithLabelValues("rejected").Inc()
	case xhub.ConnClosed:
		o.Connections.WithLabelValues("closed").Inc()
	case xhub.EnvelopeSent:
		o.Envelopes.WithLabelValues("sent").Inc()
	case xhub.EnvelopeRouted:
		o.Envelopes.WithLabelValues("routed").Inc()
	case xhub.EnvelopeDelivered:
		o.Envelopes.WithLabelValues("delivered").Inc()
		o.Delivery.Observe(e.Duration.Seconds())
	case xhub.EnvelopeDropped:
		o.Envelopes.WithLabelValues("dropped").Inc()
	case xhub.EnvelopeIgnored:
		o.Envelopes.WithLabelValues("ignored").Inc()
	case xhub.DecodeFailed:
		o.Failures.WithLabelValues("decode").Inc()
	case xhub.ListenerFailed:
		o.Failures.WithLabelValues("listener").Inc()
	case xhub.ConnectTimeout:
		o.Failures.WithLabelValues("connect_timeout").Inc()
	case xhub.Error:
		o.Failures.WithLabelValues("error").Inc()
	}
}
