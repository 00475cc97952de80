// Package telemetry provides the ambient logging, metrics, and tracing
// stack for the transaction core: structured logging via zap, Prometheus
// counters/histograms grounded on celeris's pkg/celeris/metrics.go naming
// convention, and one OpenTelemetry span per transaction grounded on
// celeris's pkg/celeris/tracing.go.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transaction core's Prometheus instruments. Construct
// one per process with NewMetrics and share it across every Transaction
// (promauto-style registration must happen once).
type Metrics struct {
	transactionsOpened   *prometheus.CounterVec
	transactionsDetached  *prometheus.CounterVec
	protocolErrors        *prometheus.CounterVec
	egressPauseEvents     *prometheus.CounterVec
	windowStalls          *prometheus.CounterVec
	rateLimiterStalls     prometheus.Counter
	deferredIngressBytes  prometheus.Histogram
	flushSize             prometheus.Histogram
}

// NewMetrics registers the transaction core's instruments against reg. Pass
// a fresh prometheus.NewRegistry() in tests to avoid cross-test collisions;
// pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transactionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "httptxn_transactions_opened_total",
			Help: "Total number of transactions created, by direction.",
		}, []string{"direction"}),
		transactionsDetached: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "httptxn_transactions_detached_total",
			Help: "Total number of transactions detached, by direction.",
		}, []string{"direction"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "httptxn_protocol_errors_total",
			Help: "Total number of protocol errors raised, by kind and direction.",
		}, []string{"kind", "direction"}),
		egressPauseEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "httptxn_egress_pause_events_total",
			Help: "Total number of egress pause/resume transitions delivered to handlers.",
		}, []string{"transition"}),
		windowStalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "httptxn_window_stalls_total",
			Help: "Total number of times a send window reached zero, by direction.",
		}, []string{"direction"}),
		rateLimiterStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "httptxn_rate_limiter_stalls_total",
			Help: "Total number of egress flushes deferred by the rate limiter.",
		}),
		deferredIngressBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "httptxn_deferred_ingress_bytes",
			Help:    "Size in bytes of the deferred ingress queue after each enqueue.",
			Buckets: []float64{0, 1024, 4096, 16384, 65536, 262144, 1048576},
		}),
		flushSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "httptxn_egress_flush_bytes",
			Help:    "Size in bytes of each egress flush accepted by the transport.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}
}

// NewNopMetrics returns a Metrics backed by a private, unregistered
// registry, so callers that don't care about metrics (unit tests, small
// tools) don't need to thread a *prometheus.Registry through everywhere.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) TransactionOpened(direction string) {
	if m == nil {
		return
	}
	m.transactionsOpened.WithLabelValues(direction).Inc()
}

func (m *Metrics) TransactionDetached(direction string) {
	if m == nil {
		return
	}
	m.transactionsDetached.WithLabelValues(direction).Inc()
}

func (m *Metrics) ProtocolError(kind, direction string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) EgressPauseTransition(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.egressPauseEvents.WithLabelValues("paused").Inc()
	} else {
		m.egressPauseEvents.WithLabelValues("resumed").Inc()
	}
}

func (m *Metrics) WindowStall(direction string) {
	if m == nil {
		return
	}
	m.windowStalls.WithLabelValues(direction).Inc()
}

func (m *Metrics) RateLimiterStall() {
	if m == nil {
		return
	}
	m.rateLimiterStalls.Inc()
}

func (m *Metrics) DeferredIngressBytes(n int) {
	if m == nil {
		return
	}
	m.deferredIngressBytes.Observe(float64(n))
}

func (m *Metrics) FlushSize(n int) {
	if m == nil {
		return
	}
	m.flushSize.Observe(float64(n))
}
