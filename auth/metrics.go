package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for HTTP authentication negotiation.
//
// All metrics use the "negotiate_" prefix. Methods handle a nil receiver,
// so a nil *Metrics is a no-op when metrics are disabled.
type Metrics struct {
	// Negotiations counts finished negotiations.
	// Labels: scheme=[Negotiate, NTLM, Basic], outcome=[complete, rejected,
	// context_failed, unavailable, max_rounds, error]
	Negotiations *prometheus.CounterVec

	// Rounds observes provider token calls per finished session.
	// Labels: scheme
	Rounds *prometheus.HistogramVec

	// ConnectionResets counts sessions reset because the connection changed.
	// Labels: scheme
	ConnectionResets *prometheus.CounterVec

	// ProviderDuration observes blocking provider call time.
	// Labels: scheme, operation=[acquire, step], result=[success, failure]
	ProviderDuration *prometheus.HistogramVec
}

var (
	defaultMetricsOnce     sync.Once
	defaultMetricsInstance *Metrics
)

// NewMetrics creates and registers negotiation metrics.
//
// If registerer is nil, prometheus.DefaultRegisterer is used and the
// metrics are registered exactly once per process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetricsInstance = newMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetricsInstance
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Negotiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "negotiate_sessions_total",
				Help: "Total authentication sessions by scheme and outcome",
			},
			[]string{"scheme", "outcome"},
		),
		Rounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "negotiate_session_rounds",
				Help:    "Provider token calls per authentication session",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 10},
			},
			[]string{"scheme"},
		),
		ConnectionResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "negotiate_connection_resets_total",
				Help: "Sessions reset because the underlying connection changed",
			},
			[]string{"scheme"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "negotiate_provider_call_duration_seconds",
				Help:    "Security provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scheme", "operation", "result"},
		),
	}

	m.Negotiations = registerOrReuse(registerer, m.Negotiations).(*prometheus.CounterVec)
	m.Rounds = registerOrReuse(registerer, m.Rounds).(*prometheus.HistogramVec)
	m.ConnectionResets = registerOrReuse(registerer, m.ConnectionResets).(*prometheus.CounterVec)
	m.ProviderDuration = registerOrReuse(registerer, m.ProviderDuration).(*prometheus.HistogramVec)
	return m
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so several clients can share one registry.
// Panics on any other registration error.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(scheme Scheme, outcome string, rounds int) {
	if m == nil {
		return
	}
	m.Negotiations.WithLabelValues(scheme.String(), outcome).Inc()
	m.Rounds.WithLabelValues(scheme.String()).Observe(float64(rounds))
}

// RecordConnectionReset records a session reset caused by a connection change.
func (m *Metrics) RecordConnectionReset(scheme Scheme) {
	if m == nil {
		return
	}
	m.ConnectionResets.WithLabelValues(scheme.String()).Inc()
}

// RecordProviderCall records one blocking provider call.
func (m *Metrics) RecordProviderCall(scheme Scheme, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ProviderDuration.WithLabelValues(scheme.String(), operation, result).Observe(d.Seconds())
}
