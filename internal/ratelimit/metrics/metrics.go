package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the quota collectors. New registers them on the default
// registry; NewWithRegistry is for tests and embedded use.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	StoreLatency   *prometheus.HistogramVec
	CASConflicts   prometheus.Counter
	Degraded       prometheus.Counter
	CircuitOpen    prometheus.Gauge
	SweptEntries   prometheus.Counter
	SweepDurations prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_ratelimit_decisions_total",
			Help: "Quota decisions by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_ratelimit_store_errors_total",
			Help: "Quota store failures by operation",
		}, []string{"op"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nova_ratelimit_store_duration_seconds",
			Help:    "Quota store round-trip latency by operation",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"op"}),
		CASConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_ratelimit_cas_conflicts_total",
			Help: "Compare-and-swap attempts lost to a concurrent writer",
		}),
		Degraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_ratelimit_degraded_total",
			Help: "Requests admitted without consulting the store (fail-open)",
		}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nova_ratelimit_store_circuit_open",
			Help: "1 while the quota store circuit breaker is open",
		}),
		SweptEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "nova_ratelimit_swept_entries_total",
			Help: "Expired quota entries removed by the sweeper",
		}),
		SweepDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "nova_ratelimit_sweep_duration_seconds",
			Help: "Duration of sweeper passes",
		}),
	}
}

func (m *Metrics) RecordDecision(endpoint string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ObserveStore(op string, started time.Time, err error) {
	m.StoreLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncrementCASConflicts() {
	m.CASConflicts.Inc()
}

func (m *Metrics) IncrementDegraded() {
	m.Degraded.Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

func (m *Metrics) RecordSweep(removed int, took time.Duration) {
	m.SweptEntries.Add(float64(removed))
	m.SweepDurations.Observe(took.Seconds())
}
