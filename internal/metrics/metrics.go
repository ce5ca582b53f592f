// Package metrics holds Prometheus instrumentation for the vault.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the confidentiality subsystem.
type Metrics struct {
	GateDecisions *prometheus.CounterVec
	GrantsIssued  prometheus.Counter
	GrantsRevoked prometheus.Counter
	KDFDuration   prometheus.Histogram
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates and registers all metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellvault_gate_decisions_total",
			Help: "Access gate decisions by action and outcome",
		}, []string{"action", "outcome"}),
		GrantsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "wellvault_grants_issued_total",
			Help: "Total wrapped content keys issued",
		}),
		GrantsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "wellvault_grants_revoked_total",
			Help: "Total wrapped content keys revoked",
		}),
		KDFDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wellvault_kdf_duration_seconds",
			Help:    "KEK derivation latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

// ObserveDecision records one gate decision.
func (m *Metrics) ObserveDecision(action, outcome string) {
	m.GateDecisions.WithLabelValues(action, outcome).Inc()
}

// ObserveKDF records one KEK derivation duration.
func (m *Metrics) ObserveKDF(d time.Duration) {
	m.KDFDuration.Observe(d.Seconds())
}
