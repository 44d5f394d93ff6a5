package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyrelay"

// Revocation sources
const (
	SourceUser   = "user"
	SourceReaper = "reaper"
)

// Metrics holds the protocol counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	registrations *prometheus.CounterVec
	revocations   *prometheus.CounterVec
	relays        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepFailures prometheus.Counter
}

// New registers the protocol collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestation_verifications_total",
			Help:      "Session key attestation checks by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_registrations_total",
			Help:      "Session registration attempts by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_revocations_total",
			Help:      "Sessions flipped to revoked, by source.",
		}, []string{"source"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_attempts_total",
			Help:      "Relay submissions by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of expiration sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_failures_total",
			Help:      "Sessions the reaper failed to revoke.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verifications,
		m.registrations,
		m.revocations,
		m.relays,
		m.sweepDuration,
		m.sweepFailures,
	)
	return m
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Verification(ok bool) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Revocation(source string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(source).Inc()
}

func (m *Metrics) Relay(outcome string) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(outcome).Inc()
}

// Sweep records a finished reaper pass
func (m *Metrics) Sweep(elapsed time.Duration, failures int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
	m.sweepFailures.Add(float64(failures))
}

func result(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}
