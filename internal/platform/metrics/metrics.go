// Package metrics exposes the orchestrator's Prometheus instruments. All
// instruments live on a private registry so tests can create independent
// instances; a nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tunesmith"

// Submission outcomes.
const (
	SubmitAccepted      = "accepted"
	SubmitInvalid       = "invalid"
	SubmitRejected      = "rejected"
	SubmitProviderError = "provider_error"
	SubmitStoreError    = "store_error"
)

// Poll outcomes.
const (
	PollOK        = "ok"
	PollTransient = "transient"
	PollPermanent = "permanent"
	PollAnomaly   = "anomaly"
)

// Metrics holds every instrument recorded by the job pipeline.
type Metrics struct {
	registry *prometheus.Registry

	slotsInUse    prometheus.Gauge
	slotCapacity  prometheus.Gauge
	submissions   *prometheus.CounterVec
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	jobsFinished  *prometheus.CounterVec
	jobsRecovered prometheus.Counter
	commitErrors  prometheus.Counter
}

// New creates a Metrics instance on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		slotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_in_use",
			Help:      "Number of generation slots currently held.",
		}),
		slotCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slot_capacity",
			Help:      "Configured number of concurrent generation slots.",
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Generation submissions, partitioned by outcome.",
		}, []string{"outcome"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_polls_total",
			Help:      "Provider status polls, partitioned by outcome.",
		}, []string{"outcome"}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_poll_duration_seconds",
			Help:      "Latency of provider status polls.",
			Buckets:   prometheus.DefBuckets,
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status, partitioned by status.",
		}, []string{"status"}),
		jobsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_recovered_total",
			Help:      "Orphaned jobs resumed by recovery.",
		}),
		commitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_errors_total",
			Help:      "Failed attempts to persist a job update.",
		}),
	}
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetSlotCapacity records the configured slot capacity.
func (m *Metrics) SetSlotCapacity(n int) {
	if m == nil {
		return
	}
	m.slotCapacity.Set(float64(n))
}

// SetSlotsInUse records the number of held slots.
func (m *Metrics) SetSlotsInUse(n int) {
	if m == nil {
		return
	}
	m.slotsInUse.Set(float64(n))
}

// Submission counts one submission with the given outcome.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// Poll counts one provider poll and records its latency.
func (m *Metrics) Poll(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(took.Seconds())
}

// JobFinished counts a job reaching the given terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

// JobRecovered counts one resumed orphan.
func (m *Metrics) JobRecovered() {
	if m == nil {
		return
	}
	m.jobsRecovered.Inc()
}

// CommitError counts one failed persistence attempt.
func (m *Metrics) CommitError() {
	if m == nil {
		return
	}
	m.commitErrors.Inc()
}
