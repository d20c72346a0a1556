// Package metrics exposes Prometheus instruments for the worker pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the worker instruments on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Claimed     prometheus.Counter
	Completed   prometheus.Counter
	Retried     prometheus.Counter
	Dead        prometheus.Counter
	StoreErrors prometheus.Counter
	Duration    *prometheus.HistogramVec
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queuectl",
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by workers.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queuectl",
			Name:      "jobs_completed_total",
			Help:      "Jobs that finished successfully.",
		}),
		Retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queuectl",
			Name:      "jobs_retried_total",
			Help:      "Failed attempts scheduled for retry.",
		}),
		Dead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queuectl",
			Name:      "jobs_dead_total",
			Help:      "Jobs moved to the dead letter queue.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queuectl",
			Name:      "store_errors_total",
			Help:      "Errors returned by the job store to workers.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queuectl",
			Name:      "job_duration_seconds",
			Help:      "Command execution time by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.Claimed, m.Completed, m.Retried, m.Dead, m.StoreErrors, m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveClaim() {
	if m != nil {
		m.Claimed.Inc()
	}
}

func (m *Metrics) ObserveStoreError() {
	if m != nil {
		m.StoreErrors.Inc()
	}
}

// ObserveOutcome records how a claimed job ended: "completed", "retry" or "dead".
func (m *Metrics) ObserveOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	switch outcome {
	case "completed":
		m.Completed.Inc()
	case "retry":
		m.Retried.Inc()
	case "dead":
		m.Dead.Inc()
	}
	m.Duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
