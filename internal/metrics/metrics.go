// Package metrics holds the prometheus collectors for floater operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors registered on their own registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	pollAttempts      prometheus.Counter
	pollWait          *prometheus.HistogramVec
	orphaned          prometheus.Counter
	connectRetries    prometheus.Counter
	retired           *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floater_operations_total",
				Help: "Completed operations, broken down by operation and outcome kind.",
			}, []string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floater_operation_duration_seconds",
				Help:    "Duration of operations in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			}, []string{"operation"},
		),
		pollAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floater_allocation_poll_attempts_total",
			Help: "Record store lookups made while waiting for allocated addresses to become durable.",
		}),
		pollWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floater_allocation_poll_wait_seconds",
				Help:    "Time an allocated address waited for its durable record, by result.",
				Buckets: []float64{0.1, 1, 5, 10, 30, 60, 120, 300, 600},
			}, []string{"result"},
		),
		orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floater_allocation_orphaned_addresses_total",
			Help: "Addresses accepted by the control plane that never became durable and were not released.",
		}),
		connectRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floater_connect_retries_total",
			Help: "Control-plane connections retried over secure transport after a transient failure.",
		}),
		retired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floater_retired_addresses_total",
				Help: "Floating addresses processed during retirement, by outcome.",
			}, []string{"outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.operationDuration,
		m.pollAttempts,
		m.pollWait,
		m.orphaned,
		m.connectRetries,
		m.retired,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) PollAttempt() {
	if m == nil {
		return
	}
	m.pollAttempts.Inc()
}

// ObservePollWait records how long one address waited; result is
// "converged", "timeout" or "canceled".
func (m *Metrics) ObservePollWait(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollWait.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) Orphaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphaned.Add(float64(n))
}

func (m *Metrics) ConnectRetry() {
	if m == nil {
		return
	}
	m.connectRetries.Inc()
}

func (m *Metrics) Retired(outcome string) {
	if m == nil {
		return
	}
	m.retired.WithLabelValues(outcome).Inc()
}
