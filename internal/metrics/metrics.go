// Package metrics exposes Prometheus collectors for the escrow core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by the coordinator and funding service.
type Metrics struct {
	registry *prometheus.Registry

	Postings    *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Retries     prometheus.Counter
	Duration    *prometheus.HistogramVec
}

// New registers the escrow collectors, plus the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "ledger_postings_total",
			Help:      "Ledger transactions written, by kind.",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operation_failures_total",
			Help:      "Failed coordinator operations, by operation and error kind.",
		}, []string{"operation", "kind"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "unit_of_work_retries_total",
			Help:      "Units of work retried after a transient failure.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Coordinator operation latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(
		m.Postings, m.Transitions, m.Failures, m.Retries, m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
