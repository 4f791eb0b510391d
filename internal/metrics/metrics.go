// Package metrics holds the Prometheus instruments of the store. Each
// Metrics owns its registry so several stores can live in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	SearchResults     *prometheus.HistogramVec
	WriteConflicts    prometheus.Counter
	IndexesCreated    *prometheus.CounterVec
	IndexFailures     *prometheus.CounterVec
	TraversalVisited  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastore_operation_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		SearchResults: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastore_search_results",
				Help:    "Number of instances a search returned",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"group"},
		),
		WriteConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "metastore_write_conflicts_total",
				Help: "Conditional writes retried after a concurrent commit",
			},
		),
		IndexesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_indexes_created_total",
				Help: "Index creation requests sent to the backend",
			},
			[]string{"category"},
		),
		IndexFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastore_index_failures_total",
				Help: "Index creation failures swallowed as races",
			},
			[]string{"category"},
		),
		TraversalVisited: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastore_traversal_visited_entities",
				Help:    "Entities expanded by one traversal",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"kind"},
		),
	}
}

// RecordOperation counts one store operation and observes its duration.
// A nil receiver records nothing.
func (m *Metrics) RecordOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordSearch(group string, n int) {
	if m == nil {
		return
	}
	m.SearchResults.WithLabelValues(group).Observe(float64(n))
}

func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.WriteConflicts.Inc()
}

func (m *Metrics) RecordIndex(category string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.IndexFailures.WithLabelValues(category).Inc()
		return
	}
	m.IndexesCreated.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordTraversal(kind string, visited int) {
	if m == nil {
		return
	}
	m.TraversalVisited.WithLabelValues(kind).Observe(float64(visited))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
