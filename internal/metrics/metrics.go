// Package metrics exposes Prometheus instruments for the ingestion service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eod_ingest"

// Metrics groups the service's collectors
type Metrics struct {
	registry *prometheus.Registry

	datesProcessed  *prometheus.CounterVec
	batches         *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	reconciledFiles *prometheus.CounterVec
	reconciledRows  prometheus.Counter
	notifyFailures  prometheus.Counter
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		datesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dates_processed_total",
			Help:      "Trading dates processed, by outcome status.",
		}, []string{"status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Ingestion batches, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of an ingestion batch.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		reconciledFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_files_total",
			Help:      "Artifacts loaded into the warehouse, by result.",
		}, []string{"result"}),
		reconciledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_rows_total",
			Help:      "Warehouse rows inserted by reconciliation.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Completion events that could not be published.",
		}),
	}

	m.registry.MustRegister(
		m.datesProcessed,
		m.batches,
		m.batchDuration,
		m.reconciledFiles,
		m.reconciledRows,
		m.notifyFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DateProcessed counts one per-date outcome
func (m *Metrics) DateProcessed(status string) {
	if m == nil {
		return
	}
	m.datesProcessed.WithLabelValues(status).Inc()
}

// BatchFinished records a batch outcome ("completed" or "aborted") and its duration
func (m *Metrics) BatchFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// FileReconciled records one artifact load; rows is ignored on failure
func (m *Metrics) FileReconciled(ok bool, rows int) {
	if m == nil {
		return
	}
	if !ok {
		m.reconciledFiles.WithLabelValues("failed").Inc()
		return
	}
	m.reconciledFiles.WithLabelValues("inserted").Inc()
	m.reconciledRows.Add(float64(rows))
}

// NotifyFailed counts a failed completion publish
func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
