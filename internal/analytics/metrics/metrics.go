// Package metrics provides Prometheus instrumentation for analytics export.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks export throughput and backpressure.
type Metrics struct {
	RowsWritten  prometheus.Counter
	FlushErrors  prometheus.Counter
	RowsDropped  prometheus.Counter
	FlushLatency prometheus.Histogram
}

// New creates and registers analytics metrics.
func New() *Metrics {
	return &Metrics{
		RowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_analytics_rows_written_total",
			Help: "Rows successfully written to sinks",
		}),
		FlushErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_analytics_flush_errors_total",
			Help: "Failed batch flushes",
		}),
		RowsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_analytics_rows_dropped_total",
			Help: "Rows dropped because the pending buffer hit its cap",
		}),
		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_analytics_flush_latency_seconds",
			Help:    "Time spent writing one batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// AddRowsWritten counts rows persisted in a successful flush.
func (m *Metrics) AddRowsWritten(n int) {
	if m != nil {
		m.RowsWritten.Add(float64(n))
	}
}

// IncrementFlushError counts one failed flush.
func (m *Metrics) IncrementFlushError() {
	if m != nil {
		m.FlushErrors.Inc()
	}
}

// IncrementRowsDropped counts one row lost to backpressure.
func (m *Metrics) IncrementRowsDropped() {
	if m != nil {
		m.RowsDropped.Inc()
	}
}

// ObserveFlushLatency records how long one flush took.
func (m *Metrics) ObserveFlushLatency(d time.Duration) {
	if m != nil {
		m.FlushLatency.Observe(d.Seconds())
	}
}
