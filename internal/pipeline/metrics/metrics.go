package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the processing pipeline.
type Metrics struct {
	// Submissions accepted for processing, by source
	Submissions *prometheus.CounterVec

	// Finalized verdicts by outcome
	Outcomes *prometheus.CounterVec

	// Submissions absorbed as duplicates of an existing record
	Duplicates prometheus.Counter

	// Structurally malformed submissions
	Malformed prometheus.Counter

	// Ingest records the consumer could not decode or process
	ConsumerErrors prometheus.Counter

	// End-to-end Process latency (normalize through store)
	ProcessLatency prometheus.Histogram
}

// New creates a new Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_pipeline_submissions_total",
			Help: "Total submissions accepted for processing by source",
		}, []string{"source"}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_pipeline_outcomes_total",
			Help: "Total finalized verdicts by outcome",
		}, []string{"outcome"}),

		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_pipeline_duplicates_total",
			Help: "Total submissions absorbed as duplicates",
		}),

		Malformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_pipeline_malformed_total",
			Help: "Total structurally malformed submissions",
		}),

		ConsumerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_pipeline_consumer_errors_total",
			Help: "Total ingest records skipped after a decode or processing failure",
		}),

		ProcessLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_pipeline_process_duration_seconds",
			Help:    "Duration of processing one submission end to end",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementSubmission records one submission accepted for processing.
func (m *Metrics) IncrementSubmission(source string) {
	if m != nil {
		m.Submissions.WithLabelValues(source).Inc()
	}
}

// IncrementOutcome records one finalized verdict by outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// IncrementDuplicate records one submission absorbed as a duplicate.
func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// IncrementMalformed records one structurally malformed submission.
func (m *Metrics) IncrementMalformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

// IncrementConsumerError records one skipped ingest record.
func (m *Metrics) IncrementConsumerError() {
	if m != nil {
		m.ConsumerErrors.Inc()
	}
}

// ObserveProcessLatency records the end-to-end processing duration.
func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	if m != nil {
		m.ProcessLatency.Observe(d.Seconds())
	}
}
