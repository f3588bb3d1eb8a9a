package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the status store, the insertion feed,
// and the outbox relay.
type Metrics struct {
	// First-time inserts by outcome
	Inserts *prometheus.CounterVec

	// Re-submissions that found an existing record
	Duplicates prometheus.Counter

	// Feed events dropped per subscriber because its buffer was full
	FeedDropped *prometheus.CounterVec

	// Outbox rows successfully relayed downstream
	OutboxPublished prometheus.Counter

	// Relay cycles that hit a fetch, publish, or mark failure
	RelayErrors prometheus.Counter

	// RecordIfAbsent latency
	InsertLatency prometheus.Histogram
}

// New creates a new Metrics instance with all status metrics registered.
func New() *Metrics {
	return &Metrics{
		Inserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_status_inserts_total",
			Help: "Total first-time finalized records by outcome",
		}, []string{"outcome"}),

		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_status_duplicates_total",
			Help: "Total submissions that found an already-finalized record",
		}),

		FeedDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_status_feed_dropped_total",
			Help: "Total insertion events dropped because a subscriber buffer was full",
		}, []string{"subscriber"}),

		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_status_outbox_published_total",
			Help: "Total outbox rows relayed downstream",
		}),

		RelayErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_status_relay_errors_total",
			Help: "Total outbox relay cycles that failed",
		}),

		InsertLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_status_insert_duration_seconds",
			Help:    "Duration of RecordIfAbsent against the backing store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncrementInsert records a first-time finalization.
func (m *Metrics) IncrementInsert(outcome string) {
	if m != nil {
		m.Inserts.WithLabelValues(outcome).Inc()
	}
}

// IncrementDuplicate records a suppressed re-submission.
func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// IncrementFeedDropped records a dropped feed event for one subscriber.
func (m *Metrics) IncrementFeedDropped(subscriber string) {
	if m != nil {
		m.FeedDropped.WithLabelValues(subscriber).Inc()
	}
}

// IncrementOutboxPublished records one relayed outbox row.
func (m *Metrics) IncrementOutboxPublished() {
	if m != nil {
		m.OutboxPublished.Inc()
	}
}

// IncrementRelayError records a failed relay cycle.
func (m *Metrics) IncrementRelayError() {
	if m != nil {
		m.RelayErrors.Inc()
	}
}

// ObserveInsertLatency records the duration of one RecordIfAbsent call.
func (m *Metrics) ObserveInsertLatency(d time.Duration) {
	if m != nil {
		m.InsertLatency.Observe(d.Seconds())
	}
}
