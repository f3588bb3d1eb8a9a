package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the validation module.
type Metrics struct {
	// Verdicts by outcome
	Verdicts *prometheus.CounterVec

	// Violations by rule code
	Violations *prometheus.CounterVec

	// Full rule-chain evaluation latency
	EvaluateLatency prometheus.Histogram
}

// New creates a new Metrics instance with all validation metrics registered.
func New() *Metrics {
	return &Metrics{
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_validation_verdicts_total",
			Help: "Total verdicts by outcome",
		}, []string{"outcome"}),

		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_validation_violations_total",
			Help: "Total rule violations by code",
		}, []string{"code"}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_validation_evaluate_duration_seconds",
			Help:    "Duration of evaluating the full rule chain for one document",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
		}),
	}
}

// IncrementVerdict records one evaluated document by outcome.
func (m *Metrics) IncrementVerdict(outcome string) {
	if m != nil {
		m.Verdicts.WithLabelValues(outcome).Inc()
	}
}

// IncrementViolation records one rule violation by code.
func (m *Metrics) IncrementViolation(code string) {
	if m != nil {
		m.Violations.WithLabelValues(code).Inc()
	}
}

// ObserveEvaluateLatency records the rule-chain duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
