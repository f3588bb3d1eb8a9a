// Package metrics provides Prometheus instrumentation for notification
// dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks dispatch volume and delivery outcomes per channel/sender.
type Metrics struct {
	Dispatched      prometheus.Counter
	Delivered       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	DeadLettered    prometheus.Counter
	ChannelOpen     *prometheus.GaugeVec
	DeliveryLatency prometheus.Histogram
}

// New creates and registers notification metrics.
func New() *Metrics {
	return &Metrics{
		Dispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_notify_dispatched_total",
			Help: "Finalized records picked up for notification",
		}),
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_notify_delivered_total",
			Help: "Successful deliveries by channel and sender",
		}, []string{"channel", "sender"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_notify_failures_total",
			Help: "Failed deliveries by channel and sender",
		}, []string{"channel", "sender"}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_notify_dead_lettered_total",
			Help: "Events mirrored to the dead-letter sender while a channel circuit was open",
		}),
		ChannelOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fiscus_notify_channel_open",
			Help: "1 while the named route's circuit breaker is open",
		}, []string{"route"}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_notify_delivery_latency_seconds",
			Help:    "Time spent delivering one event",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementDispatched counts one record entering dispatch.
func (m *Metrics) IncrementDispatched() {
	if m != nil {
		m.Dispatched.Inc()
	}
}

// IncrementDelivered counts one successful delivery.
func (m *Metrics) IncrementDelivered(channel, sender string) {
	if m != nil {
		m.Delivered.WithLabelValues(channel, sender).Inc()
	}
}

// IncrementFailure counts one failed delivery.
func (m *Metrics) IncrementFailure(channel, sender string) {
	if m != nil {
		m.Failures.WithLabelValues(channel, sender).Inc()
	}
}

// IncrementDeadLettered counts one event mirrored to the dead-letter sender.
func (m *Metrics) IncrementDeadLettered() {
	if m != nil {
		m.DeadLettered.Inc()
	}
}

// SetChannelOpen flags whether the named route's circuit is open.
func (m *Metrics) SetChannelOpen(route string, open bool) {
	if m != nil {
		v := 0.0
		if open {
			v = 1
		}
		m.ChannelOpen.WithLabelValues(route).Set(v)
	}
}

// ObserveDeliveryLatency records how long one delivery took.
func (m *Metrics) ObserveDeliveryLatency(d time.Duration) {
	if m != nil {
		m.DeliveryLatency.Observe(d.Seconds())
	}
}
