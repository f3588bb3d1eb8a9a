package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fiscus/internal/domain"
	"fiscus/internal/notify/metrics"
	"fiscus/internal/status"
	"fiscus/pkg/platform/circuit"
)

// Dispatcher consumes the insertion feed and delivers each finalized record
// on every matching route. Routes run concurrently and fail independently;
// the dispatcher waits for all of them before taking the next record so
// feed order is preserved per subscriber.
//
// Every route carries a circuit breaker. Deliveries are always attempted,
// but once a channel's breaker opens each event is mirrored to the
// dead-letter sender (when configured) until the channel recovers.
type Dispatcher struct {
	routes     []Route
	breakers   map[string]*circuit.Breaker
	deadLetter Sender
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the EmittedAt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithDeadLetter sets the sender that receives a copy of every event whose
// route breaker is open. Without one, events on a dark channel are only
// logged and counted.
func WithDeadLetter(s Sender) Option {
	return func(d *Dispatcher) { d.deadLetter = s }
}

// New creates a dispatcher over the given routes.
func New(routes []Route, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:   routes,
		breakers: make(map[string]*circuit.Breaker, len(routes)),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, route := range routes {
		key := routeKey(route)
		d.breakers[key] = circuit.New(key)
	}
	return d
}

func routeKey(route Route) string {
	return string(route.Channel) + "/" + route.Sender.Name()
}

// Run consumes sub until ctx is cancelled or the feed closes.
func (d *Dispatcher) Run(ctx context.Context, sub *status.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-sub.C():
			if !ok {
				return nil
			}
			d.Dispatch(ctx, rec)
		}
	}
}

// Dispatch delivers rec on every route whose policy matches its outcome and
// waits for all deliveries to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, rec domain.StatusRecord) {
	d.metrics.IncrementDispatched()

	var wg sync.WaitGroup
	for _, route := range d.routes {
		if !route.Policy.Matches(rec.Outcome) {
			continue
		}
		wg.Add(1)
		go func(route Route) {
			defer wg.Done()
			d.deliver(ctx, route, rec)
		}(route)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, route Route, rec domain.StatusRecord) {
	event := NewEvent(route.Channel, rec, d.now().UTC())
	breaker := d.breakers[routeKey(route)]

	start := time.Now()
	err := route.Sender.Send(ctx, event)
	d.metrics.ObserveDeliveryLatency(time.Since(start))

	if err != nil {
		d.metrics.IncrementFailure(string(route.Channel), route.Sender.Name())
		d.logger.ErrorContext(ctx, "notification delivery failed",
			"channel", route.Channel,
			"sender", route.Sender.Name(),
			"document_id", rec.DocumentID,
			"error", err,
		)

		useFallback, change := breaker.RecordFailure()
		if change.Opened {
			d.metrics.SetChannelOpen(breaker.Name(), true)
			d.logger.ErrorContext(ctx, "notification channel circuit opened",
				"channel", route.Channel,
				"sender", route.Sender.Name(),
			)
		}
		if useFallback {
			d.deadLetterEvent(ctx, event)
		}
		return
	}

	if _, change := breaker.RecordSuccess(); change.Closed {
		d.metrics.SetChannelOpen(breaker.Name(), false)
		d.logger.InfoContext(ctx, "notification channel circuit closed",
			"channel", route.Channel,
			"sender", route.Sender.Name(),
		)
	}

	d.metrics.IncrementDelivered(string(route.Channel), route.Sender.Name())
	d.logger.DebugContext(ctx, "notification delivered",
		"channel", route.Channel,
		"sender", route.Sender.Name(),
		"document_id", rec.DocumentID,
	)
}

func (d *Dispatcher) deadLetterEvent(ctx context.Context, event domain.NotificationEvent) {
	if d.deadLetter == nil {
		return
	}
	if err := d.deadLetter.Send(ctx, event); err != nil {
		d.logger.WarnContext(ctx, "dead-letter delivery failed",
			"sender", d.deadLetter.Name(),
			"document_id", event.DocumentID,
			"error", err,
		)
		return
	}
	d.metrics.IncrementDeadLettered()
}

// NewEvent builds the wire event for one record on one channel.
func NewEvent(channel domain.NotificationChannel, rec domain.StatusRecord, emittedAt time.Time) domain.NotificationEvent {
	codes := make([]string, 0, len(rec.Violations))
	for _, v := range rec.Violations {
		codes = append(codes, string(v.Code))
	}
	return domain.NotificationEvent{
		ID:             uuid.NewString(),
		Channel:        channel,
		DocumentID:     rec.DocumentID,
		Outcome:        rec.Outcome,
		Reason:         rec.Reason,
		ViolationCodes: codes,
		Delta:          rec.MathDelta(),
		Jurisdiction:   rec.Jurisdiction,
		SupplierName:   rec.SupplierName,
		NetTotal:       rec.NetTotal,
		TaxAmount:      rec.TaxAmount,
		EvaluatedAt:    rec.EvaluatedAt,
		EmittedAt:      emittedAt,
	}
}
