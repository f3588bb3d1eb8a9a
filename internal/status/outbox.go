package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fiscus/internal/domain"
	"fiscus/internal/status/metrics"
)

// OutboxEntry is one undispatched row of the transactional outbox.
type OutboxEntry struct {
	ID        uuid.UUID
	Record    domain.StatusRecord
	CreatedAt time.Time
}

// OutboxSource drains outbox rows written alongside status inserts.
type OutboxSource interface {
	// FetchUndispatched returns up to limit entries, oldest first.
	FetchUndispatched(ctx context.Context, limit int) ([]OutboxEntry, error)
	// MarkDispatched stamps entries so they are not fetched again.
	MarkDispatched(ctx context.Context, ids []uuid.UUID) error
}

// PublishFunc delivers one finalized record downstream.
type PublishFunc func(ctx context.Context, rec domain.StatusRecord) error

const (
	defaultRelayInterval = 500 * time.Millisecond
	defaultRelayBatch    = 100
)

// Relay polls the outbox and republishes committed insertions in commit
// order. Delivery is at-least-once: an entry is marked dispatched only after
// publish succeeds, so a crash between the two replays the entry. On a
// publish failure the relay marks the successful prefix and retries the rest
// next tick, preserving order.
type Relay struct {
	source   OutboxSource
	publish  PublishFunc
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayInterval sets the poll interval.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithRelayBatch caps how many entries one tick drains.
func WithRelayBatch(n int) RelayOption {
	return func(r *Relay) { r.batch = n }
}

// WithRelayLogger sets a logger for drain errors.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// WithRelayMetrics attaches status metrics.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// NewRelay creates a relay that feeds publish from source.
func NewRelay(source OutboxSource, publish PublishFunc, opts ...RelayOption) *Relay {
	r := &Relay{
		source:   source,
		publish:  publish,
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Errors are logged and retried; they never
// stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.metrics.IncrementRelayError()
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce fetches one batch and publishes it. Exposed for tests and for
// flushing on shutdown.
func (r *Relay) DrainOnce(ctx context.Context) error {
	entries, err := r.source.FetchUndispatched(ctx, r.batch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	dispatched := make([]uuid.UUID, 0, len(entries))
	var publishErr error
	for _, entry := range entries {
		if err := r.publish(ctx, entry.Record); err != nil {
			publishErr = err
			break
		}
		dispatched = append(dispatched, entry.ID)
		r.metrics.IncrementOutboxPublished()
	}

	if len(dispatched) > 0 {
		if err := r.source.MarkDispatched(ctx, dispatched); err != nil {
			return err
		}
	}
	return publishErr
}
