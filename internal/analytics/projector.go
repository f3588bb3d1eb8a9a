package analytics

import (
	"context"
	"log/slog"
	"time"

	"fiscus/internal/analytics/metrics"
	"fiscus/internal/status"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 2 * time.Second
	defaultPendingCap    = 10000
)

// Projector consumes the insertion feed and writes flattened rows in
// batches. A batch flushes when it reaches the batch size or when the
// interval elapses. Failed flushes keep their rows for the next attempt;
// when pending rows exceed the cap the oldest are dropped, counted and
// logged, so a dead sink can never exhaust memory.
type Projector struct {
	sink     Sink
	batch    int
	interval time.Duration
	cap      int
	pending  []Record
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithBatchSize sets how many rows trigger an immediate flush.
func WithBatchSize(n int) ProjectorOption {
	return func(p *Projector) {
		if n > 0 {
			p.batch = n
		}
	}
}

// WithFlushInterval sets the time-based flush period.
func WithFlushInterval(d time.Duration) ProjectorOption {
	return func(p *Projector) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPendingCap bounds rows buffered across failed flushes.
func WithPendingCap(n int) ProjectorOption {
	return func(p *Projector) {
		if n > 0 {
			p.cap = n
		}
	}
}

// WithProjectorLogger sets a structured logger.
func WithProjectorLogger(logger *slog.Logger) ProjectorOption {
	return func(p *Projector) { p.logger = logger }
}

// WithProjectorMetrics attaches analytics metrics.
func WithProjectorMetrics(m *metrics.Metrics) ProjectorOption {
	return func(p *Projector) { p.metrics = m }
}

// NewProjector creates a projector writing to sink.
func NewProjector(sink Sink, opts ...ProjectorOption) *Projector {
	p := &Projector{
		sink:     sink,
		batch:    defaultBatchSize,
		interval: defaultFlushInterval,
		cap:      defaultPendingCap,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes sub until ctx is cancelled or the feed closes, then flushes
// what is pending.
func (p *Projector) Run(ctx context.Context, sub *status.Subscription) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort final flush; the run context is already dead.
			p.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case rec, ok := <-sub.C():
			if !ok {
				p.flush(ctx)
				return nil
			}
			p.append(FromStatus(rec))
			if len(p.pending) >= p.batch {
				p.flush(ctx)
			}
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Projector) append(row Record) {
	if len(p.pending) >= p.cap {
		p.pending = p.pending[1:]
		p.metrics.IncrementRowsDropped()
		p.logger.Warn("analytics buffer full, dropping oldest row")
	}
	p.pending = append(p.pending, row)
}

func (p *Projector) flush(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}

	start := time.Now()
	err := p.sink.WriteBatch(ctx, p.pending)
	p.metrics.ObserveFlushLatency(time.Since(start))

	if err != nil {
		p.metrics.IncrementFlushError()
		p.logger.ErrorContext(ctx, "analytics flush failed",
			"rows", len(p.pending),
			"error", err,
		)
		return
	}

	p.metrics.AddRowsWritten(len(p.pending))
	p.pending = p.pending[:0]
}
