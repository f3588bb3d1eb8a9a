package status

import (
	"log/slog"
	"sync"

	"fiscus/internal/domain"
	"fiscus/internal/status/metrics"
)

const defaultFeedBuffer = 256

// Feed fans finalized records out to in-process subscribers. Each successful
// insert is published exactly once; duplicates never reach the feed because
// stores only publish when their insert took effect.
//
// Publish never blocks the store path: a subscriber whose buffer is full
// loses that event, counted and logged. Consumers that need a durable view
// read the outbox instead.
type Feed struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// WithFeedLogger attaches a structured logger.
func WithFeedLogger(l *slog.Logger) FeedOption {
	return func(f *Feed) { f.logger = l }
}

// WithFeedMetrics attaches status metrics.
func WithFeedMetrics(m *metrics.Metrics) FeedOption {
	return func(f *Feed) { f.metrics = m }
}

func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultFeedBuffer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscription is one consumer's view of the feed. The channel closes when
// the subscription is cancelled or the feed shuts down.
type Subscription struct {
	name   string
	ch     chan domain.StatusRecord
	feed   *Feed
	closed bool // guarded by feed.mu
}

// Name identifies the subscriber in logs and metrics.
func (s *Subscription) Name() string { return s.name }

// C is the stream of finalized records.
func (s *Subscription) C() <-chan domain.StatusRecord { return s.ch }

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closeLocked()
}

// closeLocked closes the channel exactly once. Callers hold feed.mu, which
// also excludes concurrent Publish sends.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.feed.subs, s)
	close(s.ch)
}

// Subscribe registers a named consumer. Subscribing to a closed feed
// returns an already-closed subscription.
func (f *Feed) Subscribe(name string) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &Subscription{
		name: name,
		ch:   make(chan domain.StatusRecord, f.buffer),
		feed: f,
	}
	if f.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	return sub
}

// Publish delivers rec to every subscriber without blocking. A full
// subscriber drops the event for that subscriber only.
func (f *Feed) Publish(rec domain.StatusRecord) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	for sub := range f.subs {
		select {
		case sub.ch <- rec:
		default:
			f.metrics.IncrementFeedDropped(sub.name)
			if f.logger != nil {
				f.logger.Warn("insertion feed subscriber full, dropping event",
					"subscriber", sub.name,
					"document_id", rec.DocumentID,
				)
			}
		}
	}
}

// Close ends every subscription. Publishing after Close is a no-op.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		sub.closeLocked()
	}
}
