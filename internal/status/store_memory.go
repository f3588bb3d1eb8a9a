package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fiscus/internal/domain"
	"fiscus/internal/status/metrics"
	"fiscus/pkg/platform/sentinel"
)

// InMemoryStore keeps finalized records in a map. It backs tests and
// single-process deployments; durability comes from the postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.StatusRecord
	feed    *Feed
	now     func() time.Time
	metrics *metrics.Metrics
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryClock overrides the StoredAt timestamp source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

// WithMemoryMetrics attaches status metrics.
func WithMemoryMetrics(m *metrics.Metrics) MemoryOption {
	return func(s *InMemoryStore) { s.metrics = m }
}

// NewInMemoryStore creates a store publishing insertions to feed. A nil feed
// disables publishing.
func NewInMemoryStore(feed *Feed, opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[string]domain.StatusRecord),
		feed:    feed,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordIfAbsent finalizes rec unless the document already has a record.
// The first write wins; the map entry is never touched again.
func (s *InMemoryStore) RecordIfAbsent(ctx context.Context, rec domain.StatusRecord) (InsertResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveInsertLatency(time.Since(start)) }()

	if err := rec.Validate(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: %v", sentinel.ErrInvalidState, err)
	}

	s.mu.Lock()
	if existing, ok := s.records[rec.DocumentID]; ok {
		s.mu.Unlock()
		s.metrics.IncrementDuplicate()
		return InsertResult{Record: copyRecord(existing)}, nil
	}
	rec.StoredAt = s.now().UTC()
	s.records[rec.DocumentID] = copyRecord(rec)
	s.mu.Unlock()

	s.metrics.IncrementInsert(string(rec.Outcome))
	if s.feed != nil {
		s.feed.Publish(copyRecord(rec))
	}
	return InsertResult{Record: rec, Inserted: true}, nil
}

// Find returns the finalized record, or sentinel.ErrNotFound.
func (s *InMemoryStore) Find(ctx context.Context, documentID string) (domain.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[documentID]
	if !ok {
		return domain.StatusRecord{}, fmt.Errorf("status record %s: %w", documentID, sentinel.ErrNotFound)
	}
	return copyRecord(rec), nil
}

// Len reports how many documents are finalized.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// copyRecord deep-copies the slices so callers cannot alias stored state.
func copyRecord(rec domain.StatusRecord) domain.StatusRecord {
	if len(rec.Violations) > 0 {
		rec.Violations = append([]domain.Violation{}, rec.Violations...)
	}
	if len(rec.LineItems) > 0 {
		rec.LineItems = append([]domain.LineItem{}, rec.LineItems...)
	}
	return rec
}
