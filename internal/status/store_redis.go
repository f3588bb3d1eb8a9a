package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fiscus/internal/domain"
	"fiscus/internal/status/metrics"
	"fiscus/pkg/platform/sentinel"
)

// Redis key prefix for finalized status records
const statusKeyPrefix = "fiscus:status:"

// RedisStore implements Store on Redis for multi-instance deployments that
// do not need the durability of Postgres. SETNX decides the insert race
// atomically, so concurrent writers for one document agree on a single
// winner. Records never expire; finalized status is immutable.
type RedisStore struct {
	client  *redis.Client
	feed    *Feed
	now     func() time.Time
	metrics *metrics.Metrics
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisClock overrides the StoredAt timestamp source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// WithRedisMetrics attaches status metrics.
func WithRedisMetrics(m *metrics.Metrics) RedisOption {
	return func(s *RedisStore) { s.metrics = m }
}

// NewRedisStore creates a store over an existing client. Winning inserts are
// published to feed; pass nil to disable publication.
func NewRedisStore(client *redis.Client, feed *Feed, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		feed:   feed,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RecordIfAbsent finalizes rec unless the document already has a record.
// Losers read back the winner's record so every caller sees the same state.
func (s *RedisStore) RecordIfAbsent(ctx context.Context, rec domain.StatusRecord) (InsertResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveInsertLatency(time.Since(start)) }()

	if err := rec.Validate(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: %v", sentinel.ErrInvalidState, err)
	}
	rec.StoredAt = s.now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		return InsertResult{}, fmt.Errorf("marshal status record: %w", err)
	}

	key := statusKeyPrefix + rec.DocumentID
	inserted, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return InsertResult{}, fmt.Errorf("setnx status record: %w", err)
	}

	if !inserted {
		existing, err := s.Find(ctx, rec.DocumentID)
		if err != nil {
			return InsertResult{}, err
		}
		s.metrics.IncrementDuplicate()
		return InsertResult{Record: existing}, nil
	}

	s.metrics.IncrementInsert(string(rec.Outcome))
	if s.feed != nil {
		s.feed.Publish(rec)
	}
	return InsertResult{Record: rec, Inserted: true}, nil
}

// Find returns the finalized record, or sentinel.ErrNotFound.
func (s *RedisStore) Find(ctx context.Context, documentID string) (domain.StatusRecord, error) {
	payload, err := s.client.Get(ctx, statusKeyPrefix+documentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StatusRecord{}, fmt.Errorf("status record %s: %w", documentID, sentinel.ErrNotFound)
	}
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("get status record: %w", err)
	}

	var rec domain.StatusRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("unmarshal status record: %w", err)
	}
	return rec, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
