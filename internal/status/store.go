// Package status owns the durable verdict for each document. A document is
// finalized by exactly one insert; every later write for the same id is a
// visible no-op. Downstream consumers observe finalizations through the
// insertion feed, where duplicates never appear.
package status

import (
	"context"

	"fiscus/internal/domain"
)

// InsertResult reports what RecordIfAbsent did. When Inserted is false the
// returned record is the original, untouched one.
type InsertResult struct {
	Record   domain.StatusRecord
	Inserted bool
}

// Store persists finalized verdicts with insert-once semantics.
//
// RecordIfAbsent is linearizable per document id: under any number of
// concurrent callers exactly one observes Inserted=true, and the stored
// record is immutable from that point on. Implementations stamp StoredAt.
//
// Find returns sentinel.ErrNotFound when no record exists.
type Store interface {
	RecordIfAbsent(ctx context.Context, rec domain.StatusRecord) (InsertResult, error)
	Find(ctx context.Context, documentID string) (domain.StatusRecord, error)
}
