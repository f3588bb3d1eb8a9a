package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fiscus/internal/domain"
	"fiscus/internal/status/metrics"
	"fiscus/pkg/platform/sentinel"
)

var tracer = otel.Tracer("fiscus/status")

// PostgresStore implements Store with the transactional outbox pattern: the
// status row and its outbox row commit in one transaction, so a finalized
// record and its downstream event cannot disagree. The relay drains the
// outbox; this store never publishes to the in-process feed directly.
type PostgresStore struct {
	db      *sql.DB
	now     func() time.Time
	metrics *metrics.Metrics
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock overrides the StoredAt timestamp source.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) { s.now = now }
}

// WithPostgresMetrics attaches status metrics.
func WithPostgresMetrics(m *metrics.Metrics) PostgresOption {
	return func(s *PostgresStore) { s.metrics = m }
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the status and outbox tables when they do not exist.
// Statements are idempotent so startup can always run this.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS invoice_status (
			document_id           TEXT PRIMARY KEY,
			outcome               TEXT NOT NULL,
			reason                TEXT NOT NULL,
			violations            JSONB NOT NULL DEFAULT '[]',
			rule_set_version      TEXT NOT NULL,
			jurisdiction_code     TEXT NOT NULL DEFAULT '',
			supplier_name         TEXT NOT NULL DEFAULT '',
			supplier_vat_id       TEXT NOT NULL DEFAULT '',
			currency              TEXT NOT NULL DEFAULT '',
			net_total             NUMERIC,
			tax_rate              NUMERIC,
			tax_amount            NUMERIC,
			line_items            JSONB NOT NULL DEFAULT '[]',
			source                TEXT NOT NULL DEFAULT '',
			extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evaluated_at          TIMESTAMPTZ NOT NULL,
			stored_at             TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS status_outbox (
			id            UUID PRIMARY KEY,
			document_id   TEXT NOT NULL,
			payload       JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			dispatched_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS status_outbox_undispatched_idx
			ON status_outbox (created_at) WHERE dispatched_at IS NULL`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure status schema: %w", err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

// RecordIfAbsent finalizes rec unless the document already has a row. The
// insert uses ON CONFLICT DO NOTHING on the primary key, so under concurrent
// writers exactly one transaction inserts; everyone else reads the winner's
// committed row.
func (s *PostgresStore) RecordIfAbsent(ctx context.Context, rec domain.StatusRecord) (InsertResult, error) {
	ctx, span := tracer.Start(ctx, "status.RecordIfAbsent",
		trace.WithAttributes(attribute.String("document.id", rec.DocumentID)))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.ObserveInsertLatency(time.Since(start)) }()

	if err := rec.Validate(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: %v", sentinel.ErrInvalidState, err)
	}
	rec.StoredAt = s.now().UTC()

	violations, err := json.Marshal(rec.Violations)
	if err != nil {
		return InsertResult{}, fmt.Errorf("marshal violations: %w", err)
	}
	lineItems, err := json.Marshal(rec.LineItems)
	if err != nil {
		return InsertResult{}, fmt.Errorf("marshal line items: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO invoice_status (
			document_id, outcome, reason, violations, rule_set_version,
			jurisdiction_code, supplier_name, supplier_vat_id, currency,
			net_total, tax_rate, tax_amount, line_items,
			source, extraction_confidence, evaluated_at, stored_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (document_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, query,
		rec.DocumentID,
		string(rec.Outcome),
		rec.Reason,
		violations,
		rec.RuleSetVersion,
		rec.Jurisdiction,
		rec.SupplierName,
		rec.SupplierVATID,
		rec.Currency,
		rec.NetTotal,
		rec.TaxRate,
		rec.TaxAmount,
		lineItems,
		rec.Source,
		rec.ExtractionConfidence,
		rec.EvaluatedAt,
		rec.StoredAt,
	)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert status record: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return InsertResult{}, fmt.Errorf("status rows affected: %w", err)
	}

	if inserted == 0 {
		existing, err := s.findWith(ctx, tx, rec.DocumentID)
		if err != nil {
			return InsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return InsertResult{}, fmt.Errorf("commit status tx: %w", err)
		}
		span.SetAttributes(attribute.Bool("record.inserted", false))
		s.metrics.IncrementDuplicate()
		return InsertResult{Record: existing}, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return InsertResult{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	outboxQuery := `
		INSERT INTO status_outbox (id, document_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, outboxQuery, uuid.New(), rec.DocumentID, payload, rec.StoredAt); err != nil {
		return InsertResult{}, fmt.Errorf("insert outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit status tx: %w", err)
	}

	span.SetAttributes(attribute.Bool("record.inserted", true))
	s.metrics.IncrementInsert(string(rec.Outcome))
	return InsertResult{Record: rec, Inserted: true}, nil
}

// Find returns the finalized record, or sentinel.ErrNotFound.
func (s *PostgresStore) Find(ctx context.Context, documentID string) (domain.StatusRecord, error) {
	ctx, span := tracer.Start(ctx, "status.Find",
		trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()
	return s.findWith(ctx, s.db, documentID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) findWith(ctx context.Context, q rowQuerier, documentID string) (domain.StatusRecord, error) {
	query := `
		SELECT document_id, outcome, reason, violations, rule_set_version,
			   jurisdiction_code, supplier_name, supplier_vat_id, currency,
			   net_total, tax_rate, tax_amount, line_items,
			   source, extraction_confidence, evaluated_at, stored_at
		FROM invoice_status
		WHERE document_id = $1
	`

	var (
		rec        domain.StatusRecord
		outcome    string
		violations []byte
		lineItems  []byte
	)
	err := q.QueryRowContext(ctx, query, documentID).Scan(
		&rec.DocumentID,
		&outcome,
		&rec.Reason,
		&violations,
		&rec.RuleSetVersion,
		&rec.Jurisdiction,
		&rec.SupplierName,
		&rec.SupplierVATID,
		&rec.Currency,
		&rec.NetTotal,
		&rec.TaxRate,
		&rec.TaxAmount,
		&lineItems,
		&rec.Source,
		&rec.ExtractionConfidence,
		&rec.EvaluatedAt,
		&rec.StoredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusRecord{}, fmt.Errorf("status record %s: %w", documentID, sentinel.ErrNotFound)
	}
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("query status record: %w", err)
	}

	rec.Outcome = domain.Outcome(outcome)
	if err := json.Unmarshal(violations, &rec.Violations); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("unmarshal violations: %w", err)
	}
	if err := json.Unmarshal(lineItems, &rec.LineItems); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("unmarshal line items: %w", err)
	}
	rec.EvaluatedAt = rec.EvaluatedAt.UTC()
	rec.StoredAt = rec.StoredAt.UTC()
	return rec, nil
}

// FetchUndispatched returns outbox rows not yet relayed, oldest first.
func (s *PostgresStore) FetchUndispatched(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, payload, created_at
		FROM status_outbox
		WHERE dispatched_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			entry   OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Record); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkDispatched stamps the given outbox rows as relayed.
func (s *PostgresStore) MarkDispatched(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	query := `UPDATE status_outbox SET dispatched_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := s.db.ExecContext(ctx, query, s.now().UTC(), pq.Array(strs)); err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}
