package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var analyticsColumns = []string{
	"document_id", "outcome", "reason", "violation_codes", "violation_count",
	"rule_set_version", "jurisdiction_code", "supplier_vat_id", "currency",
	"net_total", "tax_rate", "tax_amount", "math_delta", "line_item_count",
	"source", "extraction_confidence", "evaluated_at", "stored_at",
}

// PostgresSink bulk-loads rows with COPY. The table carries no unique
// constraint: export is at-least-once and reporting queries dedupe by
// document_id, which keeps COPY usable for the whole batch.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a sink over an open pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates the analytics table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS analytics_invoice_status (
			document_id           TEXT NOT NULL,
			outcome               TEXT NOT NULL,
			reason                TEXT NOT NULL,
			violation_codes       TEXT NOT NULL DEFAULT '',
			violation_count       INTEGER NOT NULL DEFAULT 0,
			rule_set_version      TEXT NOT NULL,
			jurisdiction_code     TEXT NOT NULL DEFAULT '',
			supplier_vat_id       TEXT NOT NULL DEFAULT '',
			currency              TEXT NOT NULL DEFAULT '',
			net_total             NUMERIC,
			tax_rate              NUMERIC,
			tax_amount            NUMERIC,
			math_delta            NUMERIC,
			line_item_count       INTEGER NOT NULL DEFAULT 0,
			source                TEXT NOT NULL DEFAULT '',
			extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evaluated_at          TIMESTAMPTZ NOT NULL,
			stored_at             TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS analytics_invoice_status_document_idx
			ON analytics_invoice_status (document_id)`,
		`CREATE INDEX IF NOT EXISTS analytics_invoice_status_stored_idx
			ON analytics_invoice_status (stored_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure analytics schema: %w", err)
		}
	}
	return nil
}

// WriteBatch copies rows into the analytics table.
func (s *PostgresSink) WriteBatch(ctx context.Context, rows []Record) error {
	if len(rows) == 0 {
		return nil
	}

	copied, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"analytics_invoice_status"},
		analyticsColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return copyValues(rows[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy analytics rows: %w", err)
	}
	if copied != int64(len(rows)) {
		return fmt.Errorf("copy analytics rows: wrote %d of %d", copied, len(rows))
	}
	return nil
}

func copyValues(row Record) []any {
	return []any{
		row.DocumentID,
		row.Outcome,
		row.Reason,
		row.ViolationCodes,
		row.ViolationCount,
		row.RuleSetVersion,
		row.Jurisdiction,
		row.SupplierVATID,
		row.Currency,
		numericValue(row.NetTotal),
		numericValue(row.TaxRate),
		numericValue(row.TaxAmount),
		numericValue(row.MathDelta),
		row.LineItemCount,
		row.Source,
		row.ExtractionConfidence,
		row.EvaluatedAt,
		row.StoredAt,
	}
}

// numericValue passes decimals to pgx as strings so NUMERIC keeps exact
// digits; missing values become NULL, never zero.
func numericValue(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
