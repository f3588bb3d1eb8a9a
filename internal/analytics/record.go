// Package analytics exports finalized verdicts as flat rows for downstream
// reporting. Rows are append-only; nothing here ever mutates a stored
// verdict. Export is at-least-once, so readers dedupe by document id.
package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/domain"
)

// Record is one flat analytics row per finalized document. Every field is a
// plain column; nested structures are flattened to joined codes and counts.
type Record struct {
	DocumentID           string
	Outcome              string
	Reason               string
	ViolationCodes       string
	ViolationCount       int
	RuleSetVersion       string
	Jurisdiction         string
	SupplierVATID        string
	Currency             string
	NetTotal             decimal.NullDecimal
	TaxRate              decimal.NullDecimal
	TaxAmount            decimal.NullDecimal
	MathDelta            decimal.NullDecimal
	LineItemCount        int
	Source               string
	ExtractionConfidence float64
	EvaluatedAt          time.Time
	StoredAt             time.Time
}

// FromStatus flattens a finalized record into its analytics row.
func FromStatus(rec domain.StatusRecord) Record {
	codes := make([]string, 0, len(rec.Violations))
	for _, v := range rec.Violations {
		codes = append(codes, string(v.Code))
	}
	return Record{
		DocumentID:           rec.DocumentID,
		Outcome:              string(rec.Outcome),
		Reason:               rec.Reason,
		ViolationCodes:       strings.Join(codes, "|"),
		ViolationCount:       len(rec.Violations),
		RuleSetVersion:       rec.RuleSetVersion,
		Jurisdiction:         rec.Jurisdiction,
		SupplierVATID:        rec.SupplierVATID,
		Currency:             rec.Currency,
		NetTotal:             rec.NetTotal,
		TaxRate:              rec.TaxRate,
		TaxAmount:            rec.TaxAmount,
		MathDelta:            rec.MathDelta(),
		LineItemCount:        len(rec.LineItems),
		Source:               rec.Source,
		ExtractionConfidence: rec.ExtractionConfidence,
		EvaluatedAt:          rec.EvaluatedAt,
		StoredAt:             rec.StoredAt,
	}
}

// Sink writes batches of rows. Implementations must tolerate the same row
// arriving twice across process restarts.
type Sink interface {
	WriteBatch(ctx context.Context, rows []Record) error
}

// MultiSink fans one batch out to several sinks. The first error aborts the
// fan-out so the projector retries the whole batch.
type MultiSink []Sink

// WriteBatch writes rows to every sink in order.
func (m MultiSink) WriteBatch(ctx context.Context, rows []Record) error {
	for _, sink := range m {
		if err := sink.WriteBatch(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}
