package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var csvHeader = []string{
	"document_id", "outcome", "reason", "violation_codes", "violation_count",
	"rule_set_version", "jurisdiction_code", "supplier_vat_id", "currency",
	"net_total", "tax_rate", "tax_amount", "math_delta", "line_item_count",
	"source", "extraction_confidence", "evaluated_at", "stored_at",
}

// CSVSink appends rows to one file, suited to single-node deployments and
// local inspection. The header is written once, when the file is empty.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink opens (or creates) the file at path for appending.
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open analytics csv: %w", err)
	}

	s := &CSVSink{file: file, writer: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat analytics csv: %w", err)
	}
	if info.Size() == 0 {
		if err := s.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}
	return s, nil
}

// WriteBatch appends rows and flushes them to disk.
func (s *CSVSink) WriteBatch(ctx context.Context, rows []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if err := s.writer.Write(csvFields(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv rows: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func csvFields(row Record) []string {
	return []string{
		row.DocumentID,
		row.Outcome,
		row.Reason,
		row.ViolationCodes,
		strconv.Itoa(row.ViolationCount),
		row.RuleSetVersion,
		row.Jurisdiction,
		row.SupplierVATID,
		row.Currency,
		decimalField(row.NetTotal),
		decimalField(row.TaxRate),
		decimalField(row.TaxAmount),
		decimalField(row.MathDelta),
		strconv.Itoa(row.LineItemCount),
		row.Source,
		strconv.FormatFloat(row.ExtractionConfidence, 'f', -1, 64),
		row.EvaluatedAt.UTC().Format(time.RFC3339),
		row.StoredAt.UTC().Format(time.RFC3339),
	}
}

// decimalField renders a missing value as an empty cell, never as zero.
func decimalField(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
