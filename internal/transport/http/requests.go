package httptransport

import (
	"strings"
	"time"

	"fiscus/internal/domain"
	"fiscus/internal/pipeline"
	dErrors "fiscus/pkg/domain-errors"
)

// Request size guards. These bound what one submission may carry; verdicts
// on the content itself are the validation engine's job, never the
// transport's.
const (
	maxDocumentIDLength = 128
	maxFieldCount       = 128
	maxLineItemCount    = 500
)

// SubmitInvoiceRequest is the POST /invoices body: the submission envelope
// plus the raw extracted fields exactly as the scanner produced them.
type SubmitInvoiceRequest struct {
	DocumentID           string               `json:"document_id,omitempty"`
	Source               string               `json:"source,omitempty"`
	ExtractionConfidence float64              `json:"extraction_confidence,omitempty"`
	Fields               map[string]string    `json:"fields"`
	LineItems            []domain.RawLineItem `json:"line_items,omitempty"`
}

// Validate applies the transport-level guards.
func (r SubmitInvoiceRequest) Validate() error {
	if len(r.DocumentID) > maxDocumentIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, "document_id too long")
	}
	if r.ExtractionConfidence < 0 || r.ExtractionConfidence > 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "extraction_confidence must be between 0 and 1")
	}
	if len(r.Fields) > maxFieldCount {
		return dErrors.New(dErrors.CodeInvalidInput, "too many fields")
	}
	if len(r.LineItems) > maxLineItemCount {
		return dErrors.New(dErrors.CodeInvalidInput, "too many line items")
	}
	return nil
}

func (r SubmitInvoiceRequest) toSubmission(receivedAt time.Time) domain.Submission {
	source := r.Source
	if source == "" {
		source = pipeline.SourceAPI
	}
	return domain.Submission{
		DocumentID:           strings.TrimSpace(r.DocumentID),
		Source:               source,
		ExtractionConfidence: r.ExtractionConfidence,
		Fields:               r.Fields,
		LineItems:            r.LineItems,
		ReceivedAt:           receivedAt,
	}
}
