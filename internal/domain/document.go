package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Submission is the raw extraction payload handed to the pipeline. Fields is
// the flat key/value output of the upstream extractor; values are untyped
// strings and may be absent, empty, or garbage.
type Submission struct {
	DocumentID           string            `json:"document_id"`
	Source               string            `json:"source,omitempty"`
	ExtractionConfidence float64           `json:"extraction_confidence,omitempty"`
	Fields               map[string]string `json:"fields"`
	LineItems            []RawLineItem     `json:"line_items,omitempty"`
	ReceivedAt           time.Time         `json:"received_at,omitzero"`
}

// RawLineItem is a line item as extracted, numbers still unparsed.
type RawLineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// ExtractedFields is the canonical typed form of a submission after
// normalization. Numeric fields use NullDecimal: an unparsable or absent
// value is missing, which is never the same thing as zero.
type ExtractedFields struct {
	DocumentID    string              `json:"document_id"`
	SupplierName  string              `json:"supplier_name,omitempty"`
	SupplierVATID string              `json:"supplier_vat_id,omitempty"`
	Jurisdiction  string              `json:"jurisdiction_code,omitempty"`
	Currency      string              `json:"currency,omitempty"`
	IssueDate     time.Time           `json:"issue_date,omitzero"`
	NetTotal      decimal.NullDecimal `json:"net_total"`
	TaxRate       decimal.NullDecimal `json:"tax_rate"`
	TaxAmount     decimal.NullDecimal `json:"tax_amount"`
	GrossTotal    decimal.NullDecimal `json:"gross_total"`
	LineItems     []LineItem          `json:"line_items,omitempty"`
}

// LineItem is a normalized invoice line. No validation rule consumes these;
// they ride along into the stored record for analytics.
type LineItem struct {
	Description string              `json:"description"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	Amount      decimal.NullDecimal `json:"amount"`
}

// HasDocumentID reports whether the submission carries a usable document key,
// either on the envelope or inside the extracted fields. Keyless submissions
// cannot be finalized.
func (s Submission) HasDocumentID() bool {
	if s.DocumentID != "" {
		return true
	}
	for _, k := range []string{"document_id", "invoice_id", "invoice_number"} {
		if s.Fields[k] != "" {
			return true
		}
	}
	return false
}
