package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StatusRecord is the durable, immutable verdict for one document. The first
// record written for a document id wins; nothing may overwrite it.
type StatusRecord struct {
	DocumentID           string              `json:"document_id"`
	Outcome              Outcome             `json:"outcome"`
	Reason               string              `json:"reason"`
	Violations           []Violation         `json:"violations,omitempty"`
	RuleSetVersion       string              `json:"rule_set_version"`
	Jurisdiction         string              `json:"jurisdiction_code,omitempty"`
	SupplierName         string              `json:"supplier_name,omitempty"`
	SupplierVATID        string              `json:"supplier_vat_id,omitempty"`
	Currency             string              `json:"currency,omitempty"`
	NetTotal             decimal.NullDecimal `json:"net_total"`
	TaxRate              decimal.NullDecimal `json:"tax_rate"`
	TaxAmount            decimal.NullDecimal `json:"tax_amount"`
	LineItems            []LineItem          `json:"line_items,omitempty"`
	Source               string              `json:"source,omitempty"`
	ExtractionConfidence float64             `json:"extraction_confidence,omitempty"`
	EvaluatedAt          time.Time           `json:"evaluated_at"`
	StoredAt             time.Time           `json:"stored_at"`
}

// NewStatusRecord composes the record a verdict finalizes into. StoredAt is
// left zero; the store that accepts the insert stamps it.
func NewStatusRecord(v Verdict, f ExtractedFields, sub Submission) StatusRecord {
	return StatusRecord{
		DocumentID:           v.DocumentID,
		Outcome:              v.Outcome,
		Reason:               v.Reason(),
		Violations:           v.Violations,
		RuleSetVersion:       v.RuleSetVersion,
		Jurisdiction:         f.Jurisdiction,
		SupplierName:         f.SupplierName,
		SupplierVATID:        f.SupplierVATID,
		Currency:             f.Currency,
		NetTotal:             f.NetTotal,
		TaxRate:              f.TaxRate,
		TaxAmount:            f.TaxAmount,
		LineItems:            f.LineItems,
		Source:               sub.Source,
		ExtractionConfidence: sub.ExtractionConfidence,
		EvaluatedAt:          v.EvaluatedAt,
	}
}

// Validate checks the structural invariants a store relies on.
func (r StatusRecord) Validate() error {
	if r.DocumentID == "" {
		return errors.New("status record requires a document id")
	}
	switch r.Outcome {
	case OutcomePass, OutcomeFail:
	default:
		return errors.New("status record outcome must be PASS or FAIL")
	}
	if r.Outcome == OutcomePass && len(r.Violations) > 0 {
		return errors.New("a PASS record cannot carry violations")
	}
	if r.Outcome == OutcomeFail && len(r.Violations) == 0 {
		return errors.New("a FAIL record must carry at least one violation")
	}
	return nil
}

// MathDelta returns the MATH_MISMATCH delta when present.
func (r StatusRecord) MathDelta() decimal.NullDecimal {
	for _, v := range r.Violations {
		if v.Code == ViolationMathMismatch {
			return v.Delta
		}
	}
	return decimal.NullDecimal{}
}
