package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome enumerates the possible validation outcomes.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
)

// ViolationCode identifies which rule a violation came from. Violations are
// data, not errors: a FAIL verdict is a successful evaluation.
type ViolationCode string

const (
	ViolationMissingField        ViolationCode = "MISSING_FIELD"
	ViolationUnknownJurisdiction ViolationCode = "UNKNOWN_JURISDICTION"
	ViolationRateMismatch        ViolationCode = "RATE_MISMATCH"
	ViolationMathMismatch        ViolationCode = "MATH_MISMATCH"
	ViolationMalformedInput      ViolationCode = "MALFORMED_INPUT"
)

// Violation is one failed check. Delta is populated only for
// MATH_MISMATCH and carries the exact absolute difference.
type Violation struct {
	Code    ViolationCode       `json:"code"`
	Field   string              `json:"field,omitempty"`
	Message string              `json:"message"`
	Delta   decimal.NullDecimal `json:"delta,omitempty"`
}

// Verdict is the complete result of evaluating one document. Violations are
// ordered by rule, then by field order within a rule.
type Verdict struct {
	DocumentID     string      `json:"document_id"`
	Outcome        Outcome     `json:"outcome"`
	Violations     []Violation `json:"violations"`
	RuleSetVersion string      `json:"rule_set_version"`
	EvaluatedAt    time.Time   `json:"evaluated_at"`
}

// ReasonAllChecksPassed is the stored reason for a clean PASS.
const ReasonAllChecksPassed = "All checks passed"

func (v Verdict) Passed() bool {
	return v.Outcome == OutcomePass
}

// Reason renders the human-readable summary persisted alongside the outcome.
func (v Verdict) Reason() string {
	if len(v.Violations) == 0 {
		return ReasonAllChecksPassed
	}
	msgs := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		msgs = append(msgs, viol.Message)
	}
	return strings.Join(msgs, "; ")
}

// ViolationCodes returns the codes in violation order, duplicates preserved.
func (v Verdict) ViolationCodes() []string {
	if len(v.Violations) == 0 {
		return nil
	}
	codes := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		codes = append(codes, string(viol.Code))
	}
	return codes
}

// HasViolation reports whether any violation carries the given code.
func (v Verdict) HasViolation(code ViolationCode) bool {
	for _, viol := range v.Violations {
		if viol.Code == code {
			return true
		}
	}
	return false
}
