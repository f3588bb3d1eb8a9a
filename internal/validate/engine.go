// Package validate applies the compliance rule chain to a normalized field
// record and produces a verdict. Evaluation is pure domain logic - no I/O,
// no stored state - so the same fields against the same table always yield
// the same verdict.
package validate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/domain"
	"fiscus/internal/ratetable"
	"fiscus/internal/validate/metrics"
)

// RuleSetVersion is stamped on every verdict so stored outcomes can be
// traced back to the rule chain that produced them.
const RuleSetVersion = "v3"

// requiredFields is the fixed check order for rule 1. Violation order is
// part of the contract: verdicts list missing fields in this order.
var requiredFields = []string{
	"document_id",
	"jurisdiction_code",
	"net_total",
	"tax_rate",
	"tax_amount",
}

var defaultTolerance = decimal.New(5, -2) // 0.05

// Engine evaluates field records against an immutable rate table. The goal
// is to keep every rule centralized and the chain order fixed: all rules
// run on every document, so a verdict lists everything wrong at once.
type Engine struct {
	table     *ratetable.Table
	tolerance decimal.Decimal
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithTolerance overrides the math cross-check tolerance. The bound exists
// to absorb scan and rounding noise, not to loosen the rule.
func WithTolerance(t decimal.Decimal) Option {
	return func(e *Engine) { e.tolerance = t }
}

// WithClock overrides the evaluation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches validation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(table *ratetable.Table, opts ...Option) *Engine {
	e := &Engine{
		table:     table,
		tolerance: defaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full rule chain in order: required fields, jurisdiction
// and rate membership, then the arithmetic cross-check. Earlier failures
// never stop later rules; each rule simply skips facets whose inputs are
// missing (the MISSING_FIELD violation already covers those).
func (e *Engine) Evaluate(fields domain.ExtractedFields) domain.Verdict {
	start := time.Now()

	var violations []domain.Violation
	violations = append(violations, e.checkRequired(fields)...)
	violations = append(violations, e.checkRates(fields)...)
	violations = append(violations, e.checkMath(fields)...)

	outcome := domain.OutcomePass
	if len(violations) > 0 {
		outcome = domain.OutcomeFail
	}

	verdict := domain.Verdict{
		DocumentID:     fields.DocumentID,
		Outcome:        outcome,
		Violations:     violations,
		RuleSetVersion: RuleSetVersion,
		EvaluatedAt:    e.now().UTC(),
	}

	e.metrics.IncrementVerdict(string(outcome))
	for _, v := range violations {
		e.metrics.IncrementViolation(string(v.Code))
	}
	e.metrics.ObserveEvaluateLatency(time.Since(start))

	if e.logger != nil {
		e.logger.Debug("document evaluated",
			"document_id", fields.DocumentID,
			"outcome", string(outcome),
			"violations", len(violations),
		)
	}
	return verdict
}

func (e *Engine) checkRequired(fields domain.ExtractedFields) []domain.Violation {
	var violations []domain.Violation
	for _, name := range requiredFields {
		if missingField(fields, name) {
			violations = append(violations, domain.Violation{
				Code:    domain.ViolationMissingField,
				Field:   name,
				Message: fmt.Sprintf("required field %s is missing", name),
			})
		}
	}
	return violations
}

func missingField(fields domain.ExtractedFields, name string) bool {
	switch name {
	case "document_id":
		return fields.DocumentID == ""
	case "jurisdiction_code":
		return fields.Jurisdiction == ""
	case "net_total":
		return !fields.NetTotal.Valid
	case "tax_rate":
		return !fields.TaxRate.Valid
	case "tax_amount":
		return !fields.TaxAmount.Valid
	}
	return false
}

func (e *Engine) checkRates(fields domain.ExtractedFields) []domain.Violation {
	if fields.Jurisdiction == "" {
		return nil
	}
	if !e.table.Contains(fields.Jurisdiction) {
		return []domain.Violation{{
			Code:    domain.ViolationUnknownJurisdiction,
			Field:   "jurisdiction_code",
			Message: fmt.Sprintf("jurisdiction %s has no allowed rates", fields.Jurisdiction),
		}}
	}
	if !fields.TaxRate.Valid {
		return nil
	}
	if e.table.IsAllowed(fields.Jurisdiction, fields.TaxRate.Decimal) {
		return nil
	}
	return []domain.Violation{{
		Code:    domain.ViolationRateMismatch,
		Field:   "tax_rate",
		Message: fmt.Sprintf("rate %s is not allowed for %s (allowed: %s)",
			fields.TaxRate.Decimal, fields.Jurisdiction, formatRates(e.table.AllowedRates(fields.Jurisdiction))),
	}}
}

// checkMath cross-checks net_total * tax_rate against tax_amount with exact
// decimal arithmetic. It runs with the extracted rate even when that rate
// failed membership, so a wrong-rate invoice with inconsistent arithmetic
// reports both problems.
func (e *Engine) checkMath(fields domain.ExtractedFields) []domain.Violation {
	if !fields.NetTotal.Valid || !fields.TaxRate.Valid || !fields.TaxAmount.Valid {
		return nil
	}

	expected := fields.NetTotal.Decimal.Mul(fields.TaxRate.Decimal)
	delta := expected.Sub(fields.TaxAmount.Decimal).Abs()
	if delta.LessThanOrEqual(e.tolerance) {
		return nil
	}
	return []domain.Violation{{
		Code:    domain.ViolationMathMismatch,
		Field:   "tax_amount",
		Message: fmt.Sprintf("math check failed: net %s at rate %s expects tax %s, got %s (delta %s)",
			fields.NetTotal.Decimal, fields.TaxRate.Decimal, expected, fields.TaxAmount.Decimal, delta),
		Delta: decimal.NullDecimal{Decimal: delta, Valid: true},
	}}
}

func formatRates(rates []decimal.Decimal) string {
	parts := make([]string, 0, len(rates))
	for _, r := range rates {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}
