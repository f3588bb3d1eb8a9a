package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/domain"
	"fiscus/internal/ratetable"
)

func testTable(t *testing.T) *ratetable.Table {
	t.Helper()
	table, err := ratetable.Load(strings.NewReader(
		"country,rate\nDE,0.19\nDE,0.07\nDE,0\nFR,0.20\nIT,0.22\n"))
	require.NoError(t, err)
	return table
}

func present(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func validFields(t *testing.T) domain.ExtractedFields {
	t.Helper()
	return domain.ExtractedFields{
		DocumentID:   "INV-100",
		Jurisdiction: "DE",
		NetTotal:     present(t, "100.00"),
		TaxRate:      present(t, "0.19"),
		TaxAmount:    present(t, "19.00"),
	}
}

func TestEvaluatePass(t *testing.T) {
	engine := New(testTable(t))

	verdict := engine.Evaluate(validFields(t))

	assert.Equal(t, domain.OutcomePass, verdict.Outcome)
	assert.Empty(t, verdict.Violations)
	assert.Equal(t, "INV-100", verdict.DocumentID)
	assert.Equal(t, RuleSetVersion, verdict.RuleSetVersion)
	assert.Equal(t, domain.ReasonAllChecksPassed, verdict.Reason())
	assert.False(t, verdict.EvaluatedAt.IsZero())
}

func TestEvaluateMathMismatch(t *testing.T) {
	engine := New(testTable(t))
	fields := validFields(t)
	fields.TaxAmount = present(t, "25.00")

	verdict := engine.Evaluate(fields)

	assert.Equal(t, domain.OutcomeFail, verdict.Outcome)
	require.Len(t, verdict.Violations, 1)

	v := verdict.Violations[0]
	assert.Equal(t, domain.ViolationMathMismatch, v.Code)
	assert.Equal(t, "tax_amount", v.Field)
	require.True(t, v.Delta.Valid)
	assert.True(t, v.Delta.Decimal.Equal(decimal.RequireFromString("6.00")),
		"delta must be exactly 6.00, got %s", v.Delta.Decimal)
}

func TestEvaluateUnknownJurisdiction(t *testing.T) {
	engine := New(testTable(t))
	fields := validFields(t)
	fields.Jurisdiction = "ZZ"

	verdict := engine.Evaluate(fields)

	assert.Equal(t, domain.OutcomeFail, verdict.Outcome)
	require.Len(t, verdict.Violations, 1, "math is consistent, so only the jurisdiction fails")
	assert.Equal(t, domain.ViolationUnknownJurisdiction, verdict.Violations[0].Code)
}

func TestEvaluateMissingFieldsInOrder(t *testing.T) {
	engine := New(testTable(t))
	fields := validFields(t)
	fields.TaxRate = decimal.NullDecimal{}
	fields.TaxAmount = decimal.NullDecimal{}

	verdict := engine.Evaluate(fields)

	assert.Equal(t, domain.OutcomeFail, verdict.Outcome)
	require.Len(t, verdict.Violations, 2)
	assert.Equal(t, domain.ViolationMissingField, verdict.Violations[0].Code)
	assert.Equal(t, "tax_rate", verdict.Violations[0].Field)
	assert.Equal(t, domain.ViolationMissingField, verdict.Violations[1].Code)
	assert.Equal(t, "tax_amount", verdict.Violations[1].Field)
}

func TestEvaluateRateMembershipIsExact(t *testing.T) {
	engine := New(testTable(t))

	t.Run("near miss fails", func(t *testing.T) {
		fields := validFields(t)
		fields.Jurisdiction = "FR"
		fields.NetTotal = present(t, "100.00")
		fields.TaxRate = present(t, "0.200001")
		fields.TaxAmount = present(t, "20.00")

		verdict := engine.Evaluate(fields)
		assert.True(t, verdict.HasViolation(domain.ViolationRateMismatch))
	})

	t.Run("equal value with different precision passes", func(t *testing.T) {
		fields := validFields(t)
		fields.Jurisdiction = "FR"
		fields.TaxRate = present(t, "0.2000")
		fields.TaxAmount = present(t, "20.00")

		verdict := engine.Evaluate(fields)
		assert.Equal(t, domain.OutcomePass, verdict.Outcome, "reason: %s", verdict.Reason())
	})
}

func TestEvaluateAllRulesAlwaysRun(t *testing.T) {
	engine := New(testTable(t))

	t.Run("missing field does not stop later rules", func(t *testing.T) {
		fields := validFields(t)
		fields.NetTotal = decimal.NullDecimal{}
		fields.TaxRate = present(t, "0.21")

		verdict := engine.Evaluate(fields)

		require.Len(t, verdict.Violations, 2)
		assert.Equal(t, domain.ViolationMissingField, verdict.Violations[0].Code)
		assert.Equal(t, "net_total", verdict.Violations[0].Field)
		assert.Equal(t, domain.ViolationRateMismatch, verdict.Violations[1].Code)
	})

	t.Run("bad rate and bad math both reported", func(t *testing.T) {
		fields := validFields(t)
		fields.TaxRate = present(t, "0.21")
		fields.TaxAmount = present(t, "50.00")

		verdict := engine.Evaluate(fields)

		require.Len(t, verdict.Violations, 2)
		assert.Equal(t, domain.ViolationRateMismatch, verdict.Violations[0].Code)
		assert.Equal(t, domain.ViolationMathMismatch, verdict.Violations[1].Code)
		require.True(t, verdict.Violations[1].Delta.Valid)
		assert.True(t, verdict.Violations[1].Delta.Decimal.Equal(decimal.RequireFromString("29.00")))
	})

	t.Run("everything missing lists every required field", func(t *testing.T) {
		verdict := engine.Evaluate(domain.ExtractedFields{})

		require.Len(t, verdict.Violations, 5)
		for i, name := range []string{"document_id", "jurisdiction_code", "net_total", "tax_rate", "tax_amount"} {
			assert.Equal(t, domain.ViolationMissingField, verdict.Violations[i].Code)
			assert.Equal(t, name, verdict.Violations[i].Field)
		}
	})
}

func TestEvaluateTolerance(t *testing.T) {
	engine := New(testTable(t))

	tests := []struct {
		name      string
		taxAmount string
		outcome   domain.Outcome
	}{
		{name: "exact", taxAmount: "19.00", outcome: domain.OutcomePass},
		{name: "delta below tolerance", taxAmount: "19.04", outcome: domain.OutcomePass},
		{name: "delta exactly tolerance", taxAmount: "19.05", outcome: domain.OutcomePass},
		{name: "delta just above tolerance", taxAmount: "19.051", outcome: domain.OutcomeFail},
		{name: "rounding noise from scan", taxAmount: "18.97", outcome: domain.OutcomePass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields(t)
			fields.TaxAmount = present(t, tt.taxAmount)
			verdict := engine.Evaluate(fields)
			assert.Equal(t, tt.outcome, verdict.Outcome, verdict.Reason())
		})
	}

	t.Run("custom tolerance", func(t *testing.T) {
		strict := New(testTable(t), WithTolerance(decimal.Zero))
		fields := validFields(t)
		fields.TaxAmount = present(t, "19.01")
		assert.Equal(t, domain.OutcomeFail, strict.Evaluate(fields).Outcome)
	})
}

func TestEvaluateZeroRate(t *testing.T) {
	engine := New(testTable(t))
	fields := validFields(t)
	fields.TaxRate = present(t, "0")
	fields.TaxAmount = present(t, "0")

	verdict := engine.Evaluate(fields)

	assert.Equal(t, domain.OutcomePass, verdict.Outcome,
		"a zero rate is a present, allowed value, not a missing one: %s", verdict.Reason())
}

func TestEvaluateIsDeterministic(t *testing.T) {
	fixed := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	engine := New(testTable(t), WithClock(func() time.Time { return fixed }))
	fields := validFields(t)
	fields.TaxAmount = present(t, "25.00")

	first := engine.Evaluate(fields)
	second := engine.Evaluate(fields)

	assert.Equal(t, first, second)
	assert.Equal(t, fixed, first.EvaluatedAt)
}
