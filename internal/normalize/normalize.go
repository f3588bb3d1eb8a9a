// Package normalize turns the flat string output of upstream extraction into
// the canonical typed field record that validation consumes. Individual
// values that fail to parse become missing fields, never zeros and never
// errors; only structurally unusable input is an error.
package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/domain"
)

// MalformedInputError reports input too broken to produce a field record at
// all. It is a property of the submission, so replaying the same bytes fails
// the same way.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return "malformed input: " + e.Reason
}

// IsMalformed reports whether err is a structural normalization failure.
func IsMalformed(err error) bool {
	var me *MalformedInputError
	return errors.As(err, &me)
}

// fieldAliases maps each canonical field to the extractor keys that may
// carry it, in lookup priority order. Keys are compared after trimming,
// lowercasing, and collapsing spaces and dashes to underscores.
var fieldAliases = map[string][]string{
	"document_id":       {"document_id", "invoice_id", "invoice_number"},
	"supplier_name":     {"supplier_name", "vendor", "supplier"},
	"supplier_vat_id":   {"supplier_vat_id", "vat_number", "vat_id"},
	"jurisdiction_code": {"jurisdiction_code", "country", "country_code"},
	"issue_date":        {"issue_date", "invoice_date", "date"},
	"currency":          {"currency"},
	"net_total":         {"net_total", "net_amount", "subtotal"},
	"tax_rate":          {"tax_rate", "vat_rate"},
	"tax_amount":        {"tax_amount", "vat_amount", "tax_total"},
	"gross_total":       {"gross_total", "total", "total_amount"},
}

var (
	vatPrefixRe    = regexp.MustCompile(`^([A-Z]{2})\d+`)
	jurisdictionRe = regexp.MustCompile(`^[A-Z]{2}$`)
	chfRe          = regexp.MustCompile(`(?i)chf`)
	one            = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
)

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006"}

// currencySymbols maps the symbols the extractor passes through to ISO
// codes. CHF invoices spell the code out rather than using a symbol.
var currencySymbols = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
}

// Normalize converts a raw extraction map into typed canonical fields.
// It returns *MalformedInputError only when raw is nil or empty; any
// individual unusable value simply leaves its field missing.
func Normalize(raw map[string]string) (domain.ExtractedFields, error) {
	if raw == nil {
		return domain.ExtractedFields{}, &MalformedInputError{Reason: "field map is nil"}
	}
	if len(raw) == 0 {
		return domain.ExtractedFields{}, &MalformedInputError{Reason: "field map is empty"}
	}

	byKey := make(map[string]string, len(raw))
	for k, v := range raw {
		ck := canonicalKey(k)
		if _, exists := byKey[ck]; !exists || strings.TrimSpace(v) != "" {
			byKey[ck] = v
		}
	}

	fields := domain.ExtractedFields{
		DocumentID:   strings.TrimSpace(lookup(byKey, "document_id")),
		SupplierName: strings.TrimSpace(lookup(byKey, "supplier_name")),
		NetTotal:     ParseAmount(lookup(byKey, "net_total")),
		TaxRate:      ParseRate(lookup(byKey, "tax_rate")),
		TaxAmount:    ParseAmount(lookup(byKey, "tax_amount")),
		GrossTotal:   ParseAmount(lookup(byKey, "gross_total")),
	}

	fields.SupplierVATID = normalizeVATID(lookup(byKey, "supplier_vat_id"))
	fields.Jurisdiction = deriveJurisdiction(lookup(byKey, "jurisdiction_code"), fields.SupplierVATID)
	fields.Currency = normalizeCurrency(lookup(byKey, "currency"))
	if fields.Currency == "" {
		fields.Currency = inferCurrency(
			lookup(byKey, "net_total"),
			lookup(byKey, "gross_total"),
			lookup(byKey, "tax_amount"),
		)
	}

	if rawDate := strings.TrimSpace(lookup(byKey, "issue_date")); rawDate != "" {
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, rawDate); err == nil {
				fields.IssueDate = ts
				break
			}
		}
	}

	return fields, nil
}

// NormalizeLineItems types the amounts on extracted line items, preserving
// order. Unparsable numbers leave the value missing.
func NormalizeLineItems(raw []domain.RawLineItem) []domain.LineItem {
	if len(raw) == 0 {
		return nil
	}
	items := make([]domain.LineItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, domain.LineItem{
			Description: strings.TrimSpace(r.Description),
			Quantity:    ParseAmount(r.Quantity),
			Amount:      ParseAmount(r.Amount),
		})
	}
	return items
}

// ParseAmount parses a monetary string using the extractor's conventions:
// currency symbols and spaces are stripped; "1.234,56" is the EU form with a
// comma decimal mark; otherwise commas are thousands separators. Unparsable
// or negative values are missing, never zero.
func ParseAmount(s string) decimal.NullDecimal {
	s = stripCurrency(s)
	if s == "" {
		return decimal.NullDecimal{}
	}

	if strings.Contains(s, ".") && strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ParseRate parses a tax rate. Unlike amounts, a comma in a rate is a
// decimal mark ("0,19" is 0.19). Values greater than 1 are percent form and
// are scaled down, so "19", "19%", and "0.19" all mean the same rate.
func ParseRate(s string) decimal.NullDecimal {
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	if d.GreaterThan(one) {
		d = d.Div(hundred)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func lookup(byKey map[string]string, canonical string) string {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := byKey[alias]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	return k
}

func stripCurrency(s string) string {
	s = strings.TrimSpace(s)
	for symbol := range currencySymbols {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = chfRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	return s
}

func normalizeVATID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "")
}

// deriveJurisdiction prefers an explicit country code and falls back to the
// VAT id prefix, the way the upstream extractor derived it.
func deriveJurisdiction(explicit, vatID string) string {
	explicit = strings.ToUpper(strings.TrimSpace(explicit))
	if jurisdictionRe.MatchString(explicit) {
		return explicit
	}
	if m := vatPrefixRe.FindStringSubmatch(vatID); m != nil {
		return m[1]
	}
	return ""
}

func normalizeCurrency(s string) string {
	s = strings.TrimSpace(s)
	if iso, ok := currencySymbols[s]; ok {
		return iso
	}
	s = strings.ToUpper(s)
	if len(s) == 3 && strings.IndexFunc(s, func(r rune) bool { return r < 'A' || r > 'Z' }) == -1 {
		return s
	}
	return ""
}

func inferCurrency(rawValues ...string) string {
	for _, v := range rawValues {
		for symbol, iso := range currencySymbols {
			if strings.Contains(v, symbol) {
				return iso
			}
		}
		if strings.Contains(strings.ToUpper(v), "CHF") {
			return "CHF"
		}
	}
	return ""
}
