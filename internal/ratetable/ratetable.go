// Package ratetable holds the per-jurisdiction tax rates that validation
// accepts. A table is immutable once loaded, so lookups are safe for
// concurrent use without locking.
package ratetable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Table maps uppercase 2-letter jurisdiction codes to their allowed rates,
// stored as decimal fractions and sorted ascending.
type Table struct {
	rates map[string][]decimal.Decimal
}

var one = decimal.NewFromInt(1)

var hundred = decimal.NewFromInt(100)

// Load reads a CSV rate table with a `country,rate` header. Rates may be
// fractions ("0.19") or percent form ("19"); percent form is anything
// greater than 1 and is divided by 100. Duplicate rows collapse.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("rate table is empty")
		}
		return nil, fmt.Errorf("read rate table header: %w", err)
	}
	if len(header) != 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "country") || !strings.EqualFold(strings.TrimSpace(header[1]), "rate") {
		return nil, fmt.Errorf("rate table header must be country,rate; got %q", strings.Join(header, ","))
	}

	t := &Table{rates: make(map[string][]decimal.Decimal)}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rate table line %d: %w", line, err)
		}

		jurisdiction := strings.ToUpper(strings.TrimSpace(row[0]))
		if jurisdiction == "" {
			return nil, fmt.Errorf("rate table line %d: empty country", line)
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("rate table line %d: parse rate %q: %w", line, row[1], err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("rate table line %d: negative rate %s", line, rate)
		}
		if rate.GreaterThan(one) {
			rate = rate.Div(hundred)
		}

		t.add(jurisdiction, rate)
	}

	if len(t.rates) == 0 {
		return nil, errors.New("rate table has no entries")
	}
	for j := range t.rates {
		sort.Slice(t.rates[j], func(a, b int) bool { return t.rates[j][a].LessThan(t.rates[j][b]) })
	}
	return t, nil
}

// LoadFile reads a rate table from disk.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rate table: %w", err)
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load rate table %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) add(jurisdiction string, rate decimal.Decimal) {
	for _, existing := range t.rates[jurisdiction] {
		if existing.Equal(rate) {
			return
		}
	}
	t.rates[jurisdiction] = append(t.rates[jurisdiction], rate)
}

// Contains reports whether the jurisdiction has any allowed rates.
func (t *Table) Contains(jurisdiction string) bool {
	_, ok := t.rates[normalize(jurisdiction)]
	return ok
}

// IsAllowed reports whether rate is an exact member of the jurisdiction's
// allowed set. Membership is numeric-value equality of decimals: 0.2000
// matches a table entry of 0.20, 0.200001 does not. Never tolerance-based.
func (t *Table) IsAllowed(jurisdiction string, rate decimal.Decimal) bool {
	for _, allowed := range t.rates[normalize(jurisdiction)] {
		if allowed.Equal(rate) {
			return true
		}
	}
	return false
}

// AllowedRates returns a sorted copy of the jurisdiction's rates. Unknown
// jurisdictions yield an empty slice.
func (t *Table) AllowedRates(jurisdiction string) []decimal.Decimal {
	rates := t.rates[normalize(jurisdiction)]
	out := make([]decimal.Decimal, len(rates))
	copy(out, rates)
	return out
}

// Jurisdictions returns the known codes, sorted.
func (t *Table) Jurisdictions() []string {
	out := make([]string, 0, len(t.rates))
	for j := range t.rates {
		out = append(out, j)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of known jurisdictions.
func (t *Table) Len() int {
	return len(t.rates)
}

func normalize(jurisdiction string) string {
	return strings.ToUpper(strings.TrimSpace(jurisdiction))
}

// Default returns the built-in table used for development and tests. The
// production table is operator-supplied CSV; this one carries the standard,
// reduced, and zero rates for the supported pilot countries.
func Default() *Table {
	seed := map[string][]string{
		"BE": {"0.21", "0.12", "0.06", "0"},
		"CH": {"0.081", "0.026", "0.038", "0"},
		"DE": {"0.19", "0.07", "0"},
		"ES": {"0.21", "0.10", "0.04", "0"},
		"FR": {"0.20", "0.10", "0.055", "0.021", "0"},
		"IT": {"0.22", "0.10", "0.05", "0.04", "0"},
	}

	t := &Table{rates: make(map[string][]decimal.Decimal, len(seed))}
	for jurisdiction, rates := range seed {
		for _, raw := range rates {
			t.add(jurisdiction, decimal.RequireFromString(raw))
		}
		sort.Slice(t.rates[jurisdiction], func(a, b int) bool {
			return t.rates[jurisdiction][a].LessThan(t.rates[jurisdiction][b])
		})
	}
	return t
}
