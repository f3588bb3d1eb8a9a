package analytics

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscus/internal/domain"
)

func TestCSVSinkWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.csv")

	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	rows := []Record{FromStatus(finalizedFail("INV-C1"))}
	require.NoError(t, sink.WriteBatch(context.Background(), rows))
	require.NoError(t, sink.Close())

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])

	row := records[1]
	assert.Equal(t, "INV-C1", row[0])
	assert.Equal(t, "FAIL", row[1])
	assert.Equal(t, "RATE_MISMATCH|MATH_MISMATCH", row[3])
	assert.Equal(t, "100", row[9], "net_total column")
	assert.Equal(t, "0.25", row[10], "tax_rate column")
	assert.Equal(t, "6", row[12], "math_delta column")
}

func TestCSVSinkAppendsWithoutDuplicatingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.csv")

	first, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, first.WriteBatch(context.Background(), []Record{FromStatus(finalizedFail("INV-C2"))}))
	require.NoError(t, first.Close())

	second, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, second.WriteBatch(context.Background(), []Record{FromStatus(finalizedFail("INV-C3"))}))
	require.NoError(t, second.Close())

	records := readCSV(t, path)
	require.Len(t, records, 3, "one header, two rows")
	assert.Equal(t, "INV-C2", records[1][0])
	assert.Equal(t, "INV-C3", records[2][0])
}

func TestCSVSinkMissingDecimalsAreEmptyCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.csv")

	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	rec := domain.StatusRecord{
		DocumentID:     "INV-C4",
		Outcome:        domain.OutcomeFail,
		Reason:         "net_total is required",
		RuleSetVersion: "v3",
		Violations: []domain.Violation{
			{Code: domain.ViolationMissingField, Field: "net_total", Message: "net_total is required"},
		},
		EvaluatedAt: testStoredAt,
		StoredAt:    testStoredAt,
	}
	require.NoError(t, sink.WriteBatch(context.Background(), []Record{FromStatus(rec)}))
	require.NoError(t, sink.Close())

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Empty(t, records[1][9], "missing net_total is an empty cell, not 0")
	assert.Empty(t, records[1][12], "no math delta without a math violation")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
