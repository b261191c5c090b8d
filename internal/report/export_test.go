package report

import (
	"bytes"
	"testing"
	"time"

	"commodity-desk/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readRows(t *testing.T, buf *bytes.Buffer, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{sheet}, f.GetSheetList())
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return rows
}

func TestExportCalculationHistory(t *testing.T) {
	parent := 4
	at := time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC)
	records := []core.CalculationRecord{
		{
			ID: 5, ProductID: 1, Destination: core.DestinationChina, CalculatedAt: at,
			IsCurrent: true, IsManualOverride: true, ParentID: &parent, TriggeredBy: "alice",
			CalculationInputs: core.CalculationInputs{
				CostPerUnit: decimal.RequireFromString("1000"), ExchangeRate: decimal.RequireFromString("587.25"),
			},
			CalculationOutputs: core.CalculationOutputs{CNFPriceUSD: decimal.RequireFromString("7.70")},
		},
		{ID: 4, ProductID: 1, Destination: core.DestinationChina, CalculatedAt: at.Add(-time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportCalculationHistory(&buf, records))

	rows := readRows(t, &buf, CalculationSheet)
	require.Len(t, rows, 3)
	require.Equal(t, calculationHeaders, rows[0])

	head := rows[1]
	require.Equal(t, "5", head[0])
	require.Equal(t, "China", head[2])
	require.Equal(t, "2026-05-02 10:30:00", head[3])
	require.Equal(t, "current", head[4])
	require.Equal(t, "4", head[6])
	require.Equal(t, "1000", head[8])
	require.Equal(t, "587.25", head[19])
	require.Equal(t, "7.7", head[24])

	require.Equal(t, "retired", rows[2][4])
}

func TestExportSnapshotHistory(t *testing.T) {
	archives := []core.MarketSnapshotArchive{{
		ID: 9, OriginalID: 3, ArchivedAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		Snapshot: core.MarketSnapshot{
			ID: 3, Name: "Sesame", DmtChina: decimal.RequireFromString("7"), PortSudan: decimal.RequireFromString("1200"),
			Status: core.StatusActive, Forecast: core.ForecastStable, Trend: -3,
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, ExportSnapshotHistory(&buf, archives))

	rows := readRows(t, &buf, SnapshotSheet)
	require.Len(t, rows, 2)
	require.Equal(t, snapshotHeaders, rows[0])
	require.Equal(t, "Sesame", rows[1][3])
	require.Equal(t, "7", rows[1][5])
	require.Equal(t, "1200", rows[1][9])
	require.Equal(t, "Active", rows[1][10])
	require.Equal(t, "-3", rows[1][12])
}

func TestExportEmptyHistoryHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportSnapshotHistory(&buf, nil))
	require.Len(t, readRows(t, &buf, SnapshotSheet), 1)
}
