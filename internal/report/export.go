// Package report renders calculation and snapshot history as Excel workbooks.
package report

import (
	"fmt"
	"io"
	"time"

	"commodity-desk/internal/core"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	CalculationSheet = "Calculations"
	SnapshotSheet    = "Snapshot History"

	dateTimeLayout = "2006-01-02 15:04:05"
)

var calculationHeaders = []string{
	"ID", "Product ID", "Destination", "Calculated At", "State", "Manual Override", "Parent ID", "Triggered By",
	"Cost Per Unit", "Waste %", "Cleaning", "Empty Bags", "Printing", "Handling",
	"Paperwork", "Customs Duty", "Clearance", "Transport To Port", "Freight (USD)", "Exchange Rate",
	"Freight (Local)", "Total Cost (Local)", "Total Cost (USD)", "FOB (USD)", "CNF (USD)",
}

var snapshotHeaders = []string{
	"Archive ID", "Snapshot ID", "Archived At", "Name", "Value",
	"China", "UAE", "Mersing", "India", "Port Sudan",
	"Status", "Forecast", "Trend", "Last Update",
}

// ExportCalculationHistory writes records, newest first as given, to w.
func ExportCalculationHistory(w io.Writer, records []core.CalculationRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		var parent any
		if r.ParentID != nil {
			parent = *r.ParentID
		}
		rows = append(rows, []any{
			r.ID, r.ProductID, string(r.Destination), r.CalculatedAt.UTC().Format(dateTimeLayout),
			string(r.State()), r.IsManualOverride, parent, r.TriggeredBy,
			num(r.CostPerUnit), num(r.WastePercentage), num(r.CleaningCost), num(r.EmptyBagsCost),
			num(r.PrintingCost), num(r.HandlingCost), num(r.PaperworkCost), num(r.CustomsDuty),
			num(r.ClearanceCost), num(r.TransportToPort), num(r.FreightCostUSD), num(r.ExchangeRate),
			num(r.FreightCostLocal), num(r.TotalCostLocal), num(r.TotalCostUSD), num(r.FOBPriceUSD), num(r.CNFPriceUSD),
		})
	}
	return write(w, CalculationSheet, calculationHeaders, rows)
}

// ExportSnapshotHistory writes archived snapshot states to w.
func ExportSnapshotHistory(w io.Writer, archives []core.MarketSnapshotArchive) error {
	rows := make([][]any, 0, len(archives))
	for _, a := range archives {
		s := a.Snapshot
		rows = append(rows, []any{
			a.ID, a.OriginalID, a.ArchivedAt.UTC().Format(dateTimeLayout), s.Name, num(s.Value),
			num(s.DmtChina), num(s.DmtUAE), num(s.DmtMersing), num(s.DmtIndia), num(s.PortSudan),
			string(s.Status), string(s.Forecast), s.Trend, timeCell(s.LastUpdate),
		})
	}
	return write(w, SnapshotSheet, snapshotHeaders, rows)
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func timeCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeLayout)
}

func write(w io.Writer, sheet string, headers []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
