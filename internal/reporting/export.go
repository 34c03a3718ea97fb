package reporting

import (
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Revenue"

// WriteRevenueXLSX renders s as a workbook with a summary block followed by
// the per-period breakdown.
func WriteRevenueXLSX(w io.Writer, s RevenueSummary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	rows := [][]any{
		{"Date range", s.DateRange},
		{"Total payment", s.TotalPayment.InexactFloat64()},
		{"Wait for payment", s.WaitForPayment.InexactFloat64()},
		{"Waiting percentage", s.WaitingPercentage.InexactFloat64()},
		{"Total customers", s.TotalCustomers},
		{"Total invoices", s.TotalInvoices},
	}
	branches := make([]string, 0, len(s.BranchRevenue))
	for b := range s.BranchRevenue {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	for _, b := range branches {
		rows = append(rows, []any{"Branch " + b, s.BranchRevenue[b].InexactFloat64(), s.BranchPercentage[b].InexactFloat64()})
	}

	row := 1
	for _, values := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return err
		}
		row++
	}

	row++
	header, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(summarySheet, header, &[]any{"Period", "Revenue"}); err != nil {
		return err
	}
	end, _ := excelize.CoordinatesToCellName(2, row)
	if err := f.SetCellStyle(summarySheet, header, end, bold); err != nil {
		return err
	}
	for _, p := range s.RevenueBreakdown {
		row++
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(summarySheet, cell, &[]any{p.Label, p.Amount.InexactFloat64()}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return err
	}
	return f.Write(w)
}
