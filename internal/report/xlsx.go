package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	topSheet     = "Top decisions"
	summarySheet = "Summary"
)

// WriteXLSX writes the ranking and the totals to an Excel workbook.
func WriteXLSX(path string, st Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", topSheet); err != nil {
		return err
	}
	headers := []string{"Rank", "ID", "Decision ID", "Language", "Count"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(topSheet, cell, h)
	}
	for i, d := range st.Top {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(topSheet, cell, v)
		}
		write(1, d.Rank)
		write(2, d.ID)
		write(3, d.DecisionID)
		write(4, d.Language)
		write(5, d.Count)
	}
	_ = f.SetColWidth(topSheet, "B", "C", 24)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][2]any{
		{"Job", st.JobID},
		{"Run", st.RunID},
		{"Field", st.Field},
		{"Records analyzed", st.Analyzed},
		{"Total entries", st.Total},
		{"Average per record", st.Average},
		{"Records without entries", st.Empty},
		{"Maximum", st.Max},
	}
	for i, r := range rows {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), r[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), r[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 26)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
