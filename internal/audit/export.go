package audit

import (
	"encoding/json"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Audit"

// WriteXLSX streams rows into a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []TimelineRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 1, 20); err != nil {
		return err
	}
	header := []any{"At", "Actor", "Action", "Entity", "Entity ID", "Meta"}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, r := range rows {
		meta := ""
		if len(r.Meta) > 0 {
			raw, err := json.Marshal(r.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, []any{r.At.UTC().Format("2006-01-02 15:04:05"), r.Actor, r.Action, r.Entity, r.EntityID, meta}); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}
