package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"firststage/internal/analysis"
)

const (
	// SheetResults holds the summary table.
	SheetResults = "first_stage"
	// SheetMeta holds the run identity.
	SheetMeta = "meta"
)

// WriteXLSX writes the summary table to the first_stage sheet and the run
// identity to the meta sheet of a new workbook at path.
func WriteXLSX(path string, run Run, rows []analysis.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetResults); err != nil {
		return err
	}
	header := Header()
	if err := setRow(f, SheetResults, 1, toAny(header)); err != nil {
		return err
	}
	for i := range rows {
		values := make([]any, len(columns))
		for j, c := range columns {
			v := c.value(&rows[i])
			if nullable(v) {
				v = nil
			} else if s := infText(v); s != "" {
				v = s
			}
			values[j] = v
		}
		if err := setRow(f, SheetResults, i+2, values); err != nil {
			return err
		}
	}
	if err := f.SetPanes(SheetResults, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetMeta); err != nil {
		return err
	}
	meta := [][]any{
		{"run_id", run.ID},
		{"started_at", run.StartedAt.Format(time.RFC3339)},
		{"data", run.Data},
		{"config", run.Config},
		{"variants", len(rows)},
	}
	for i, kv := range meta {
		if err := setRow(f, SheetMeta, i+1, kv); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
