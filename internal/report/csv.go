package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"firststage/internal/analysis"
)

// WriteCSV writes one line per variant to path, creating parent directories.
// Numbers use six decimals; unreported quantities are empty cells.
func WriteCSV(path string, rows []analysis.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(Header()); err != nil {
		return err
	}
	for i := range rows {
		if err := writer.Write(record(&rows[i])); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func record(r *analysis.Row) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = cell(c.value(r))
	}
	return out
}

func cell(v any) string {
	if nullable(v) {
		return ""
	}
	if s := infText(v); s != "" {
		return s
	}
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.6f", x)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
