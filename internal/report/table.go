package report

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"firststage/internal/analysis"
)

// Render writes a console table with the headline estimate of each variant.
func Render(w io.Writer, rows []analysis.Row) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Variant", "Model", "N", "Clusters", "Estimate", "SE", "P", "", "Wald F", "R2", "Note"})
	for i := range rows {
		r := &rows[i]
		h := headline(r)
		note := errText(r)
		if note == "" && r.Bootstrap != nil {
			note = fmt.Sprintf("boot SE %s", short(r.Bootstrap.SE))
		}
		tw.AppendRow(table.Row{
			r.Label, r.Model, r.Obs, r.Clusters,
			short(r.Estimate), short(h.SE), short(h.P), r.Stars,
			short(h.WaldF), short(r.R2), note,
		})
	}
	right := make([]table.ColumnConfig, 0, 7)
	for n := 3; n <= 10; n++ {
		if n == 8 {
			continue
		}
		right = append(right, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	right = append(right, table.ColumnConfig{Number: 11, WidthMax: 48})
	tw.SetColumnConfigs(right)

	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

func short(v float64) string {
	switch {
	case math.IsNaN(v):
		return "-"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return fmt.Sprintf("%.4f", v)
}
