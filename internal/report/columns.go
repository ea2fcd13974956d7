// Package report writes the per-variant summary table as CSV, XLSX, a console
// table and a SQLite archive.
package report

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"firststage/internal/analysis"
)

// Run identifies one invocation of the analysis.
type Run struct {
	ID        string
	StartedAt time.Time
	Data      string
	Config    string
}

// NewRun stamps a run with a fresh id and the current time.
func NewRun(data, config string) Run {
	return Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Data:      data,
		Config:    config,
	}
}

// column is one output column. value returns a string, int, bool or float64;
// NaN marks an unreported quantity.
type column struct {
	name  string
	value func(r *analysis.Row) any
}

var columns = buildColumns()

func buildColumns() []column {
	cols := []column{
		{"variant", func(r *analysis.Row) any { return r.Variant }},
		{"label", func(r *analysis.Row) any { return r.Label }},
		{"model", func(r *analysis.Row) any { return r.Model }},
		{"filter", func(r *analysis.Row) any { return r.Filter }},
		{"formula", func(r *analysis.Row) any { return r.Formula }},
		{"cluster", func(r *analysis.Row) any { return r.Cluster }},
		{"excluded", func(r *analysis.Row) any { return r.Excluded }},
		{"dropped", func(r *analysis.Row) any { return r.Dropped }},
		{"obs", func(r *analysis.Row) any { return r.Obs }},
		{"clusters", func(r *analysis.Row) any { return r.Clusters }},
		{"focus", func(r *analysis.Row) any { return r.Focus }},
		{"estimate", func(r *analysis.Row) any { return r.Estimate }},
		{"se", func(r *analysis.Row) any { return headline(r).SE }},
		{"p", func(r *analysis.Row) any { return headline(r).P }},
		{"stars", func(r *analysis.Row) any { return r.Stars }},
		{"significant", func(r *analysis.Row) any { return r.Significant }},
	}
	cols = append(cols, inferenceColumns("classical", func(r *analysis.Row) *analysis.Inference { return r.Classical })...)
	cols = append(cols, inferenceColumns("robust", func(r *analysis.Row) *analysis.Inference { return r.Robust })...)
	cols = append(cols, inferenceColumns("cluster", func(r *analysis.Row) *analysis.Inference { return r.Clustered })...)
	cols = append(cols,
		column{"wald_terms", func(r *analysis.Row) any { return strings.Join(r.WaldTerms, " ") }},
		column{"r2", func(r *analysis.Row) any { return r.R2 }},
		column{"adj_r2", func(r *analysis.Row) any { return r.AdjR2 }},
		column{"boot_se", func(r *analysis.Row) any { return boot(r).SE }},
		column{"boot_lower", func(r *analysis.Row) any { return boot(r).Lower }},
		column{"boot_upper", func(r *analysis.Row) any { return boot(r).Upper }},
		column{"error", func(r *analysis.Row) any { return errText(r) }},
	)
	return cols
}

func inferenceColumns(prefix string, get func(r *analysis.Row) *analysis.Inference) []column {
	pick := func(f func(in *analysis.Inference) float64) func(r *analysis.Row) any {
		return func(r *analysis.Row) any {
			in := get(r)
			if in == nil {
				return math.NaN()
			}
			return f(in)
		}
	}
	return []column{
		{"se_" + prefix, pick(func(in *analysis.Inference) float64 { return in.SE })},
		{"p_" + prefix, pick(func(in *analysis.Inference) float64 { return in.P })},
		{"wald_f_" + prefix, pick(func(in *analysis.Inference) float64 { return in.WaldF })},
		{"wald_p_" + prefix, pick(func(in *analysis.Inference) float64 { return in.WaldP })},
	}
}

// Header returns the column names shared by the CSV and XLSX outputs.
func Header() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.name
	}
	return out
}

var missing = analysis.Inference{SE: math.NaN(), P: math.NaN(), WaldF: math.NaN(), WaldP: math.NaN()}

func headline(r *analysis.Row) *analysis.Inference {
	if r.Headline == nil {
		return &missing
	}
	return r.Headline
}

func boot(r *analysis.Row) bootCells {
	if r.Bootstrap == nil {
		return bootCells{SE: math.NaN(), Lower: math.NaN(), Upper: math.NaN()}
	}
	return bootCells{SE: r.Bootstrap.SE, Lower: r.Bootstrap.Lower, Upper: r.Bootstrap.Upper}
}

type bootCells struct {
	SE, Lower, Upper float64
}

func errText(r *analysis.Row) string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// nullable reports whether v is an unreported number. Infinite values are
// reported: a perfect fit has an infinite F statistic.
func nullable(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// infText spells an infinite value, "" for finite ones.
func infText(v any) string {
	f, ok := v.(float64)
	switch {
	case !ok:
		return ""
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return ""
}
