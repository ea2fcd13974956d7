package dataset

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter evaluates a boolean expression against every row and returns the
// row mask. Columns are referenced by name: numeric columns as float64,
// string columns as string. Missing numeric values are NaN, so comparisons
// against them are false. An empty expression keeps every row.
//
//	region == "North" && border_km <= 100
func (f *Frame) Filter(expression string) ([]bool, error) {
	mask := make([]bool, f.rows)
	if strings.TrimSpace(expression) == "" {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}

	program, err := f.compile(expression)
	if err != nil {
		return nil, err
	}

	env := f.env()
	for i := 0; i < f.rows; i++ {
		for _, c := range f.cols {
			env[c.Name] = c.Value(i)
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("filter %q at row %d: %w", expression, i+1, err)
		}
		keep, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("filter %q at row %d: got %T, want bool", expression, i+1, out)
		}
		mask[i] = keep
	}
	return mask, nil
}

// CheckFilter compiles an expression against the frame's columns without
// evaluating it.
func (f *Frame) CheckFilter(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := f.compile(expression)
	return err
}

func (f *Frame) compile(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(f.env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return program, nil
}

// env returns a variable map typed like the columns, holding zero values.
func (f *Frame) env() map[string]any {
	env := make(map[string]any, len(f.cols))
	for _, c := range f.cols {
		if c.Kind == Numeric {
			env[c.Name] = float64(0)
		} else {
			env[c.Name] = ""
		}
	}
	return env
}
