// Package dataset holds the tabular input of an analysis run: a frame of
// typed columns loaded from CSV, plus row filters for sample definitions.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnknownColumn is returned when a caller names a column the frame does not have.
var ErrUnknownColumn = errors.New("unknown column")

// Kind is the storage type of a column.
type Kind int

const (
	Numeric Kind = iota
	String
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Column is one variable of the frame. Exactly one of Float or Str is
// populated, depending on Kind. Missing values are NaN for numeric columns
// and "" for string columns.
type Column struct {
	Name  string
	Kind  Kind
	Float []float64
	Str   []string
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Float)
	}
	return len(c.Str)
}

// Missing reports whether row i holds no value.
func (c *Column) Missing(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.Float[i])
	}
	return c.Str[i] == ""
}

// Value returns row i as the type expressions see it: float64 or string.
func (c *Column) Value(i int) any {
	if c.Kind == Numeric {
		return c.Float[i]
	}
	return c.Str[i]
}

// Label returns row i formatted as a category level.
func (c *Column) Label(i int) string {
	if c.Kind == String {
		return c.Str[i]
	}
	return formatLevel(c.Float[i])
}

func formatLevel(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// Frame is an ordered set of equally long columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewFrame assembles a frame from columns. Column names must be unique and
// all columns must have the same length.
func NewFrame(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			f.rows = c.Len()
		} else if c.Len() != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), f.rows)
		}
		f.index[c.Name] = i
		f.cols = append(f.cols, c)
	}
	return f, nil
}

// Rows returns the number of observations.
func (f *Frame) Rows() int { return f.rows }

// Names returns the column names in file order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name.
func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return f.cols[i], nil
}

// Numeric returns the values of a numeric column.
func (f *Frame) Numeric(name string) ([]float64, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Numeric {
		return nil, fmt.Errorf("column %q is %s, want numeric", name, c.Kind)
	}
	return c.Float, nil
}

// Select returns a new frame holding only the rows where mask is true.
func (f *Frame) Select(mask []bool) (*Frame, error) {
	if len(mask) != f.rows {
		return nil, fmt.Errorf("mask has %d entries, frame has %d rows", len(mask), f.rows)
	}
	keep := 0
	for _, m := range mask {
		if m {
			keep++
		}
	}

	out := make([]*Column, len(f.cols))
	for j, c := range f.cols {
		nc := &Column{Name: c.Name, Kind: c.Kind}
		if c.Kind == Numeric {
			nc.Float = make([]float64, 0, keep)
		} else {
			nc.Str = make([]string, 0, keep)
		}
		for i, m := range mask {
			if !m {
				continue
			}
			if c.Kind == Numeric {
				nc.Float = append(nc.Float, c.Float[i])
			} else {
				nc.Str = append(nc.Str, c.Str[i])
			}
		}
		out[j] = nc
	}
	return NewFrame(out...)
}

// CompleteCases marks the rows with a value in every listed column.
func (f *Frame) CompleteCases(names []string) ([]bool, error) {
	mask := make([]bool, f.rows)
	for i := range mask {
		mask[i] = true
	}
	for _, name := range names {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		for i := range mask {
			if mask[i] && c.Missing(i) {
				mask[i] = false
			}
		}
	}
	return mask, nil
}

// Count returns the number of true entries in a mask.
func Count(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}

// Codes maps each row of a column to a dense integer code, ordered by level:
// numerically for numeric columns, lexically for string columns. Missing
// rows get code -1. The returned levels are indexed by code.
func (f *Frame) Codes(name string) ([]int, []string, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, nil, err
	}

	type level struct {
		label string
		num   float64
	}
	seen := make(map[string]level)
	for i := 0; i < f.rows; i++ {
		if c.Missing(i) {
			continue
		}
		lab := c.Label(i)
		if _, ok := seen[lab]; !ok {
			lv := level{label: lab}
			if c.Kind == Numeric {
				lv.num = c.Float[i]
			}
			seen[lab] = lv
		}
	}

	levels := make([]level, 0, len(seen))
	for _, lv := range seen {
		levels = append(levels, lv)
	}
	sort.Slice(levels, func(a, b int) bool {
		if c.Kind == Numeric {
			return levels[a].num < levels[b].num
		}
		return levels[a].label < levels[b].label
	})

	index := make(map[string]int, len(levels))
	labels := make([]string, len(levels))
	for k, lv := range levels {
		index[lv.label] = k
		labels[k] = lv.label
	}

	codes := make([]int, f.rows)
	for i := range codes {
		if c.Missing(i) {
			codes[i] = -1
			continue
		}
		codes[i] = index[c.Label(i)]
	}
	return codes, labels, nil
}
