package formula

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"firststage/internal/dataset"
)

// InterceptName is the column name of the constant regressor.
const InterceptName = "(Intercept)"

// Design is the numeric form of a formula evaluated on a frame.
type Design struct {
	Formula Formula
	Y       *mat.VecDense
	X       *mat.Dense
	// Names labels the columns of X.
	Names []string
	// Absorbed marks columns generated by fe(...) terms.
	Absorbed []bool
}

// Rows returns the number of observations in the design.
func (d *Design) Rows() int {
	r, _ := d.X.Dims()
	return r
}

// Index returns the column of X named name, or -1.
func (d *Design) Index(name string) int {
	for j, n := range d.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// NewDesign evaluates f on frame. The frame must not contain missing values
// in any variable the formula reads; filter it with CompleteCases first.
func NewDesign(frame *dataset.Frame, f Formula) (*Design, error) {
	n := frame.Rows()
	if n == 0 {
		return nil, fmt.Errorf("design %s: no observations", f)
	}

	y, err := frame.Numeric(f.Response)
	if err != nil {
		return nil, fmt.Errorf("design %s: response: %w", f, err)
	}

	// Columns are collected column-major and packed into X at the end.
	var (
		cols     [][]float64
		names    []string
		absorbed []bool
	)
	add := func(name string, v []float64, fixed bool) {
		cols = append(cols, v)
		names = append(names, name)
		absorbed = append(absorbed, fixed)
	}

	if f.Intercept {
		one := make([]float64, n)
		for i := range one {
			one[i] = 1
		}
		add(InterceptName, one, false)
	}

	// The first categorical keeps every level only when there is no intercept.
	dropReference := f.Intercept
	for _, t := range f.Terms {
		if len(t.Factors) == 1 {
			c, err := frame.Column(t.Factors[0])
			if err != nil {
				return nil, fmt.Errorf("design %s: %w", f, err)
			}
			if t.Fixed || c.Kind == dataset.String {
				dummies, labels, err := expand(frame, c.Name, dropReference)
				if err != nil {
					return nil, fmt.Errorf("design %s: %w", f, err)
				}
				for k := range dummies {
					add(labels[k], dummies[k], t.Fixed)
				}
				dropReference = true
				continue
			}
			v := make([]float64, n)
			copy(v, c.Float)
			add(c.Name, v, false)
			continue
		}

		v := make([]float64, n)
		for i := range v {
			v[i] = 1
		}
		for _, name := range t.Factors {
			x, err := frame.Numeric(name)
			if err != nil {
				return nil, fmt.Errorf("design %s: interaction %s: %w", f, t, err)
			}
			for i := range v {
				v[i] *= x[i]
			}
		}
		add(t.String(), v, false)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("design %s: no regressors", f)
	}

	k := len(cols)
	data := make([]float64, n*k)
	for j, col := range cols {
		for i, v := range col {
			data[i*k+j] = v
		}
	}

	yv := make([]float64, n)
	copy(yv, y)
	return &Design{
		Formula:  f,
		Y:        mat.NewVecDense(n, yv),
		X:        mat.NewDense(n, k, data),
		Names:    names,
		Absorbed: absorbed,
	}, nil
}

// expand builds one 0/1 column per level of a categorical column, named
// col[level]. With dropFirst the lowest level is the omitted reference.
func expand(frame *dataset.Frame, name string, dropFirst bool) ([][]float64, []string, error) {
	codes, levels, err := frame.Codes(name)
	if err != nil {
		return nil, nil, err
	}
	start := 0
	if dropFirst {
		start = 1
	}

	var (
		dummies [][]float64
		labels  []string
	)
	for lv := start; lv < len(levels); lv++ {
		d := make([]float64, len(codes))
		for i, c := range codes {
			if c == lv {
				d[i] = 1
			}
		}
		dummies = append(dummies, d)
		labels = append(labels, fmt.Sprintf("%s[%s]", name, levels[lv]))
	}
	return dummies, labels, nil
}
