package regress

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Vcov estimates the covariance matrix of fit's coefficients. X must be the
// design the fit was computed from. clusters holds a cluster code per row
// and is only read by the CR kinds.
//
//	classical  sigma2 (X'X)^-1
//	HC0        (X'X)^-1 X' diag(e^2) X (X'X)^-1
//	HC1        HC0 * N/(N-rank)
//	HC2        e^2 / (1-h) in the meat
//	HC3        e^2 / (1-h)^2 in the meat
//	CR0        (X'X)^-1 (sum_g X_g'e_g e_g'X_g) (X'X)^-1
//	CR1        CR0 * G/(G-1) * (N-1)/(N-rank)
func Vcov(fit *Fit, X *mat.Dense, kind VarianceKind, clusters []int) (*Covariance, error) {
	if fit == nil || X == nil {
		return nil, fmt.Errorf("fit and design are required")
	}
	n, k := X.Dims()
	if n != fit.N || k != fit.K {
		return nil, fmt.Errorf("design is %dx%d, fit is %dx%d", n, k, fit.N, fit.K)
	}
	dof := fit.DoF()

	switch kind {
	case Classical:
		v := mat.NewDense(k, k, nil)
		v.Scale(fit.Sigma2, fit.XtXInv)
		return &Covariance{Kind: kind, V: symmetric(v), DoF: dof}, nil

	case HC0, HC1, HC2, HC3:
		w := make([]float64, n)
		for i := range w {
			e := fit.Resid.AtVec(i)
			w[i] = e * e
			switch kind {
			case HC2:
				w[i] = divLeverage(w[i], 1-fit.Hat[i])
			case HC3:
				w[i] = divLeverage(w[i], (1-fit.Hat[i])*(1-fit.Hat[i]))
			}
		}

		meat := mat.NewDense(k, k, nil)
		for i := 0; i < n; i++ {
			row := X.RawRowView(i)
			for a := 0; a < k; a++ {
				for b := a; b < k; b++ {
					meat.Set(a, b, meat.At(a, b)+w[i]*row[a]*row[b])
				}
			}
		}
		mirror(meat)

		v := sandwich(fit.XtXInv, meat)
		if kind == HC1 {
			v.Scale(float64(n)/float64(dof), v)
		}
		return &Covariance{Kind: kind, V: symmetric(v), DoF: dof}, nil

	case CR0, CR1:
		if len(clusters) != n {
			return nil, fmt.Errorf("%d cluster ids for %d rows", len(clusters), n)
		}
		g, scores := clusterScores(X, fit.Resid, clusters)
		if g < 2 {
			return nil, fmt.Errorf("%w: got %d", ErrTooFewClusters, g)
		}

		meat := mat.NewDense(k, k, nil)
		for _, s := range scores {
			for a := 0; a < k; a++ {
				for b := a; b < k; b++ {
					meat.Set(a, b, meat.At(a, b)+s[a]*s[b])
				}
			}
		}
		mirror(meat)

		v := sandwich(fit.XtXInv, meat)
		if kind == CR1 {
			G := float64(g)
			v.Scale(G/(G-1)*float64(n-1)/float64(dof), v)
		}
		return &Covariance{Kind: kind, V: symmetric(v), Clusters: g, DoF: g - 1}, nil
	}
	return nil, fmt.Errorf("unknown variance kind %q", kind)
}

// clusterScores sums x_i e_i within each cluster. Rows with a negative
// code are skipped. It returns the number of clusters and one score per cluster.
func clusterScores(X *mat.Dense, resid *mat.VecDense, clusters []int) (int, [][]float64) {
	_, k := X.Dims()
	index := make(map[int]int)
	var scores [][]float64
	for i, c := range clusters {
		if c < 0 {
			continue
		}
		g, ok := index[c]
		if !ok {
			g = len(scores)
			index[c] = g
			scores = append(scores, make([]float64, k))
		}
		e := resid.AtVec(i)
		row := X.RawRowView(i)
		for a := 0; a < k; a++ {
			scores[g][a] += row[a] * e
		}
	}
	return len(scores), scores
}

// sandwich returns bread * meat * bread.
func sandwich(bread, meat *mat.Dense) *mat.Dense {
	var tmp, out mat.Dense
	tmp.Mul(bread, meat)
	out.Mul(&tmp, bread)
	return &out
}

// mirror copies the upper triangle of a square matrix into the lower one.
func mirror(m *mat.Dense) {
	r, _ := m.Dims()
	for a := 0; a < r; a++ {
		for b := 0; b < a; b++ {
			m.Set(a, b, m.At(b, a))
		}
	}
}

// symmetric averages m with its transpose.
func symmetric(m *mat.Dense) *mat.SymDense {
	r, _ := m.Dims()
	s := mat.NewSymDense(r, nil)
	for a := 0; a < r; a++ {
		for b := a; b < r; b++ {
			s.SetSym(a, b, (m.At(a, b)+m.At(b, a))/2)
		}
	}
	return s
}

// divLeverage guards observations with leverage one; their residual is zero.
func divLeverage(num, den float64) float64 {
	if den < 1e-12 {
		return 0
	}
	return num / den
}
