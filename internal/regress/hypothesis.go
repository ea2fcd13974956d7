package regress

import (
	"fmt"
	"math"
	"regexp"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// T tests a single coefficient against zero using cov.
func T(fit *Fit, cov *Covariance, term string) (*TTest, error) {
	j, err := fit.Index(term)
	if err != nil {
		return nil, err
	}
	b := fit.Beta.AtVec(j)
	se := cov.SE(j)
	return &TTest{
		Term:     term,
		Estimate: b,
		SE:       se,
		T:        b / se,
		DoF:      cov.DoF,
		P:        twoSidedP(b/se, cov.DoF),
	}, nil
}

func twoSidedP(t float64, dof int) float64 {
	switch {
	case math.IsNaN(t) || dof <= 0:
		return math.NaN()
	case math.IsInf(t, 0):
		return 0
	}
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	return clampP(2 * tdist.Survival(math.Abs(t)))
}

// Wald tests H0: beta_j = 0 for every named term jointly, using
// W = (Rb)' (R V R')^-1 (Rb).
func Wald(fit *Fit, cov *Covariance, terms []string) (*WaldTest, error) {
	if len(terms) == 0 {
		return nil, ErrNoTerms
	}
	idx := make([]int, len(terms))
	for i, term := range terms {
		j, err := fit.Index(term)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}

	q := len(idx)
	rb := mat.NewVecDense(q, nil)
	rvr := mat.NewSymDense(q, nil)
	for a, ja := range idx {
		rb.SetVec(a, fit.Beta.AtVec(ja))
		for b := a; b < q; b++ {
			rvr.SetSym(a, b, cov.V.At(ja, idx[b]))
		}
	}

	var x mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(rvr) {
		if err := chol.SolveVecTo(&x, rb); err != nil {
			return nil, fmt.Errorf("wald: %w", err)
		}
	} else {
		// R V R' is not positive definite; use its pseudo-inverse.
		var svd mat.SVD
		if !svd.Factorize(rvr, mat.SVDThin) {
			return nil, fmt.Errorf("wald: covariance of %v cannot be factorized", terms)
		}
		rank := svd.Rank(rankTol)
		if rank == 0 {
			return nil, fmt.Errorf("wald: covariance of %v is zero", terms)
		}
		svd.SolveVecTo(&x, rb, rank)
	}

	w := mat.Dot(rb, &x)
	return newWaldTest(terms, w, cov.DoF), nil
}

// NestedF is the classical F test of the named terms, computed by refitting
// without them and comparing residual sums of squares:
//
//	F = ((RSS_r - RSS_u) / q) / (RSS_u / (N - rank))
//
// It agrees with Wald under the classical covariance. X and y must be the
// data full was estimated from.
func NestedF(y *mat.VecDense, X *mat.Dense, full *Fit, terms []string) (*WaldTest, error) {
	if len(terms) == 0 {
		return nil, ErrNoTerms
	}
	drop := make(map[int]bool, len(terms))
	for _, term := range terms {
		j, err := full.Index(term)
		if err != nil {
			return nil, err
		}
		drop[j] = true
	}

	n, k := X.Dims()
	keep := make([]int, 0, k-len(drop))
	for j := 0; j < k; j++ {
		if !drop[j] {
			keep = append(keep, j)
		}
	}

	var rssRestricted float64
	if len(keep) == 0 {
		rssRestricted = mat.Dot(y, y)
	} else {
		XRestricted := mat.NewDense(n, len(keep), nil)
		names := make([]string, len(keep))
		for c, j := range keep {
			names[c] = full.Names[j]
			for i := 0; i < n; i++ {
				XRestricted.Set(i, c, X.At(i, j))
			}
		}
		restricted, err := OLS(y, XRestricted, names)
		if err != nil {
			return nil, fmt.Errorf("restricted fit: %w", err)
		}
		rssRestricted = restricted.RSS
	}

	q := float64(len(drop))
	dof := full.DoF()

	// In theory rssRestricted >= rssUnrestricted, but floating point can
	// produce a tiny negative difference.
	num := rssRestricted - full.RSS
	if num < 0 {
		num = 0
	}
	den := full.RSS / float64(dof)

	var f float64
	switch {
	case num == 0:
		f = 0
	case den <= 0:
		f = math.Inf(1)
	default:
		f = (num / q) / den
	}
	return newWaldTest(terms, f*q, dof), nil
}

func newWaldTest(terms []string, chi2 float64, dof int) *WaldTest {
	q := len(terms)
	wt := &WaldTest{
		Terms: append([]string(nil), terms...),
		Q:     q,
		Chi2:  chi2,
		F:     chi2 / float64(q),
		DoF:   dof,
	}
	switch {
	case math.IsNaN(chi2):
		wt.PChi2, wt.PF = math.NaN(), math.NaN()
	case math.IsInf(chi2, 1):
		wt.PChi2, wt.PF = 0, 0
	case chi2 <= 0:
		wt.PChi2, wt.PF = 1, 1
	default:
		chi := distuv.ChiSquared{K: float64(q)}
		wt.PChi2 = clampP(chi.Survival(chi2))
		if dof > 0 {
			fDist := distuv.F{D1: float64(q), D2: float64(dof)}
			wt.PF = clampP(fDist.Survival(wt.F))
		} else {
			wt.PF = math.NaN()
		}
	}
	return wt
}

// SelectTerms returns the coefficient names matched by any selector, in
// coefficient order. Selectors are regular expressions anchored at both ends,
// so a plain column name selects exactly that coefficient.
func SelectTerms(names []string, selectors []string) ([]string, error) {
	res := make([]*regexp.Regexp, len(selectors))
	for i, s := range selectors {
		re, err := regexp.Compile("^(?:" + s + ")$")
		if err != nil {
			return nil, fmt.Errorf("term selector %q: %w", s, err)
		}
		res[i] = re
	}

	var out []string
	for _, name := range names {
		for _, re := range res {
			if re.MatchString(name) {
				out = append(out, name)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoTerms, selectors)
	}
	return out, nil
}

// clampP keeps a p-value in [0, 1].
func clampP(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
