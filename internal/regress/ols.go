package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// rankTol is the relative singular value cutoff for the SVD fallback.
const rankTol = 1e-12

// OLS regresses y on the columns of X. names labels the columns of X.
//
// The coefficients come from the normal equations B = (X'X)^-1 X'y. When X'X
// cannot be inverted the minimum-norm least squares solution is computed
// from the SVD of X instead, and XtXInv holds the Moore-Penrose
// pseudo-inverse.
func OLS(y *mat.VecDense, X *mat.Dense, names []string) (*Fit, error) {
	if y == nil || X == nil {
		return nil, fmt.Errorf("regression data not provided")
	}
	n, k := X.Dims()
	if y.Len() != n {
		return nil, fmt.Errorf("y has %d rows, X has %d", y.Len(), n)
	}
	if len(names) != k {
		return nil, fmt.Errorf("%d names for %d columns", len(names), k)
	}
	if n <= k {
		return nil, fmt.Errorf("%w: N = %d, K = %d", ErrNoDegreesOfFreedom, n, k)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	beta := mat.NewVecDense(k, nil)
	xtxInv := mat.NewDense(k, k, nil)
	rank := k

	if err := xtxInv.Inverse(&xtx); err == nil && !math.IsNaN(xtxInv.At(0, 0)) {
		// X'X is invertible: standard OLS
		var xty mat.VecDense
		xty.MulVec(X.T(), y)
		beta.MulVec(xtxInv, &xty)
	} else {
		// Fallback: X'X is singular or badly conditioned.
		var svd mat.SVD
		if ok := svd.Factorize(X, mat.SVDThin); !ok {
			return nil, fmt.Errorf("OLS failed: X'X singular and SVD factorization failed: %v", err)
		}
		rank = svd.Rank(rankTol)

		// If rank == 0, X is (numerically) all zero and B = 0 is the
		// minimum-norm solution.
		if rank > 0 {
			svd.SolveVecTo(beta, y, rank)
		}
		xtxInv = pseudoInverse(&svd, rank, k)
	}
	if n <= rank {
		return nil, fmt.Errorf("%w: N = %d, rank = %d", ErrNoDegreesOfFreedom, n, rank)
	}

	var fitted mat.VecDense
	fitted.MulVec(X, beta)
	resid := mat.NewVecDense(n, nil)
	resid.SubVec(y, &fitted)
	rss := mat.Dot(resid, resid)

	yv := make([]float64, n)
	for i := range yv {
		yv[i] = y.AtVec(i)
	}
	intercept := hasConstant(X)
	var tss float64
	if intercept {
		mean := stat.Mean(yv, nil)
		for _, v := range yv {
			tss += (v - mean) * (v - mean)
		}
	} else {
		for _, v := range yv {
			tss += v * v
		}
	}

	fit := &Fit{
		Names:  append([]string(nil), names...),
		Beta:   beta,
		Resid:  resid,
		XtXInv: xtxInv,
		Hat:    leverage(X, xtxInv),
		N:      n,
		K:      k,
		Rank:   rank,
		RSS:    rss,
		TSS:    tss,
	}
	dof := float64(fit.DoF())
	fit.Sigma2 = rss / dof
	if tss > 0 {
		fit.R2 = 1 - rss/tss
		c := 0.0
		if intercept {
			c = 1
		}
		fit.AdjR2 = 1 - (1-fit.R2)*(float64(n)-c)/dof
	} else {
		fit.R2 = math.NaN()
		fit.AdjR2 = math.NaN()
	}
	return fit, nil
}

// pseudoInverse returns (X'X)^+ = V diag(1/s^2) V' from the thin SVD of X,
// keeping the first rank singular values.
func pseudoInverse(svd *mat.SVD, rank, k int) *mat.Dense {
	out := mat.NewDense(k, k, nil)
	if rank == 0 {
		return out
	}
	var v mat.Dense
	svd.VTo(&v)
	s := svd.Values(nil)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			sum := 0.0
			for r := 0; r < rank; r++ {
				sum += v.At(a, r) * v.At(b, r) / (s[r] * s[r])
			}
			out.Set(a, b, sum)
		}
	}
	return out
}

// leverage returns the diagonal of the hat matrix X (X'X)^-1 X'.
func leverage(X *mat.Dense, xtxInv *mat.Dense) []float64 {
	n, k := X.Dims()
	h := make([]float64, n)
	tmp := mat.NewVecDense(k, nil)
	for i := 0; i < n; i++ {
		row := X.RowView(i)
		tmp.MulVec(xtxInv, row)
		h[i] = mat.Dot(row, tmp)
	}
	return h
}

// hasConstant reports whether some column of X is identically one.
func hasConstant(X *mat.Dense) bool {
	n, k := X.Dims()
	for j := 0; j < k; j++ {
		constant := true
		for i := 0; i < n; i++ {
			if X.At(i, j) != 1 {
				constant = false
				break
			}
		}
		if constant {
			return true
		}
	}
	return false
}

func sqrtNonNeg(v float64) float64 {
	if v < 0 {
		return math.NaN()
	}
	return math.Sqrt(v)
}
