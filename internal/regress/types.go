// Package regress fits linear regressions by ordinary least squares and
// provides the inference built on top of them: classical, heteroscedasticity
// robust and cluster robust covariance matrices, t tests, Wald tests and a
// pairs cluster bootstrap.
package regress

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoDegreesOfFreedom is returned when there are no more observations than regressors.
	ErrNoDegreesOfFreedom = errors.New("insufficient degrees of freedom")
	// ErrTooFewClusters is returned by cluster estimators with fewer than two clusters.
	ErrTooFewClusters = errors.New("cluster covariance needs at least two clusters")
	// ErrNoTerms is returned when a test selects no coefficients.
	ErrNoTerms = errors.New("no terms selected")
	// ErrUnknownTerm is returned when a coefficient name is not in the fit.
	ErrUnknownTerm = errors.New("unknown term")
)

// VarianceKind names a covariance estimator.
type VarianceKind string

const (
	Classical VarianceKind = "classical"
	HC0       VarianceKind = "hc0"
	HC1       VarianceKind = "hc1"
	HC2       VarianceKind = "hc2"
	HC3       VarianceKind = "hc3"
	CR0       VarianceKind = "cr0"
	CR1       VarianceKind = "cr1"
)

// Clustered reports whether the estimator needs cluster ids.
func (k VarianceKind) Clustered() bool { return k == CR0 || k == CR1 }

// Robust reports whether the estimator is one of the HC family.
func (k VarianceKind) Robust() bool {
	switch k {
	case HC0, HC1, HC2, HC3:
		return true
	}
	return false
}

// ParseVarianceKind validates a kind name.
func ParseVarianceKind(s string) (VarianceKind, error) {
	k := VarianceKind(s)
	switch k {
	case Classical, HC0, HC1, HC2, HC3, CR0, CR1:
		return k, nil
	}
	return "", fmt.Errorf("unknown variance kind %q", s)
}

// Fit is the result of an OLS regression.
type Fit struct {
	Names []string
	Beta  *mat.VecDense
	// Resid are the residuals y - X beta.
	Resid *mat.VecDense
	// XtXInv is (X'X)^-1, or its pseudo-inverse when X is rank deficient.
	XtXInv *mat.Dense
	// Hat holds the leverage h_ii of each observation.
	Hat []float64

	N, K  int
	Rank  int
	RSS   float64
	TSS   float64
	R2    float64
	AdjR2 float64
	// Sigma2 is RSS / (N - Rank).
	Sigma2 float64
}

// DoF returns the residual degrees of freedom N - Rank. It equals N - K
// unless the design is rank deficient.
func (f *Fit) DoF() int { return f.N - f.Rank }

// Index returns the position of a coefficient, or an error wrapping ErrUnknownTerm.
func (f *Fit) Index(name string) (int, error) {
	for j, n := range f.Names {
		if n == name {
			return j, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownTerm, name)
}

// Coef returns a coefficient by name.
func (f *Fit) Coef(name string) (float64, error) {
	j, err := f.Index(name)
	if err != nil {
		return 0, err
	}
	return f.Beta.AtVec(j), nil
}

// Covariance is an estimated covariance matrix of the coefficients.
type Covariance struct {
	Kind VarianceKind
	V    *mat.SymDense
	// Clusters is the number of clusters for CR kinds, 0 otherwise.
	Clusters int
	// DoF is the reference degrees of freedom for t and F tests:
	// N - Rank, or G - 1 for cluster estimators.
	DoF int
}

// SE returns the standard error of coefficient j.
func (c *Covariance) SE(j int) float64 {
	return sqrtNonNeg(c.V.At(j, j))
}

// TTest is a test of one coefficient against zero.
type TTest struct {
	Term     string
	Estimate float64
	SE       float64
	T        float64
	DoF      int
	// P is the two-sided p-value.
	P float64
}

// WaldTest is a joint test that a set of coefficients are all zero.
type WaldTest struct {
	Terms []string
	Q     int
	Chi2  float64
	// PChi2 is the asymptotic chi-square p-value.
	PChi2 float64
	// F is Chi2 / Q, referred to F(Q, DoF).
	F   float64
	DoF int
	PF  float64
}

// BootstrapOptions configures ClusterBootstrap.
type BootstrapOptions struct {
	// Number of bootstrap replications; no default, callers opt in.
	Replications int
	// Alpha sets the percentile interval to [alpha/2, 1-alpha/2].
	Alpha float64
	// RNG seed (if 0, time-based seed is used)
	Seed int64
	// Workers bounds the goroutines; 0 means runtime.NumCPU().
	Workers int
}

// BootstrapResult summarizes the bootstrap distribution of one coefficient.
type BootstrapResult struct {
	Term         string
	Replications int
	// Failed counts replications whose refit was rank deficient or empty.
	Failed int
	SE     float64
	Lower  float64
	Upper  float64
	Alpha  float64
}
