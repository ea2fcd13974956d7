// Package analysis runs the first-stage regression for every sample variant
// and collects one summary row per variant.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"firststage/internal/config"
	"firststage/internal/dataset"
	"firststage/internal/formula"
	"firststage/internal/regress"
)

// Inference is the output of one covariance estimator.
type Inference struct {
	Kind regress.VarianceKind
	SE   float64
	T    float64
	// P is the two-sided p-value of the focus coefficient.
	P     float64
	WaldF float64
	WaldP float64
	// DoF is the reference degrees of freedom of the t and F tests.
	DoF int
}

// Row summarizes one variant.
type Row struct {
	Variant string
	Label   string
	Model   string
	Filter  string
	Formula string
	Cluster string

	// Excluded counts rows removed by the filter, Dropped rows removed for
	// missing values, Obs rows used in the regression.
	Excluded int
	Dropped  int
	Obs      int
	Clusters int

	Focus    string
	Estimate float64

	Classical *Inference
	Robust    *Inference
	Clustered *Inference

	// Headline is the estimator the model identity selects.
	Headline    *Inference
	Stars       string
	Significant bool

	WaldTerms []string
	R2        float64
	AdjR2     float64

	Bootstrap *regress.BootstrapResult

	// Err is set when the variant could not be estimated.
	Err error
}

// Analyzer estimates variants over one frame.
type Analyzer struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New returns an Analyzer. A nil logger discards output.
func New(cfg *config.Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Check verifies that every enabled variant can be built on frame: the
// filter compiles and all referenced columns exist.
func (a *Analyzer) Check(frame *dataset.Frame) error {
	var errs []error
	for _, v := range a.cfg.Enabled() {
		if err := frame.CheckFilter(v.Filter); err != nil {
			errs = append(errs, fmt.Errorf("variant %s: %w", v.Name, err))
		}
		f, err := formula.Parse(a.FormulaFor(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("variant %s: %w", v.Name, err))
			continue
		}
		for _, name := range a.variables(f, v) {
			if _, err := frame.Column(name); err != nil {
				errs = append(errs, fmt.Errorf("variant %s: %w", v.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// FormulaFor builds the first-stage formula of a variant:
// endogenous ~ instruments + controls + fe(...).
func (a *Analyzer) FormulaFor(v config.Variant) string {
	terms := append([]string(nil), a.cfg.Instruments...)
	terms = append(terms, a.cfg.ControlsFor(v)...)
	for _, fe := range a.cfg.FixedEffectsFor(v) {
		terms = append(terms, formula.FE(fe))
	}
	return formula.Build(a.cfg.Endogenous, terms...)
}

func (a *Analyzer) variables(f formula.Formula, v config.Variant) []string {
	vars := f.Variables()
	if c := a.cfg.ClusterFor(v); c != "" {
		vars = append(vars, c)
	}
	return vars
}

// Run estimates every enabled variant, at most cfg.Workers at a time. Rows
// come back in variant order. A variant that fails to estimate is reported
// in its row's Err and does not stop the others; only cancellation of ctx
// aborts the run.
func (a *Analyzer) Run(ctx context.Context, frame *dataset.Frame) ([]Row, error) {
	variants := a.cfg.Enabled()
	rows := make([]Row, len(variants))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, v := range variants {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := a.Estimate(ctx, frame, v)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Warn("Variant failed", zap.String("variant", v.Name), zap.Error(err))
				row.Err = err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Estimate runs the full pipeline for one variant: filter, formula, complete
// cases, OLS, covariance estimators, t and Wald tests. On error the returned
// row still carries the variant identity and sample counts reached so far.
func (a *Analyzer) Estimate(ctx context.Context, frame *dataset.Frame, v config.Variant) (Row, error) {
	cfg := a.cfg
	row := Row{
		Variant:  v.Name,
		Label:    v.Title(),
		Model:    cfg.ModelFor(v),
		Filter:   v.Filter,
		Formula:  a.FormulaFor(v),
		Cluster:  cfg.ClusterFor(v),
		Focus:    cfg.FocusTerm(),
		Estimate: math.NaN(),
		R2:       math.NaN(),
		AdjR2:    math.NaN(),
	}
	log := a.logger.With(zap.String("variant", v.Name))

	// 1. Sample filter
	mask, err := frame.Filter(v.Filter)
	if err != nil {
		return row, err
	}
	row.Excluded = frame.Rows() - dataset.Count(mask)
	sub, err := frame.Select(mask)
	if err != nil {
		return row, err
	}

	// 2. Formula and complete cases
	f, err := formula.Parse(row.Formula)
	if err != nil {
		return row, err
	}
	complete, err := sub.CompleteCases(a.variables(f, v))
	if err != nil {
		return row, err
	}
	row.Dropped = sub.Rows() - dataset.Count(complete)
	sample, err := sub.Select(complete)
	if err != nil {
		return row, err
	}
	if sample.Rows() == 0 {
		return row, fmt.Errorf("variant %s: empty sample after filter and missing values", v.Name)
	}
	log.Debug("Sample selected",
		zap.Int("excluded", row.Excluded),
		zap.Int("dropped", row.Dropped),
		zap.Int("rows", sample.Rows()))

	// 3. Fit
	design, err := formula.NewDesign(sample, f)
	if err != nil {
		return row, err
	}
	fit, err := regress.OLS(design.Y, design.X, design.Names)
	if err != nil {
		return row, fmt.Errorf("variant %s: %w", v.Name, err)
	}
	if fit.Rank < fit.K {
		log.Warn("Design is rank deficient", zap.Int("rank", fit.Rank), zap.Int("columns", fit.K))
	}
	row.Obs = fit.N
	row.R2 = fit.R2
	row.AdjR2 = fit.AdjR2
	if row.Estimate, err = fit.Coef(row.Focus); err != nil {
		return row, fmt.Errorf("variant %s: focus term: %w", v.Name, err)
	}
	if row.WaldTerms, err = regress.SelectTerms(fit.Names, cfg.WaldFor(v)); err != nil {
		return row, fmt.Errorf("variant %s: %w", v.Name, err)
	}

	// 4. Covariance estimators
	var clusters []int
	if row.Cluster != "" {
		clusters, _, err = sample.Codes(row.Cluster)
		if err != nil {
			return row, err
		}
	}

	row.Classical, err = a.infer(fit, design, regress.Classical, nil, row)
	if err != nil {
		return row, err
	}
	row.Robust, err = a.infer(fit, design, regress.VarianceKind(cfg.Robust), nil, row)
	if err != nil {
		return row, err
	}
	if clusters != nil {
		row.Clustered, err = a.infer(fit, design, regress.CR1, clusters, row)
		if err != nil {
			return row, err
		}
		row.Clusters = row.Clustered.DoF + 1
	}

	// 5. Headline by model identity
	switch row.Model {
	case config.ModelOLS:
		row.Headline = row.Classical
	case config.ModelCluster:
		row.Headline = row.Clustered
	default:
		row.Headline = row.Robust
	}
	if row.Headline == nil {
		return row, fmt.Errorf("variant %s: model %s has no %s estimate", v.Name, row.Model, row.Model)
	}
	row.Stars = Stars(row.Headline.P)
	row.Significant = row.Headline.P < cfg.Alpha

	// 6. Optional cluster bootstrap
	if cfg.Bootstrap.Replications > 0 && clusters != nil {
		row.Bootstrap, err = regress.ClusterBootstrap(ctx, design.Y, design.X, design.Names, clusters, row.Focus,
			regress.BootstrapOptions{
				Replications: cfg.Bootstrap.Replications,
				Alpha:        cfg.Alpha,
				Seed:         cfg.Bootstrap.Seed,
				Workers:      a.bootstrapWorkers(),
			})
		if err != nil {
			return row, fmt.Errorf("variant %s: bootstrap: %w", v.Name, err)
		}
		if row.Bootstrap.Failed > 0 {
			log.Warn("Bootstrap replications failed", zap.Int("failed", row.Bootstrap.Failed))
		}
	}

	log.Info("Variant estimated",
		zap.Int("obs", row.Obs),
		zap.Float64("estimate", row.Estimate),
		zap.Float64("se", row.Headline.SE),
		zap.String("model", row.Model))
	return row, nil
}

// infer computes the covariance of one kind, the focus t test and the Wald
// test of the selected terms. The classical Wald statistic comes from the
// nested-model F test.
func (a *Analyzer) infer(fit *regress.Fit, design *formula.Design, kind regress.VarianceKind, clusters []int, row Row) (*Inference, error) {
	cov, err := regress.Vcov(fit, design.X, kind, clusters)
	if err != nil {
		return nil, fmt.Errorf("variant %s: %s covariance: %w", row.Variant, kind, err)
	}
	tt, err := regress.T(fit, cov, row.Focus)
	if err != nil {
		return nil, err
	}

	var wald *regress.WaldTest
	if kind == regress.Classical {
		wald, err = regress.NestedF(design.Y, design.X, fit, row.WaldTerms)
	} else {
		wald, err = regress.Wald(fit, cov, row.WaldTerms)
	}
	if err != nil {
		return nil, fmt.Errorf("variant %s: %s wald: %w", row.Variant, kind, err)
	}

	return &Inference{
		Kind:  kind,
		SE:    tt.SE,
		T:     tt.T,
		P:     tt.P,
		WaldF: wald.F,
		WaldP: wald.PF,
		DoF:   cov.DoF,
	}, nil
}

// bootstrapWorkers shares the CPUs among the variants estimated at once.
func (a *Analyzer) bootstrapWorkers() int {
	per := runtime.NumCPU()
	if a.cfg.Workers > 1 {
		per /= a.cfg.Workers
	}
	return max(per, 1)
}

// Stars returns the conventional significance marker for a p-value.
func Stars(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.01:
		return "***"
	case p < 0.05:
		return "**"
	case p < 0.1:
		return "*"
	}
	return ""
}
