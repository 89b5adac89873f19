package diffexpr

import (
	"context"
	"fmt"
	"math"
	"sort"

	"godiffex/domain/expression"
	"godiffex/internal"

	"github.com/montanaflynn/stats"
)

// ShrinkageState describes how the variance prior ended up being used.
type ShrinkageState int

const (
	// ShrinkageFinite: d₀ is finite and positive; posterior variances mix prior and data.
	ShrinkageFinite ShrinkageState = iota
	// ShrinkageInfinite: observed variances show no spread beyond sampling noise,
	// so d₀ = ∞ and every posterior variance equals s₀².
	ShrinkageInfinite
	// ShrinkageNone: the prior could not be estimated (no data, or the root-find
	// hit its iteration cap); d₀ = 0 and statistics are ordinary t-tests.
	ShrinkageNone
)

func (s ShrinkageState) String() string {
	switch s {
	case ShrinkageFinite:
		return "finite"
	case ShrinkageInfinite:
		return "infinite"
	case ShrinkageNone:
		return "unshrunk"
	default:
		return fmt.Sprintf("ShrinkageState(%d)", int(s))
	}
}

// Prior holds the scaled inverse chi-square hyperparameters.
type Prior struct {
	DF         float64        `json:"df_prior"`
	Var        float64        `json:"var_prior"`
	State      ShrinkageState `json:"-"`
	Iterations int            `json:"iterations"`
	Features   int            `json:"features"`
}

// ModeratorConfig bounds the hyperparameter root-find and tunes the B-statistic.
type ModeratorConfig struct {
	MaxIterations int
	Tolerance     float64

	// Proportion is the assumed share of differentially expressed features.
	Proportion float64
	// StdevCoefLim bounds the prior standard deviation of non-zero effects,
	// expressed in unscaled-SD units.
	StdevCoefLim [2]float64
}

// DefaultModeratorConfig returns the usual settings
func DefaultModeratorConfig() ModeratorConfig {
	return ModeratorConfig{
		MaxIterations: 50,
		Tolerance:     1e-8,
		Proportion:    0.01,
		StdevCoefLim:  [2]float64{0.1, 4},
	}
}

// Validate checks the configuration for values the moderator cannot use
func (c ModeratorConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations must be >= 0, got %d", c.MaxIterations)
	}
	if math.IsNaN(c.Tolerance) || c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be > 0, got %g", c.Tolerance)
	}
	if c.Proportion <= 0 || c.Proportion >= 1 {
		return fmt.Errorf("proportion must lie in (0,1), got %g", c.Proportion)
	}
	if c.StdevCoefLim[0] < 0 || c.StdevCoefLim[1] < c.StdevCoefLim[0] {
		return fmt.Errorf("invalid stdev coefficient limits %v", c.StdevCoefLim)
	}
	return nil
}

// Moderator performs empirical-Bayes variance moderation.
type Moderator struct {
	cfg     ModeratorConfig
	workers int
	log     *internal.Logger
}

// NewModerator creates a moderator
func NewModerator(cfg ModeratorConfig, workers int, logger *internal.Logger) *Moderator {
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &Moderator{cfg: cfg, workers: workers, log: logger.With("ebayes")}
}

// FitPrior estimates (d₀, s₀²) from the per-feature residual variances by
// matching the mean and variance of log s² to those of the log scaled inverse
// chi-square distribution. Only fitted features with positive df take part.
// Moments are population moments, so the estimate depends only on the empirical
// distribution of (s², df) and not on how often it was observed.
func (m *Moderator) FitPrior(model *LinearModel) Prior {
	s2 := make([]float64, 0, len(model.Fits))
	df := make([]float64, 0, len(model.Fits))
	for i := range model.Fits {
		fit := &model.Fits[i]
		v := fit.S2()
		if fit.Status != expression.FitOK || fit.DF <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s2 = append(s2, v)
		df = append(df, float64(fit.DF))
	}
	return m.fitPrior(s2, df)
}

func (m *Moderator) fitPrior(s2, df []float64) Prior {
	n := len(s2)
	if n == 0 {
		m.log.Warn("no feature has residual degrees of freedom; statistics are unshrunk")
		return Prior{DF: 0, Var: math.NaN(), State: ShrinkageNone}
	}

	x := make([]float64, n)
	for i, v := range s2 {
		x[i] = math.Max(v, 0)
	}
	med, _ := stats.Median(x)
	if med == 0 {
		m.log.Warn("more than half of the residual variances are exactly zero")
		med = 1
	}
	floor := 1e-5 * med

	e := make([]float64, n)
	tri := make([]float64, n)
	for i := range x {
		half := df[i] / 2
		e[i] = math.Log(math.Max(x[i], floor)) - digamma(half) + math.Log(half)
		tri[i] = trigamma(half)
	}
	emean, evar := distinctMoments(e)
	tmean, _ := distinctMoments(tri)
	evar -= tmean

	if evar <= 0 {
		prior := Prior{DF: math.Inf(1), Var: math.Exp(emean), State: ShrinkageInfinite, Features: n}
		m.log.Info("variance spread is within sampling noise: df_prior=Inf var_prior=%.6g (%d features)", prior.Var, n)
		return prior
	}

	half, iterations, ok := trigammaInverse(evar, m.cfg.MaxIterations, m.cfg.Tolerance)
	if !ok {
		m.log.Warn("trigamma inversion did not converge in %d iterations; falling back to unshrunk statistics", iterations)
		return Prior{DF: 0, Var: math.NaN(), State: ShrinkageNone, Iterations: iterations, Features: n}
	}

	d0 := 2 * half
	prior := Prior{
		DF:         d0,
		Var:        math.Exp(emean + digamma(half) - math.Log(half)),
		State:      ShrinkageFinite,
		Iterations: iterations,
		Features:   n,
	}
	m.log.Info("df_prior=%.4g var_prior=%.6g after %d iterations (%d features)", prior.DF, prior.Var, iterations, n)
	return prior
}

// distinctMoments returns the population mean and variance of x summed over
// its sorted distinct values weighted by multiplicity. Reordering x or
// repeating every value the same number of times gives identical results.
func distinctMoments(x []float64) (mean, variance float64) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	values := make([]float64, 0, len(sorted))
	counts := make([]float64, 0, len(sorted))
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			counts[len(counts)-1]++
			continue
		}
		values = append(values, v)
		counts = append(counts, 1)
	}

	var total, sum float64
	for k, v := range values {
		total += counts[k]
		sum += counts[k] * v
	}
	mean = sum / total

	var ss float64
	for k, v := range values {
		d := v - mean
		ss += counts[k] * d * d
	}
	return mean, ss / total
}

// PosteriorVar returns the moderated variance and total degrees of freedom for
// one feature under prior.
func (p Prior) PosteriorVar(s2, df float64) (float64, float64) {
	switch p.State {
	case ShrinkageInfinite:
		return p.Var, math.Inf(1)
	case ShrinkageNone:
		return s2, df
	}
	return (p.DF*p.Var + df*s2) / (p.DF + df), p.DF + df
}

// Moderate turns raw contrast projections into moderated statistics. Adjusted
// p-values are left NaN for the multiple-testing step.
func (m *Moderator) Moderate(ctx context.Context, raw []RawContrast, prior Prior) ([]expression.ModeratedStatistic, error) {
	out := make([]expression.ModeratedStatistic, len(raw))
	err := parallelRanges(ctx, len(raw), m.workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			r := raw[i]
			if r.Status != expression.FitOK || math.IsNaN(r.S2) {
				out[i] = expression.UnfitStatistic()
				continue
			}

			post, dfTotal := prior.PosteriorVar(r.S2, r.DF)
			t := r.Effect / math.Sqrt(post*r.Unscaled)
			if math.IsNaN(t) {
				// zero variance and zero effect without shrinkage
				out[i] = expression.UnfitStatistic()
				continue
			}
			out[i] = expression.ModeratedStatistic{
				Effect:       r.Effect,
				StdErr:       r.StdErr(),
				RawVar:       r.S2,
				PosteriorVar: post,
				T:            t,
				DFTotal:      dfTotal,
				PValue:       TwoSidedTPValue(t, dfTotal),
				AdjPValue:    math.NaN(),
				B:            math.NaN(),
				Status:       expression.FitOK,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.addLogOdds(out, raw, prior)
	return out, nil
}
