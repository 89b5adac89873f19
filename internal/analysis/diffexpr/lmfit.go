package diffexpr

import (
	"context"
	"math"

	"godiffex/domain/core"
	"godiffex/domain/expression"

	"gonum.org/v1/gonum/mat"
)

// Reasons recorded on unfit features
const (
	ReasonNoUsableSamples = "no usable samples"
	ReasonRankDeficient   = "design loses rank on usable samples"
	ReasonNoResidualDF    = "no residual degrees of freedom"
)

// FeatureFit is the least-squares fit of one feature.
type FeatureFit struct {
	Coefficients []float64
	RSS          float64
	DF           int
	Usable       int
	Status       expression.FitStatus
	Reason       string

	geo *geometry
}

// S2 returns the residual variance RSS/df, NaN when unfit.
func (f *FeatureFit) S2() float64 {
	if f.Status != expression.FitOK || f.DF <= 0 {
		return math.NaN()
	}
	return f.RSS / float64(f.DF)
}

// UnscaledCovariance returns (XᵀX)⁺ for the samples this feature used.
func (f *FeatureFit) UnscaledCovariance() mat.Matrix {
	if f.geo == nil {
		return nil
	}
	return f.geo.cov
}

// LinearModel is the output of Fitter.Fit: one fit per feature in input order.
type LinearModel struct {
	Design *Design
	Rank   int
	Fits   []FeatureFit
}

// Fitter fits one ordinary-least-squares model per feature row.
type Fitter struct {
	Workers int
}

// NewFitter creates a fitter using the given number of workers (<=0 means GOMAXPROCS)
func NewFitter(workers int) *Fitter {
	return &Fitter{Workers: workers}
}

// Fit solves min ||y − Xβ||² for every row y of m. The pseudo-inverse of the full
// design is computed once and shared by all complete rows. Rows with non-finite
// entries are refitted on their usable samples; when that loses rank or leaves
// no residual degrees of freedom the row is marked unfit instead of failing the
// batch.
func (f *Fitter) Fit(ctx context.Context, m *expression.Matrix, design *Design) (*LinearModel, error) {
	if err := m.Validate(); err != nil {
		return nil, core.NewInvalidInputError(err.Error())
	}
	if m.Samples() != design.Samples() {
		return nil, core.NewDimensionError("design rows", design.Samples(), m.Samples())
	}
	if m.Samples() == 0 || design.Columns() == 0 {
		return nil, &core.DegenerateDesignError{Rows: design.Samples(), Cols: design.Columns()}
	}

	full, err := newGeometry(design.X)
	if err != nil {
		return nil, err
	}
	if full.rank == 0 {
		return nil, &core.DegenerateDesignError{Rows: design.Samples(), Cols: design.Columns(), Rank: 0}
	}

	fits := make([]FeatureFit, m.Features())
	err = parallelRanges(ctx, m.Features(), f.Workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			fits[i] = fitRow(m.Row(i), design.X, full)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LinearModel{Design: design, Rank: full.rank, Fits: fits}, nil
}

func fitRow(y []float64, x *mat.Dense, full *geometry) FeatureFit {
	usable := make([]int, 0, len(y))
	for j, v := range y {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			usable = append(usable, j)
		}
	}

	if len(usable) == len(y) {
		return solve(y, x, full)
	}
	if len(usable) == 0 {
		return unfit(0, ReasonNoUsableSamples)
	}

	_, g := x.Dims()
	rx := mat.NewDense(len(usable), g, nil)
	ry := make([]float64, len(usable))
	for k, j := range usable {
		rx.SetRow(k, mat.Row(nil, j, x))
		ry[k] = y[j]
	}

	geo, err := newGeometry(rx)
	if err != nil || geo.rank < full.rank {
		return unfit(len(usable), ReasonRankDeficient)
	}
	return solve(ry, rx, geo)
}

func solve(y []float64, x *mat.Dense, geo *geometry) FeatureFit {
	n := len(y)
	g, _ := geo.pinv.Dims()

	beta := make([]float64, g)
	for i := 0; i < g; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += geo.pinv.At(i, j) * y[j]
		}
		beta[i] = s
	}

	var rss float64
	for j := 0; j < n; j++ {
		fitted := 0.0
		for i := 0; i < g; i++ {
			fitted += x.At(j, i) * beta[i]
		}
		r := y[j] - fitted
		rss += r * r
	}

	df := n - geo.rank
	fit := FeatureFit{
		Coefficients: beta,
		RSS:          rss,
		DF:           df,
		Usable:       n,
		Status:       expression.FitOK,
		geo:          geo,
	}
	if df <= 0 {
		fit.Status = expression.FitUnfit
		fit.Reason = ReasonNoResidualDF
	}
	return fit
}

func unfit(usable int, reason string) FeatureFit {
	return FeatureFit{
		RSS:    math.NaN(),
		Usable: usable,
		Status: expression.FitUnfit,
		Reason: reason,
	}
}
