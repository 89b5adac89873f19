package diffexpr

import (
	"context"
	"math"

	"godiffex/domain/core"
	"godiffex/domain/expression"
)

// RawContrast is the unmoderated projection of one feature's fit onto a contrast.
type RawContrast struct {
	Effect   float64
	S2       float64
	DF       float64
	Unscaled float64
	Status   expression.FitStatus
}

// StdErr returns sqrt(s²·unscaled)
func (r RawContrast) StdErr() float64 {
	return math.Sqrt(r.S2 * r.Unscaled)
}

// OrdinaryT returns the per-feature t-statistic without moderation.
func (r RawContrast) OrdinaryT() float64 {
	return r.Effect / math.Sqrt(r.S2*r.Unscaled)
}

// EvaluateContrast projects every fit onto c. The unscaled variance factor
// cᵀ(XᵀX)⁺c is computed once for the shared design and only recomputed for
// features that were refitted on a subset of samples.
func EvaluateContrast(ctx context.Context, model *LinearModel, c ContrastVector, workers int) ([]RawContrast, error) {
	if len(c.Weights) != model.Design.Columns() {
		return nil, core.NewDimensionError("contrast vector", len(c.Weights), model.Design.Columns())
	}

	out := make([]RawContrast, len(model.Fits))
	shared := make(map[*geometry]float64)
	for i := range model.Fits {
		if geo := model.Fits[i].geo; geo != nil && model.Fits[i].Usable == model.Design.Samples() {
			if _, ok := shared[geo]; !ok {
				shared[geo] = quadForm(geo.cov, c.Weights)
			}
		}
	}

	err := parallelRanges(ctx, len(model.Fits), workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			fit := &model.Fits[i]
			if fit.Status != expression.FitOK {
				nan := math.NaN()
				out[i] = RawContrast{Effect: nan, S2: nan, DF: nan, Unscaled: nan, Status: expression.FitUnfit}
				continue
			}

			unscaled, ok := shared[fit.geo]
			if !ok {
				unscaled = quadForm(fit.geo.cov, c.Weights)
			}

			var effect float64
			for j, w := range c.Weights {
				effect += w * fit.Coefficients[j]
			}

			out[i] = RawContrast{
				Effect:   effect,
				S2:       fit.S2(),
				DF:       float64(fit.DF),
				Unscaled: unscaled,
				Status:   expression.FitOK,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
