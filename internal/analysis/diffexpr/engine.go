package diffexpr

import (
	"context"
	"fmt"
	"math"
	"time"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/internal"

	"github.com/montanaflynn/stats"
)

// Config carries the tunables of one analysis run
type Config struct {
	Workers     int
	Moderator   ModeratorConfig
	Adjust      AdjustMethod
	DesignOrder ColumnOrder
	Table       TableOptions
}

// DefaultConfig returns BH adjustment, lexicographic design columns and the
// default moderator settings.
func DefaultConfig() Config {
	return Config{
		Moderator:   DefaultModeratorConfig(),
		Adjust:      AdjustBH,
		DesignOrder: OrderLexicographic,
		Table:       DefaultTableOptions(),
	}
}

// ContrastResult is the outcome for one named contrast.
type ContrastResult struct {
	Contrast ContrastVector
	// Statistics are aligned with the input feature order.
	Statistics []expression.ModeratedStatistic
	Table      expression.ResultsTable
}

// Analysis is the full output of Engine.Analyze.
type Analysis struct {
	Design    *Design
	Model     *LinearModel
	Prior     Prior
	AveExpr   []float64
	Contrasts []ContrastResult
	Unfit     int
	Elapsed   time.Duration
}

// Table re-assembles contrast i with symbols and different table options.
func (a *Analysis) Table(i int, featureIDs, symbols []string, opts TableOptions) (expression.ResultsTable, error) {
	if i < 0 || i >= len(a.Contrasts) {
		return expression.ResultsTable{}, fmt.Errorf("contrast index %d out of range", i)
	}
	c := a.Contrasts[i]
	return Assemble(c.Contrast.Name, featureIDs, symbols, a.AveExpr, c.Statistics, opts)
}

// Engine runs the differential-expression pipeline: design, fit, contrasts,
// moderation, adjustment and assembly.
type Engine struct {
	cfg       Config
	fitter    *Fitter
	moderator *Moderator
	log       *internal.Logger
}

// NewEngine creates an engine
func NewEngine(cfg Config, logger *internal.Logger) (*Engine, error) {
	if err := cfg.Moderator.Validate(); err != nil {
		return nil, core.NewInvalidInputError(err.Error())
	}
	if cfg.Adjust == "" {
		cfg.Adjust = AdjustBH
	}
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &Engine{
		cfg:       cfg,
		fitter:    NewFitter(cfg.Workers),
		moderator: NewModerator(cfg.Moderator, cfg.Workers, logger),
		log:       logger.With("diffexpr"),
	}, nil
}

// Analyze runs every contrast against a single fit of m. labels are aligned
// with the matrix columns. Any hard error aborts the run without partial output.
func (e *Engine) Analyze(ctx context.Context, m *expression.Matrix, labels []string, contrasts []ContrastSpec) (*Analysis, error) {
	start := time.Now()

	if err := m.Validate(); err != nil {
		return nil, core.NewInvalidInputError(err.Error())
	}
	if len(labels) != m.Samples() {
		return nil, core.NewDimensionError("group labels", len(labels), m.Samples())
	}
	if len(contrasts) == 0 {
		return nil, core.NewInvalidInputError("at least one contrast is required")
	}

	design, err := BuildDesign(labels, e.cfg.DesignOrder)
	if err != nil {
		return nil, err
	}

	vectors := make([]ContrastVector, len(contrasts))
	for i, spec := range contrasts {
		if vectors[i], err = ResolveContrast(design, spec); err != nil {
			return nil, err
		}
	}
	e.log.Debug("design: %d samples, groups %v, %d contrasts", design.Samples(), design.Groups, len(vectors))

	model, err := e.fitter.Fit(ctx, m, design)
	if err != nil {
		return nil, err
	}

	unfit := 0
	for i := range model.Fits {
		if model.Fits[i].Status != expression.FitOK {
			unfit++
		}
	}
	if unfit > 0 {
		e.log.Warn("%d of %d features could not be fitted", unfit, m.Features())
	}

	prior := e.moderator.FitPrior(model)
	aveExpr, err := averageExpression(ctx, m, e.cfg.Workers)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Design:  design,
		Model:   model,
		Prior:   prior,
		AveExpr: aveExpr,
		Unfit:   unfit,
	}

	for _, vec := range vectors {
		raw, err := EvaluateContrast(ctx, model, vec, e.cfg.Workers)
		if err != nil {
			return nil, err
		}
		mod, err := e.moderator.Moderate(ctx, raw, prior)
		if err != nil {
			return nil, err
		}

		pvals := make([]float64, len(mod))
		for i := range mod {
			pvals[i] = mod[i].PValue
		}
		for i, q := range AdjustPValues(pvals, e.cfg.Adjust) {
			mod[i].AdjPValue = q
		}

		table, err := Assemble(vec.Name, m.FeatureIDs, nil, aveExpr, mod, e.cfg.Table)
		if err != nil {
			return nil, err
		}
		analysis.Contrasts = append(analysis.Contrasts, ContrastResult{
			Contrast:   vec,
			Statistics: mod,
			Table:      table,
		})
		e.log.Info("contrast %q: %d features, %d with adjusted p < 0.05", vec.Name, len(mod), countBelow(mod, 0.05))
	}

	analysis.Elapsed = time.Since(start)
	return analysis, nil
}

// averageExpression is the mean of the finite intensities of each feature.
func averageExpression(ctx context.Context, m *expression.Matrix, workers int) ([]float64, error) {
	out := make([]float64, m.Features())
	err := parallelRanges(ctx, m.Features(), workers, func(lo, hi int) error {
		buf := make([]float64, 0, m.Samples())
		for i := lo; i < hi; i++ {
			buf = buf[:0]
			for _, v := range m.Row(i) {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					buf = append(buf, v)
				}
			}
			mean, err := stats.Mean(buf)
			if err != nil {
				mean = math.NaN()
			}
			out[i] = mean
		}
		return nil
	})
	return out, err
}

func countBelow(mod []expression.ModeratedStatistic, alpha float64) int {
	n := 0
	for _, s := range mod {
		if s.AdjPValue < alpha {
			n++
		}
	}
	return n
}
