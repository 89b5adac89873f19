package diffexpr

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"godiffex/domain/core"
	"godiffex/domain/expression"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 4
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	return e
}

func TestAnalyze_SmallExample(t *testing.T) {
	m, err := expression.NewMatrix(
		[]string{"up", "flat", "down"},
		[]string{"n1", "n2", "t1", "t2"},
		[][]float64{
			{1, 2, 10, 11},
			{5, 6, 5.5, 5.5},
			{9, 8.5, 2, 1},
		},
	)
	require.NoError(t, err)

	spec, err := ParseContrast("", "Tumor - Normal")
	require.NoError(t, err)

	analysis, err := newTestEngine(t).Analyze(context.Background(), m, []string{"Normal", "Normal", "Tumor", "Tumor"}, []ContrastSpec{spec})
	require.NoError(t, err)

	require.Len(t, analysis.Contrasts, 1)
	res := analysis.Contrasts[0]
	assert.Equal(t, "Tumor - Normal", res.Contrast.Name)
	assert.Equal(t, []string{"Normal", "Tumor"}, analysis.Design.Groups)
	assert.InDelta(t, 9.0, res.Statistics[0].Effect, 1e-12)
	assert.InDelta(t, 0.0, res.Statistics[1].Effect, 1e-12)
	assert.InDelta(t, -7.25, res.Statistics[2].Effect, 1e-12)
	assert.InDelta(t, 6.0, analysis.AveExpr[0], 1e-12)

	require.Equal(t, 3, res.Table.Len())
	assert.Equal(t, "flat", res.Table.Rows[2].FeatureID)
	for _, row := range res.Table.Rows {
		assert.GreaterOrEqual(t, row.AdjPValue, row.PValue)
		assert.LessOrEqual(t, row.AdjPValue, 1.0)
	}
}

func TestAnalyze_RowPermutation(t *testing.T) {
	m, labels := simulate(t, 21, 300, 3)
	m.Values[5*m.Samples()] = math.NaN()

	rng := rand.New(rand.NewSource(99))
	perm := rng.Perm(m.Features())

	shuffled := &expression.Matrix{
		FeatureIDs: make([]string, m.Features()),
		SampleIDs:  m.SampleIDs,
		Values:     make([]float64, 0, len(m.Values)),
	}
	for k, i := range perm {
		shuffled.FeatureIDs[k] = m.FeatureIDs[i]
		shuffled.Values = append(shuffled.Values, m.Row(i)...)
	}

	contrasts := []ContrastSpec{{Name: "B-A", Weights: map[string]float64{"B": 1, "A": -1}}}
	e := newTestEngine(t)

	a, err := e.Analyze(context.Background(), m, labels, contrasts)
	require.NoError(t, err)
	b, err := e.Analyze(context.Background(), shuffled, labels, contrasts)
	require.NoError(t, err)

	assert.Equal(t, a.Prior.DF, b.Prior.DF)
	assert.Equal(t, a.Prior.Var, b.Prior.Var)

	sa, sb := a.Contrasts[0].Statistics, b.Contrasts[0].Statistics
	for k, i := range perm {
		x, y := sa[i], sb[k]
		assert.Equal(t, x.Status, y.Status, "feature %d", i)
		for _, pair := range [][2]float64{
			{x.Effect, y.Effect}, {x.T, y.T}, {x.PValue, y.PValue},
			{x.AdjPValue, y.AdjPValue}, {x.B, y.B}, {x.PosteriorVar, y.PosteriorVar},
		} {
			assert.True(t, sameFloat(pair[0], pair[1], 1e-12), "feature %d: %v vs %v", i, pair[0], pair[1])
		}
	}

	if diff := cmp.Diff(featureOrder(a.Contrasts[0].Table), featureOrder(b.Contrasts[0].Table)); diff != "" {
		t.Errorf("table order differs after permuting rows (-original +permuted):\n%s", diff)
	}
}

func TestAnalyze_MultipleContrastsShareThePrior(t *testing.T) {
	m, _ := simulate(t, 4, 150, 4)
	labels := []string{"A", "A", "C", "C", "B", "B", "C", "B"}

	a, err := newTestEngine(t).Analyze(context.Background(), m, labels, []ContrastSpec{
		{Name: "B-A", Weights: map[string]float64{"B": 1, "A": -1}},
		{Name: "C-A", Weights: map[string]float64{"C": 1, "A": -1}},
	})
	require.NoError(t, err)
	require.Len(t, a.Contrasts, 2)
	assert.Equal(t, []string{"A", "B", "C"}, a.Design.Groups)

	for i := range a.Contrasts[0].Statistics {
		x, y := a.Contrasts[0].Statistics[i], a.Contrasts[1].Statistics[i]
		assert.Equal(t, x.PosteriorVar, y.PosteriorVar)
		assert.Equal(t, x.DFTotal, y.DFTotal)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	m, labels := simulate(t, 1, 20, 2)
	e := newTestEngine(t)
	ctx := context.Background()
	ba := []ContrastSpec{{Name: "B-A", Weights: map[string]float64{"B": 1, "A": -1}}}

	_, err := e.Analyze(ctx, m, []string{"A", "A", "A", "A"}, ba)
	assert.ErrorIs(t, err, core.ErrInsufficientGroups)

	_, err = e.Analyze(ctx, m, labels, []ContrastSpec{{Name: "X-A", Weights: map[string]float64{"X": 1, "A": -1}}})
	assert.ErrorIs(t, err, core.ErrUnknownGroup)

	_, err = e.Analyze(ctx, m, labels[:3], ba)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = e.Analyze(ctx, m, labels, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Analyze(cancelled, m, labels, ba)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysis_TableWithSymbols(t *testing.T) {
	m, labels := simulate(t, 8, 30, 3)
	a, err := newTestEngine(t).Analyze(context.Background(), m, labels, []ContrastSpec{{Name: "B-A", Weights: map[string]float64{"B": 1, "A": -1}}})
	require.NoError(t, err)

	symbols := make([]string, m.Features())
	for i := 0; i < len(symbols); i += 2 {
		symbols[i] = "GENE" + itoa(i)
	}

	table, err := a.Table(0, m.FeatureIDs, symbols, TableOptions{SortBy: SortT, DropUnannotated: true, TopN: 5})
	require.NoError(t, err)
	require.Equal(t, 5, table.Len())
	for _, r := range table.Rows {
		assert.Equal(t, "GENE"+itoa(r.Index), r.Symbol)
	}

	_, err = a.Table(3, m.FeatureIDs, nil, DefaultTableOptions())
	assert.Error(t, err)
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Moderator.Tolerance = -1
	_, err := NewEngine(cfg, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
