package sqlstore

import (
	"context"
	"math"
	"testing"
	"time"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/domain/run"
	"godiffex/internal/errors"
	"godiffex/internal/migration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *ResultsRepository {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.NewRunner(nil).Run(ctx, db))
	return NewResultsRepository(db, nil)
}

func testManifest(shrinkage string, dfPrior, varPrior float64) *run.Manifest {
	fp := run.NewFingerprint(
		core.ComputeInputHash([]string{"p1", "p2"}, []string{"s1", "s2"}, []string{"A", "B"}, []float64{1, 2, 3, 4}),
		run.Parameters{DesignOrder: "lexicographic", AdjustMethod: "BH", MaxIterations: 50, Tolerance: 1e-8, Proportion: 0.01, Contrasts: []string{"B-A"}},
		run.CodeVersion,
	)
	m := run.NewManifest("test", fp)
	m.Features = 3
	m.Samples = 4
	m.Groups = []string{"A", "B"}
	m.GroupSizes = []int{2, 2}
	m.Dropped = []string{"s5"}
	m.Unfit = 1
	m.DFPrior = dfPrior
	m.VarPrior = varPrior
	m.Shrinkage = shrinkage
	m.Elapsed = 1500 * time.Millisecond
	m.CreatedAt = m.CreatedAt.Truncate(time.Second)
	return m
}

func testTable() expression.ResultsTable {
	fitted := func(effect, p, adj float64) expression.ModeratedStatistic {
		return expression.ModeratedStatistic{
			Effect: effect, StdErr: 0.5, RawVar: 0.2, PosteriorVar: 0.25,
			T: effect / 0.5, DFTotal: 6.5, PValue: p, AdjPValue: adj, B: 1.25,
			Status: expression.FitOK,
		}
	}
	return expression.ResultsTable{
		Contrast: "B-A",
		Rows: []expression.ResultRow{
			{FeatureID: "p2", Index: 1, Symbol: "TP53", AveExpr: 5, ModeratedStatistic: fitted(3, 0.001, 0.002)},
			{FeatureID: "p1", Index: 0, AveExpr: 4, ModeratedStatistic: fitted(-0.5, 0.3, 0.3)},
			{FeatureID: "p3", Index: 2, AveExpr: math.NaN(), ModeratedStatistic: expression.UnfitStatistic()},
		},
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestResultsRepository_SaveAndGetRun(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	m := testManifest("finite", 4.5, 0.05)
	require.NoError(t, repo.SaveRun(ctx, m, []expression.ResultsTable{testTable()}))

	got, err := repo.GetRun(ctx, m.RunID)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, 3, got.Features)
	assert.Equal(t, []string{"A", "B"}, got.Groups)
	assert.Equal(t, []int{2, 2}, got.GroupSizes)
	assert.Equal(t, []string{"s5"}, got.Dropped)
	assert.Equal(t, 1, got.Unfit)
	assert.Equal(t, 4.5, got.DFPrior)
	assert.Equal(t, 0.05, got.VarPrior)
	assert.Equal(t, m.Fingerprint, got.Fingerprint)
	assert.Equal(t, 1500*time.Millisecond, got.Elapsed)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
}

func TestResultsRepository_NonFinitePrior(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	infinite := testManifest("infinite", math.Inf(1), 0.3)
	require.NoError(t, repo.SaveRun(ctx, infinite, nil))
	got, err := repo.GetRun(ctx, infinite.RunID)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.DFPrior, 1))
	assert.Equal(t, 0.3, got.VarPrior)

	unshrunk := testManifest("unshrunk", 0, math.NaN())
	require.NoError(t, repo.SaveRun(ctx, unshrunk, nil))
	got, err = repo.GetRun(ctx, unshrunk.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.DFPrior)
	assert.True(t, math.IsNaN(got.VarPrior))
}

func TestResultsRepository_GetResults(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	m := testManifest("finite", 4.5, 0.05)
	require.NoError(t, repo.SaveRun(ctx, m, []expression.ResultsTable{testTable()}))

	table, err := repo.GetResults(ctx, m.RunID, "B-A", 0)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	first := table.Rows[0]
	assert.Equal(t, "p2", first.FeatureID)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "TP53", first.Symbol)
	assert.Equal(t, 3.0, first.Effect)
	assert.Equal(t, 6.0, first.T)
	assert.Equal(t, 0.002, first.AdjPValue)
	assert.Equal(t, 6.5, first.DFTotal)
	assert.Equal(t, expression.FitOK, first.Status)

	assert.Equal(t, "", table.Rows[1].Symbol)

	unfit := table.Rows[2]
	assert.Equal(t, "p3", unfit.FeatureID)
	assert.Equal(t, expression.FitUnfit, unfit.Status)
	assert.True(t, math.IsNaN(unfit.Effect))
	assert.True(t, math.IsNaN(unfit.AdjPValue))
	assert.True(t, math.IsNaN(unfit.AveExpr))

	limited, err := repo.GetResults(ctx, m.RunID, "B-A", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.Len())

	_, err = repo.GetResults(ctx, m.RunID, "missing", 0)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = repo.GetResults(ctx, core.NewRunID(), "B-A", 0)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestResultsRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	older := testManifest("finite", 3, 0.1)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := testManifest("finite", 5, 0.2)
	require.NoError(t, repo.SaveRun(ctx, older, []expression.ResultsTable{testTable()}))
	require.NoError(t, repo.SaveRun(ctx, newer, nil))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)
	assert.Equal(t, older.RunID, runs[1].RunID)

	require.NoError(t, repo.DeleteRun(ctx, older.RunID))
	_, err = repo.GetRun(ctx, older.RunID)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	_, err = repo.GetResults(ctx, older.RunID, "B-A", 0)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	err = repo.DeleteRun(ctx, older.RunID)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestResultsRepository_RejectsInvalidManifest(t *testing.T) {
	repo := newTestRepository(t)
	m := testManifest("finite", 3, 0.1)
	m.GroupSizes = []int{2}

	err := repo.SaveRun(context.Background(), m, nil)
	require.Error(t, err)

	runs, err := repo.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
