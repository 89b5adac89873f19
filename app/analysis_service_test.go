package app

import (
	"context"
	"math"
	"testing"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/domain/run"
	"godiffex/internal/config"
	"godiffex/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMatrixSource struct {
	mock.Mock
}

func (m *MockMatrixSource) LoadMatrix(ctx context.Context) (*expression.Matrix, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*expression.Matrix), args.Error(1)
}

func (m *MockMatrixSource) LoadSamples(ctx context.Context) (*expression.SampleSheet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*expression.SampleSheet), args.Error(1)
}

type MockAnnotator struct {
	mock.Mock
}

func (m *MockAnnotator) Annotate(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]string), args.Error(1)
}

type MockResultsRepository struct {
	mock.Mock
}

func (m *MockResultsRepository) SaveRun(ctx context.Context, manifest *run.Manifest, tables []expression.ResultsTable) error {
	args := m.Called(ctx, manifest, tables)
	return args.Error(0)
}

func (m *MockResultsRepository) GetRun(ctx context.Context, id core.RunID) (*run.Manifest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*run.Manifest), args.Error(1)
}

func (m *MockResultsRepository) ListRuns(ctx context.Context, limit int) ([]*run.Manifest, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*run.Manifest), args.Error(1)
}

func (m *MockResultsRepository) GetResults(ctx context.Context, id core.RunID, contrast string, limit int) (*expression.ResultsTable, error) {
	args := m.Called(ctx, id, contrast, limit)
	return args.Get(0).(*expression.ResultsTable), args.Error(1)
}

func (m *MockResultsRepository) DeleteRun(ctx context.Context, id core.RunID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func testDefaults() config.EngineConfig {
	return config.EngineConfig{
		MaxIterations: 50,
		Tolerance:     1e-8,
		Proportion:    0.01,
		AdjustMethod:  "BH",
		DesignOrder:   "lexicographic",
	}
}

func testMatrix(t *testing.T, samples []string, extra ...float64) *expression.Matrix {
	t.Helper()
	rows := [][]float64{
		{1, 2, 3, 11, 12, 13},
		{0, 10, 20, 0, 10, 20},
		{2, 2.1, 2.2, 3, 3.1, 3.2},
		{1, 1.5, 2, 8, 9, 7},
	}
	for i := range rows {
		if len(extra) > 0 {
			rows[i] = append(rows[i], extra[i])
		}
	}
	m, err := expression.NewMatrix([]string{"f1", "f2", "f3", "f4"}, samples, rows)
	require.NoError(t, err)
	return m
}

func TestAnalysisService_ExplicitLabels(t *testing.T) {
	ctx := context.Background()
	m := testMatrix(t, []string{"s1", "s2", "s3", "s4", "s5", "s6"})

	annotator := new(MockAnnotator)
	annotator.On("Annotate", mock.Anything, m.FeatureIDs).Return([]string{"GENE1", "", "GENE3", "GENE4"}, nil)
	repo := new(MockResultsRepository)
	repo.On("SaveRun", mock.Anything, mock.AnythingOfType("*run.Manifest"), mock.Anything).Return(nil)

	svc := NewAnalysisService(testDefaults(), repo, nil)
	report, err := svc.Run(ctx, AnalysisRequest{
		Name:      "explicit",
		Source:    MemorySource{Matrix: m},
		Annotator: annotator,
		Groups:    config.GroupSpec{Labels: []string{"A", "A", "A", "B", "B", "B"}},
		Contrasts: []config.ContrastEntry{{Expr: "B - A"}},
		Persist:   true,
	})
	require.NoError(t, err)

	annotator.AssertExpectations(t)
	repo.AssertExpectations(t)
	assert.True(t, report.Persisted)
	assert.True(t, report.Annotated)

	require.Len(t, report.Tables, 1)
	table := report.Tables[0]
	assert.Equal(t, "B - A", table.Contrast)
	require.Equal(t, 4, table.Len())
	for i := 1; i < table.Len(); i++ {
		assert.LessOrEqual(t, table.Rows[i-1].AdjPValue, table.Rows[i].AdjPValue)
	}

	byID := make(map[string]expression.ResultRow)
	for _, r := range table.Rows {
		byID[r.FeatureID] = r
	}
	assert.InDelta(t, 10.0, byID["f1"].Effect, 1e-12)
	assert.InDelta(t, 0.0, byID["f2"].Effect, 1e-12)
	assert.Equal(t, "GENE1", byID["f1"].Symbol)
	assert.Equal(t, "", byID["f2"].Symbol)
	assert.InDelta(t, 7.0, byID["f1"].AveExpr, 1e-12)

	manifest := report.Manifest
	require.NoError(t, manifest.Validate())
	assert.Equal(t, "explicit", manifest.Name)
	assert.Equal(t, 4, manifest.Features)
	assert.Equal(t, 6, manifest.Samples)
	assert.Equal(t, []string{"A", "B"}, manifest.Groups)
	assert.Equal(t, []int{3, 3}, manifest.GroupSizes)
	assert.Equal(t, []string{"B - A"}, manifest.Fingerprint.Parameters.Contrasts)
	assert.Equal(t, "BH", manifest.Fingerprint.Parameters.AdjustMethod)
	assert.False(t, manifest.Fingerprint.InputHash == "")
}

func TestAnalysisService_RuleLabelsDropUnmatched(t *testing.T) {
	ctx := context.Background()
	samples := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"}
	m := testMatrix(t, samples, 0, 0, 0, 0)

	source := new(MockMatrixSource)
	source.On("LoadMatrix", mock.Anything).Return(m, nil)
	source.On("LoadSamples", mock.Anything).Return(&expression.SampleSheet{
		// sheet order differs from the matrix
		IDs: []string{"s7", "s1", "s2", "s3", "s4", "s5", "s6"},
		Columns: map[string][]string{
			"title": {"reference pool", "Normal 1", "normal 2", "NORMAL 3", "tumor 1", "Tumor 2", "tumor 3"},
		},
	}, nil)

	svc := NewAnalysisService(testDefaults(), nil, nil)
	report, err := svc.Run(ctx, AnalysisRequest{
		Source: source,
		Groups: config.GroupSpec{Rules: &config.RuleSpec{
			Source: "title",
			Match:  []config.RuleEntry{{Pattern: "tumor", Label: "Tumor"}, {Pattern: "normal", Label: "Normal"}},
		}},
		Contrasts: []config.ContrastEntry{{Name: "TvN", Expr: "Tumor - Normal"}},
		Output:    config.OutputSpec{MaxAdjP: 0.999999},
	})
	require.NoError(t, err)
	source.AssertExpectations(t)

	assert.False(t, report.Persisted)
	assert.False(t, report.Annotated)
	assert.Equal(t, []string{"s7"}, report.Manifest.Dropped)
	assert.Equal(t, 6, report.Manifest.Samples)
	assert.Equal(t, []string{"Normal", "Tumor"}, report.Manifest.Groups)
	assert.Equal(t, "TvN", report.Manifest.Name)

	table := report.Tables[0]
	assert.Equal(t, "TvN", table.Contrast)
	for _, r := range table.Rows {
		assert.Less(t, r.AdjPValue, 0.999999)
		if r.FeatureID == "f1" {
			assert.InDelta(t, 10.0, r.Effect, 1e-12)
		}
	}
}

func TestAnalysisService_SheetColumnLabels(t *testing.T) {
	samples := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	m := testMatrix(t, samples)
	sheet := &expression.SampleSheet{
		IDs:     samples,
		Columns: map[string][]string{"group": {"ctl", "ctl", "ctl", "trt", "trt", "trt"}},
	}

	svc := NewAnalysisService(testDefaults(), nil, nil)
	report, err := svc.Run(context.Background(), AnalysisRequest{
		Source:    MemorySource{Matrix: m, Sheet: sheet},
		Groups:    config.GroupSpec{Column: "group", Order: "first_appearance"},
		Contrasts: []config.ContrastEntry{{Expr: "trt - ctl"}, {Expr: "ctl - trt"}},
		Output:    config.OutputSpec{SortBy: "none"},
	})
	require.NoError(t, err)
	require.Len(t, report.Tables, 2)
	assert.Equal(t, "first_appearance", report.Manifest.Fingerprint.Parameters.DesignOrder)

	forward, backward := report.Tables[0], report.Tables[1]
	for i := range forward.Rows {
		assert.Equal(t, m.FeatureIDs[i], forward.Rows[i].FeatureID)
		assert.InDelta(t, forward.Rows[i].Effect, -backward.Rows[i].Effect, 1e-12)
		assert.InDelta(t, forward.Rows[i].PValue, backward.Rows[i].PValue, 1e-12)
	}
}

func TestAnalysisService_ModelOverrides(t *testing.T) {
	m := testMatrix(t, []string{"s1", "s2", "s3", "s4", "s5", "s6"})
	zero := 0

	svc := NewAnalysisService(testDefaults(), nil, nil)
	report, err := svc.Run(context.Background(), AnalysisRequest{
		Source:    MemorySource{Matrix: m},
		Groups:    config.GroupSpec{Labels: []string{"A", "A", "A", "B", "B", "B"}},
		Contrasts: []config.ContrastEntry{{Expr: "B-A"}},
		Model:     config.ModelSpec{MaxIterations: &zero, Adjust: "bonferroni"},
	})
	require.NoError(t, err)

	assert.Equal(t, "unshrunk", report.Manifest.Shrinkage)
	assert.True(t, math.IsNaN(report.Manifest.VarPrior))
	assert.Equal(t, 0, report.Manifest.Fingerprint.Parameters.MaxIterations)
	for _, r := range report.Tables[0].Rows {
		assert.InDelta(t, math.Min(1, 4*r.PValue), r.AdjPValue, 1e-15)
	}
}

func TestAnalysisService_Errors(t *testing.T) {
	ctx := context.Background()
	m := testMatrix(t, []string{"s1", "s2", "s3", "s4", "s5", "s6"})
	labels := config.GroupSpec{Labels: []string{"A", "A", "A", "B", "B", "B"}}
	contrast := []config.ContrastEntry{{Expr: "B - A"}}
	svc := NewAnalysisService(testDefaults(), nil, nil)

	tests := []struct {
		name string
		req  AnalysisRequest
		code string
	}{
		{"no source", AnalysisRequest{Groups: labels, Contrasts: contrast}, errors.CodeInvalidInput},
		{"persist without database", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: labels, Contrasts: contrast, Persist: true}, errors.CodeConfigInvalid},
		{"unknown group", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: labels, Contrasts: []config.ContrastEntry{{Expr: "C - A"}}}, errors.CodeUnknownGroup},
		{"single group", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: config.GroupSpec{Labels: []string{"A", "A", "A", "A", "A", "A"}}, Contrasts: contrast}, errors.CodeInsufficientGroups},
		{"label count", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: config.GroupSpec{Labels: []string{"A", "B"}}, Contrasts: contrast}, errors.CodeInvalidInput},
		{"duplicate contrast", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: labels, Contrasts: []config.ContrastEntry{{Expr: "B - A"}, {Expr: "B - A"}}}, errors.CodeInvalidInput},
		{"bad adjust method", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: labels, Contrasts: contrast, Model: config.ModelSpec{Adjust: "magic"}}, errors.CodeInvalidInput},
		{"no sample sheet", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: config.GroupSpec{Column: "group"}, Contrasts: contrast}, errors.CodeInvalidInput},
		{"drop unannotated without annotator", AnalysisRequest{Source: MemorySource{Matrix: m}, Groups: labels, Contrasts: contrast, Output: config.OutputSpec{DropUnannotated: true}}, errors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestRequestFromFile(t *testing.T) {
	af, err := config.ParseAnalysis([]byte(`
name: demo
input:
  matrix: m.csv
groups:
  labels: [A, A, B, B]
contrasts:
  - expr: B - A
database:
  persist: true
`))
	require.NoError(t, err)

	src := MemorySource{}
	req := RequestFromFile(af, src, nil)
	assert.Equal(t, "demo", req.Name)
	assert.True(t, req.Persist)
	assert.Equal(t, []string{"A", "A", "B", "B"}, req.Groups.Labels)
	assert.Nil(t, req.Annotator)
}
