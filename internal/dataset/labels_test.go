package dataset

import (
	"math"
	"testing"

	"godiffex/domain/core"
	"godiffex/domain/expression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignByRules(t *testing.T) {
	sources := []string{
		"Breast TUMOR tissue",
		"normal breast tissue",
		"cell line",
		"adjacent normal to tumor",
	}
	rules := []Rule{{Pattern: "tumor", Label: "Tumor"}, {Pattern: "Normal", Label: "Normal"}}

	got := AssignByRules(sources, rules)
	assert.Equal(t, []string{"Tumor", "Normal", "", "Tumor"}, got)
}

func TestAlignLabels(t *testing.T) {
	sheet := &expression.SampleSheet{
		IDs:     []string{"GSM2", "GSM1", "GSM3"},
		Columns: map[string][]string{"group": {"B", "A", "A"}},
	}
	group, err := sheet.Column("group")
	require.NoError(t, err)

	labels, err := AlignLabels([]string{"GSM1", "GSM2", "GSM9"}, sheet, group)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", ""}, labels)

	_, err = sheet.Column("missing")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	dup := &expression.SampleSheet{IDs: []string{"x", "x"}}
	_, err = AlignLabels([]string{"x"}, dup, []string{"A", "B"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestKeepLabeled(t *testing.T) {
	m, err := expression.NewMatrix(
		[]string{"p1", "p2"},
		[]string{"s1", "s2", "s3", "s4"},
		[][]float64{{1, 2, 3, 4}, {5, math.NaN(), 7, 8}},
	)
	require.NoError(t, err)

	sel, err := KeepLabeled(m, []string{"Tumor", "", "Normal", "Tumor"})
	require.NoError(t, err)

	assert.Equal(t, []string{"s2"}, sel.Dropped)
	assert.Equal(t, []string{"Tumor", "Normal", "Tumor"}, sel.Labels)
	assert.Equal(t, map[string]int{"Tumor": 2, "Normal": 1}, sel.Counts)
	assert.Equal(t, []string{"s1", "s3", "s4"}, sel.Matrix.SampleIDs)
	assert.Equal(t, []float64{1, 3, 4, 5, 7, 8}, sel.Matrix.Values)

	all, err := KeepLabeled(m, []string{"A", "B", "A", "B"})
	require.NoError(t, err)
	assert.Same(t, m, all.Matrix)

	_, err = KeepLabeled(m, []string{"A"})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}
