package expression

import (
	"fmt"
	"math"
)

// Matrix is a dense feature-by-sample intensity matrix.
//
// Values are stored row-major: the intensity of feature i in sample j lives at
// Values[i*len(SampleIDs)+j]. Non-finite entries mark a sample as unusable for
// that feature only.
type Matrix struct {
	FeatureIDs []string
	SampleIDs  []string
	Values     []float64
}

// NewMatrix copies rows into a row-major Matrix, checking that every row has one
// value per sample.
func NewMatrix(featureIDs, sampleIDs []string, rows [][]float64) (*Matrix, error) {
	if len(featureIDs) != len(rows) {
		return nil, fmt.Errorf("feature id count %d does not match row count %d", len(featureIDs), len(rows))
	}

	s := len(sampleIDs)
	values := make([]float64, 0, len(rows)*s)
	for i, row := range rows {
		if len(row) != s {
			return nil, fmt.Errorf("row %d (%s) has %d values, expected %d", i, featureIDs[i], len(row), s)
		}
		values = append(values, row...)
	}

	return &Matrix{
		FeatureIDs: append([]string(nil), featureIDs...),
		SampleIDs:  append([]string(nil), sampleIDs...),
		Values:     values,
	}, nil
}

// Features returns the number of rows
func (m *Matrix) Features() int { return len(m.FeatureIDs) }

// Samples returns the number of columns
func (m *Matrix) Samples() int { return len(m.SampleIDs) }

// Row returns a read-only view of feature i.
func (m *Matrix) Row(i int) []float64 {
	s := m.Samples()
	return m.Values[i*s : (i+1)*s : (i+1)*s]
}

// At returns the intensity of feature i in sample j
func (m *Matrix) At(i, j int) float64 {
	return m.Values[i*m.Samples()+j]
}

// Validate checks the shape invariants of the matrix.
func (m *Matrix) Validate() error {
	if m == nil {
		return fmt.Errorf("expression matrix is nil")
	}
	if len(m.Values) != m.Features()*m.Samples() {
		return fmt.Errorf("expression matrix has %d values, expected %d×%d", len(m.Values), m.Features(), m.Samples())
	}
	return nil
}

// SelectSamples returns a new matrix restricted to the given sample columns, in
// the given order.
func (m *Matrix) SelectSamples(columns []int) *Matrix {
	out := &Matrix{
		FeatureIDs: append([]string(nil), m.FeatureIDs...),
		SampleIDs:  make([]string, len(columns)),
		Values:     make([]float64, 0, m.Features()*len(columns)),
	}
	for k, j := range columns {
		out.SampleIDs[k] = m.SampleIDs[j]
	}
	for i := 0; i < m.Features(); i++ {
		row := m.Row(i)
		for _, j := range columns {
			out.Values = append(out.Values, row[j])
		}
	}
	return out
}

// FitStatus records whether a feature could be fitted
type FitStatus int

const (
	FitOK FitStatus = iota
	FitUnfit
)

func (s FitStatus) String() string {
	switch s {
	case FitOK:
		return "ok"
	case FitUnfit:
		return "unfit"
	default:
		return fmt.Sprintf("FitStatus(%d)", int(s))
	}
}

// ModeratedStatistic holds the per-feature output of the pipeline for one contrast.
// Unfit features carry NaN in every numeric field.
type ModeratedStatistic struct {
	Effect       float64   `json:"effect_size"`
	StdErr       float64   `json:"std_err"`
	RawVar       float64   `json:"raw_var"`
	PosteriorVar float64   `json:"posterior_var"`
	T            float64   `json:"moderated_t"`
	DFTotal      float64   `json:"df_total"`
	PValue       float64   `json:"raw_p"`
	AdjPValue    float64   `json:"adjusted_p"`
	B            float64   `json:"b_stat"`
	Status       FitStatus `json:"-"`
}

// UnfitStatistic returns the NaN-filled statistic used for unfit features.
func UnfitStatistic() ModeratedStatistic {
	nan := math.NaN()
	return ModeratedStatistic{
		Effect:       nan,
		StdErr:       nan,
		RawVar:       nan,
		PosteriorVar: nan,
		T:            nan,
		DFTotal:      nan,
		PValue:       nan,
		AdjPValue:    nan,
		B:            nan,
		Status:       FitUnfit,
	}
}

// ResultRow is one line of the results table
type ResultRow struct {
	FeatureID string  `json:"feature_id"`
	Index     int     `json:"index"`
	Symbol    string  `json:"symbol,omitempty"`
	AveExpr   float64 `json:"ave_expr"`
	ModeratedStatistic
}

// ResultsTable is the ordered output handed to annotation, enrichment and
// persistence collaborators.
type ResultsTable struct {
	Contrast string      `json:"contrast"`
	Rows     []ResultRow `json:"rows"`
}

// Len returns the number of rows
func (t *ResultsTable) Len() int { return len(t.Rows) }
