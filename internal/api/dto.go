package api

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"godiffex/domain/expression"
	"godiffex/domain/run"
)

// Float is a float64 that encodes NaN as null and infinities as "Inf"/"-Inf",
// which JSON numbers cannot hold.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null", `"NA"`, `"NaN"`:
		*f = Float(math.NaN())
		return nil
	case `"Inf"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*f = Float(v)
	return nil
}

// AnalyzeRequest carries an in-memory matrix: Values[i][j] is feature i in
// sample j; null marks a missing value.
type AnalyzeRequest struct {
	Name       string            `json:"name,omitempty"`
	FeatureIDs []string          `json:"feature_ids"`
	SampleIDs  []string          `json:"sample_ids"`
	Values     [][]Float         `json:"values"`
	Groups     []string          `json:"groups"`
	GroupOrder string            `json:"group_order,omitempty"`
	Contrasts  []ContrastDTO     `json:"contrasts"`
	Symbols    map[string]string `json:"symbols,omitempty"`
	Options    OptionsDTO        `json:"options"`
	Persist    bool              `json:"persist,omitempty"`
}

// ContrastDTO is a named contrast expression such as "Tumor - Normal"
type ContrastDTO struct {
	Name string `json:"name,omitempty"`
	Expr string `json:"expr"`
}

// OptionsDTO overrides model and table settings
type OptionsDTO struct {
	Adjust          string  `json:"adjust,omitempty"`
	MaxIterations   *int    `json:"max_iterations,omitempty"`
	Tolerance       float64 `json:"tolerance,omitempty"`
	Proportion      float64 `json:"proportion,omitempty"`
	SortBy          string  `json:"sort_by,omitempty"`
	TopN            int     `json:"top_n,omitempty"`
	MaxAdjP         float64 `json:"max_adj_p,omitempty"`
	MinAbsEffect    float64 `json:"min_abs_effect,omitempty"`
	DropUnannotated bool    `json:"drop_unannotated,omitempty"`
}

// RowDTO is one results row
type RowDTO struct {
	FeatureID    string `json:"feature_id"`
	Index        int    `json:"index"`
	Symbol       string `json:"symbol,omitempty"`
	Effect       Float  `json:"effect_size"`
	T            Float  `json:"moderated_t"`
	PValue       Float  `json:"raw_p"`
	AdjPValue    Float  `json:"adjusted_p"`
	AveExpr      Float  `json:"ave_expr"`
	StdErr       Float  `json:"std_err"`
	PosteriorVar Float  `json:"posterior_var"`
	DFTotal      Float  `json:"df_total"`
	B            Float  `json:"b_stat"`
	Status       string `json:"status"`
}

// TableDTO is the results table of one contrast
type TableDTO struct {
	Contrast string   `json:"contrast"`
	Rows     []RowDTO `json:"rows"`
}

// AnalyzeResponse is returned by POST /api/v1/analyses
type AnalyzeResponse struct {
	RunID     string        `json:"run_id"`
	Persisted bool          `json:"persisted"`
	Manifest  *run.Manifest `json:"manifest"`
	Tables    []TableDTO    `json:"tables"`
}

// RunSummaryDTO is one entry of GET /api/v1/runs
type RunSummaryDTO struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Features  int       `json:"features"`
	Samples   int       `json:"samples"`
	Contrasts []string  `json:"contrasts"`
	Shrinkage string    `json:"shrinkage"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newTableDTO(t expression.ResultsTable) TableDTO {
	out := TableDTO{Contrast: t.Contrast, Rows: make([]RowDTO, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = RowDTO{
			FeatureID:    r.FeatureID,
			Index:        r.Index,
			Symbol:       r.Symbol,
			Effect:       Float(r.Effect),
			T:            Float(r.T),
			PValue:       Float(r.PValue),
			AdjPValue:    Float(r.AdjPValue),
			AveExpr:      Float(r.AveExpr),
			StdErr:       Float(r.StdErr),
			PosteriorVar: Float(r.PosteriorVar),
			DFTotal:      Float(r.DFTotal),
			B:            Float(r.B),
			Status:       r.Status.String(),
		}
	}
	return out
}

func newRunSummary(m *run.Manifest) RunSummaryDTO {
	return RunSummaryDTO{
		RunID:     m.RunID.String(),
		Name:      m.Name,
		Features:  m.Features,
		Samples:   m.Samples,
		Contrasts: m.Fingerprint.Parameters.Contrasts,
		Shrinkage: m.Shrinkage,
		CreatedAt: m.CreatedAt,
	}
}

// matrix converts the request body into an expression matrix
func (r *AnalyzeRequest) matrix() (*expression.Matrix, error) {
	rows := make([][]float64, len(r.Values))
	for i, row := range r.Values {
		rows[i] = make([]float64, len(row))
		for j, v := range row {
			rows[i][j] = float64(v)
		}
	}
	return expression.NewMatrix(r.FeatureIDs, r.SampleIDs, rows)
}
