package run

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"godiffex/domain/core"
)

// CodeVersion is recorded on every manifest
const CodeVersion = "1.0.0"

// Parameters are the analysis settings that, together with the input, fully
// determine a run's output.
type Parameters struct {
	DesignOrder   string   `json:"design_order"`
	AdjustMethod  string   `json:"adjust_method"`
	MaxIterations int      `json:"max_iterations"`
	Tolerance     float64  `json:"tolerance"`
	Proportion    float64  `json:"proportion"`
	Contrasts     []string `json:"contrasts"`
}

// Fingerprint ensures deterministic replay: two runs with the same
// fingerprint produce identical tables.
type Fingerprint struct {
	InputHash   core.InputHash `json:"input_hash"`
	Parameters  Parameters     `json:"parameters"`
	CodeVersion string         `json:"code_version"`
	Fingerprint core.Hash      `json:"fingerprint"` // Hash of all above
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(input core.InputHash, params Parameters, codeVersion string) Fingerprint {
	return Fingerprint{
		InputHash:   input,
		Parameters:  params,
		CodeVersion: codeVersion,
		Fingerprint: computeFingerprint(input, params, codeVersion),
	}
}

func computeFingerprint(input core.InputHash, p Parameters, codeVersion string) core.Hash {
	data := fmt.Sprintf("input:%s|order:%s|adjust:%s|maxit:%d|tol:%g|prop:%g|contrasts:%s|code:%s",
		input, p.DesignOrder, p.AdjustMethod, p.MaxIterations, p.Tolerance, p.Proportion,
		strings.Join(p.Contrasts, ";"), codeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// Manifest describes one completed analysis run
type Manifest struct {
	RunID       core.RunID    `json:"run_id" db:"run_id"`
	Name        string        `json:"name" db:"name"`
	Features    int           `json:"features" db:"features"`
	Samples     int           `json:"samples" db:"samples"`
	Groups      []string      `json:"groups" db:"-"`
	GroupSizes  []int         `json:"group_sizes" db:"-"`
	Dropped     []string      `json:"dropped_samples,omitempty" db:"-"`
	Unfit       int           `json:"unfit_features" db:"unfit"`
	DFPrior     float64       `json:"df_prior" db:"df_prior"`
	VarPrior    float64       `json:"var_prior" db:"var_prior"`
	Shrinkage   string        `json:"shrinkage" db:"shrinkage"`
	Fingerprint Fingerprint   `json:"fingerprint" db:"-"`
	Elapsed     time.Duration `json:"elapsed_ns" db:"-"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// NewManifest creates a manifest with a fresh run id
func NewManifest(name string, fp Fingerprint) *Manifest {
	return &Manifest{
		RunID:       core.NewRunID(),
		Name:        name,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewInvalidInputError("run manifest: run_id cannot be empty")
	}
	if m.Fingerprint.InputHash == "" {
		return core.NewInvalidInputError("run manifest: input_hash cannot be empty")
	}
	if len(m.Fingerprint.Parameters.Contrasts) == 0 {
		return core.NewInvalidInputError("run manifest: no contrasts recorded")
	}
	if len(m.Groups) != len(m.GroupSizes) {
		return core.NewInvalidInputError("run manifest: groups and group sizes differ in length")
	}
	return nil
}

// MarshalJSON writes an infinite prior df as the string "Inf" and an unset
// prior variance as null, neither of which JSON numbers can hold.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	return json.Marshal(struct {
		plain
		DFPrior  interface{} `json:"df_prior"`
		VarPrior interface{} `json:"var_prior"`
	}{
		plain:    plain(m),
		DFPrior:  jsonNumber(m.DFPrior),
		VarPrior: jsonNumber(m.VarPrior),
	})
}

func jsonNumber(v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return nil
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return v
}
