package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"godiffex/internal/analysis/diffexpr"
	"godiffex/internal/errors"

	"gopkg.in/yaml.v3"
)

// AnalysisFile describes one analysis run: where the data lives, how samples
// are grouped, which contrasts to test and how to write the table.
type AnalysisFile struct {
	Name       string           `yaml:"name"`
	Input      InputSpec        `yaml:"input"`
	Annotation *AnnotationSpec  `yaml:"annotation,omitempty"`
	Groups     GroupSpec        `yaml:"groups"`
	Contrasts  []ContrastEntry  `yaml:"contrasts"`
	Model      ModelSpec        `yaml:"model"`
	Output     OutputSpec       `yaml:"output"`
	Database   *DatabaseOptions `yaml:"database,omitempty"`

	dir string
}

// InputSpec locates the expression matrix and the sample sheet
type InputSpec struct {
	Matrix         string `yaml:"matrix"`
	Sheet          string `yaml:"sheet,omitempty"`
	IDColumn       string `yaml:"id_column,omitempty"`
	Samples        string `yaml:"samples,omitempty"`
	SampleIDColumn string `yaml:"sample_id_column,omitempty"`
}

// AnnotationSpec locates a feature → symbol table
type AnnotationSpec struct {
	File         string `yaml:"file"`
	IDColumn     string `yaml:"id_column"`
	SymbolColumn string `yaml:"symbol_column"`
}

// GroupSpec assigns samples to groups, either from an explicit column of the
// sample sheet or by matching patterns against one.
type GroupSpec struct {
	Column string    `yaml:"column,omitempty"`
	Rules  *RuleSpec `yaml:"rules,omitempty"`
	Labels []string  `yaml:"labels,omitempty"`
	Order  string    `yaml:"order,omitempty"`
}

// RuleSpec matches case-insensitive substrings of Source
type RuleSpec struct {
	Source string      `yaml:"source"`
	Match  []RuleEntry `yaml:"match"`
}

// RuleEntry maps a pattern to a group label
type RuleEntry struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label"`
}

// ContrastEntry is a named contrast expression such as "Tumor - Normal"
type ContrastEntry struct {
	Name string `yaml:"name,omitempty"`
	Expr string `yaml:"expr"`
}

// ModelSpec overrides engine defaults; zero values keep the environment's.
type ModelSpec struct {
	Adjust        string  `yaml:"adjust,omitempty"`
	MaxIterations *int    `yaml:"max_iterations,omitempty"`
	Tolerance     float64 `yaml:"tolerance,omitempty"`
	Proportion    float64 `yaml:"proportion,omitempty"`
	Workers       int     `yaml:"workers,omitempty"`
}

// OutputSpec controls the results table
type OutputSpec struct {
	Path            string  `yaml:"path,omitempty"`
	SortBy          string  `yaml:"sort_by,omitempty"`
	TopN            int     `yaml:"top_n,omitempty"`
	MaxAdjP         float64 `yaml:"max_adj_p,omitempty"`
	MinAbsEffect    float64 `yaml:"min_abs_effect,omitempty"`
	DropUnannotated bool    `yaml:"drop_unannotated,omitempty"`
	Extended        bool    `yaml:"extended,omitempty"`
}

// DatabaseOptions enables persisting the run to the SQL sink
type DatabaseOptions struct {
	Persist bool `yaml:"persist"`
}

// LoadAnalysisFile reads and validates an analysis definition. Relative paths
// inside it are resolved against the file's directory.
func LoadAnalysisFile(path string) (*AnalysisFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read analysis file %s", path)
	}

	af, err := ParseAnalysis(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid analysis file %s", path)
	}
	af.dir = filepath.Dir(path)
	return af, nil
}

// ParseAnalysis decodes an analysis definition from YAML. Unknown keys are
// rejected.
func ParseAnalysis(data []byte) (*AnalysisFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var af AnalysisFile
	if err := dec.Decode(&af); err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("yaml: %v", err))
	}
	if err := af.Validate(); err != nil {
		return nil, err
	}
	return &af, nil
}

// Validate checks that the definition is complete
func (a *AnalysisFile) Validate() error {
	if strings.TrimSpace(a.Input.Matrix) == "" {
		return errors.ConfigInvalid("input.matrix is required")
	}
	if len(a.Contrasts) == 0 {
		return errors.ConfigInvalid("at least one contrast is required")
	}
	for i, c := range a.Contrasts {
		if strings.TrimSpace(c.Expr) == "" {
			return errors.ConfigInvalid(fmt.Sprintf("contrasts[%d].expr is required", i))
		}
	}

	sources := 0
	if a.Groups.Column != "" {
		sources++
	}
	if a.Groups.Rules != nil {
		sources++
		if a.Groups.Rules.Source == "" || len(a.Groups.Rules.Match) == 0 {
			return errors.ConfigInvalid("groups.rules needs a source column and at least one match")
		}
		for i, r := range a.Groups.Rules.Match {
			if r.Pattern == "" || r.Label == "" {
				return errors.ConfigInvalid(fmt.Sprintf("groups.rules.match[%d] needs pattern and label", i))
			}
		}
	}
	if len(a.Groups.Labels) > 0 {
		sources++
	}
	if sources != 1 {
		return errors.ConfigInvalid("groups must set exactly one of column, rules or labels")
	}
	if _, err := diffexpr.ParseColumnOrder(a.Groups.Order); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("groups.order %q is not lexicographic or first_appearance", a.Groups.Order))
	}

	if a.Annotation != nil && (a.Annotation.File == "" || a.Annotation.SymbolColumn == "") {
		return errors.ConfigInvalid("annotation needs file and symbol_column")
	}
	if a.Output.DropUnannotated && a.Annotation == nil {
		return errors.ConfigInvalid("output.drop_unannotated requires an annotation section")
	}
	if a.Output.TopN < 0 || a.Output.MaxAdjP < 0 || a.Output.MinAbsEffect < 0 {
		return errors.ConfigInvalid("output filters must be non-negative")
	}
	return nil
}

// Resolve returns p relative to the analysis file's directory
func (a *AnalysisFile) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || a.dir == "" {
		return p
	}
	return filepath.Join(a.dir, p)
}
