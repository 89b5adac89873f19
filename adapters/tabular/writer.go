// Package tabular writes results tables as delimited text.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"godiffex/domain/expression"
)

// Base columns, always written in this order
var baseColumns = []string{"feature_id", "effect_size", "moderated_t", "raw_p", "adjusted_p"}

// Extended columns follow the base columns (and symbol) when requested
var extendedColumns = []string{"ave_expr", "std_err", "posterior_var", "df_total", "b_stat"}

// MissingValue is written for NaN cells
const MissingValue = "NA"

// Options control the layout of the written table
type Options struct {
	// Delimiter defaults to ',' (or '\t' for .tsv/.txt paths in WriteFile).
	Delimiter rune
	// Symbol appends the symbol column after the base columns.
	Symbol bool
	// Extended appends ave_expr, std_err, posterior_var, df_total and b_stat.
	Extended bool
}

// Columns returns the header row for opts
func Columns(opts Options) []string {
	cols := append([]string(nil), baseColumns...)
	if opts.Symbol {
		cols = append(cols, "symbol")
	}
	if opts.Extended {
		cols = append(cols, extendedColumns...)
	}
	return cols
}

// Write writes table to w in row order
func Write(w io.Writer, table expression.ResultsTable, opts Options) error {
	cw := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		cw.Comma = opts.Delimiter
	}

	if err := cw.Write(Columns(opts)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, 0, len(baseColumns)+1+len(extendedColumns))
	for _, r := range table.Rows {
		record = append(record[:0],
			r.FeatureID,
			formatFloat(r.Effect),
			formatFloat(r.T),
			formatFloat(r.PValue),
			formatFloat(r.AdjPValue),
		)
		if opts.Symbol {
			record = append(record, r.Symbol)
		}
		if opts.Extended {
			record = append(record,
				formatFloat(r.AveExpr),
				formatFloat(r.StdErr),
				formatFloat(r.PosteriorVar),
				formatFloat(r.DFTotal),
				formatFloat(r.B),
			)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.FeatureID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes table to path, creating parent directories. The delimiter
// follows the extension unless opts sets one.
func WriteFile(path string, table expression.ResultsTable, opts Options) error {
	if opts.Delimiter == 0 {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tsv", ".txt", ".tab":
			opts.Delimiter = '\t'
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, table, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ContrastPath derives a per-contrast file name from base, e.g.
// results.csv + "Tumor - Normal" → results.Tumor-Normal.csv. A single contrast
// keeps base unchanged.
func ContrastPath(base, contrast string, single bool) string {
	if single {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "." + slug(contrast) + ext
}

// ContrastPaths derives one file name per contrast. When two contrasts reduce
// to the same name (e.g. "A-B" and "A - B"), later ones get a numeric suffix
// so that no table overwrites another.
func ContrastPaths(base string, contrasts []string) []string {
	single := len(contrasts) == 1
	paths := make([]string, len(contrasts))
	taken := make(map[string]bool, len(contrasts))
	for i, contrast := range contrasts {
		path := ContrastPath(base, contrast, single)
		if taken[strings.ToLower(path)] {
			ext := filepath.Ext(path)
			stem := strings.TrimSuffix(path, ext)
			for n := 2; ; n++ {
				candidate := stem + "_" + strconv.Itoa(n) + ext
				if !taken[strings.ToLower(candidate)] {
					path = candidate
					break
				}
			}
		}
		taken[strings.ToLower(path)] = true
		paths[i] = path
	}
	return paths
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune('p')
		}
	}
	if b.Len() == 0 {
		return "contrast"
	}
	return b.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return MissingValue
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
