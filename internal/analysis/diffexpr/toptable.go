package diffexpr

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"godiffex/domain/expression"
)

// SortBy selects the ordering of the results table.
type SortBy string

const (
	SortAdjP   SortBy = "p"
	SortT      SortBy = "t"
	SortB      SortBy = "B"
	SortEffect SortBy = "logFC"
	SortNone   SortBy = "none"
)

// ParseSortBy accepts p, t, B, logFC/effect and none.
func ParseSortBy(s string) (SortBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "p", "adjp", "adj.p.val", "pvalue":
		return SortAdjP, nil
	case "t":
		return SortT, nil
	case "b":
		return SortB, nil
	case "logfc", "effect", "effect_size":
		return SortEffect, nil
	case "none":
		return SortNone, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// TableOptions control ordering and filtering of an assembled table.
type TableOptions struct {
	SortBy SortBy
	// TopN keeps only the first N rows after sorting; 0 keeps all.
	TopN int
	// MaxAdjP keeps rows with adjusted p strictly below it; 0 disables the filter.
	MaxAdjP float64
	// MinAbsEffect keeps rows with |effect| strictly above it; 0 disables the filter.
	MinAbsEffect float64
	// DropUnannotated removes rows without a symbol.
	DropUnannotated bool
}

// DefaultTableOptions sorts by significance and keeps everything.
func DefaultTableOptions() TableOptions {
	return TableOptions{SortBy: SortAdjP}
}

// Assemble builds the results table for one contrast. ids, aveExpr and stats
// are aligned by feature index; symbols may be nil.
func Assemble(contrast string, ids []string, symbols []string, aveExpr []float64, stats []expression.ModeratedStatistic, opts TableOptions) (expression.ResultsTable, error) {
	if len(ids) != len(stats) {
		return expression.ResultsTable{}, fmt.Errorf("assemble %q: %d ids for %d statistics", contrast, len(ids), len(stats))
	}
	if aveExpr != nil && len(aveExpr) != len(stats) {
		return expression.ResultsTable{}, fmt.Errorf("assemble %q: %d averages for %d statistics", contrast, len(aveExpr), len(stats))
	}
	if symbols != nil && len(symbols) != len(stats) {
		return expression.ResultsTable{}, fmt.Errorf("assemble %q: %d symbols for %d statistics", contrast, len(symbols), len(stats))
	}

	rows := make([]expression.ResultRow, 0, len(stats))
	for i, st := range stats {
		row := expression.ResultRow{
			FeatureID:          ids[i],
			Index:              i,
			AveExpr:            math.NaN(),
			ModeratedStatistic: st,
		}
		if aveExpr != nil {
			row.AveExpr = aveExpr[i]
		}
		if symbols != nil {
			row.Symbol = symbols[i]
		}
		rows = append(rows, row)
	}

	table := expression.ResultsTable{Contrast: contrast, Rows: rows}
	Reorder(&table, opts)
	return table, nil
}

// Reorder applies sorting and filters to table, replacing its rows.
func Reorder(table *expression.ResultsTable, opts TableOptions) {
	rows := make([]expression.ResultRow, 0, len(table.Rows))
	for _, r := range table.Rows {
		if opts.DropUnannotated && strings.TrimSpace(r.Symbol) == "" {
			continue
		}
		if opts.MaxAdjP > 0 && !(r.AdjPValue < opts.MaxAdjP) {
			continue
		}
		if opts.MinAbsEffect > 0 && !(math.Abs(r.Effect) > opts.MinAbsEffect) {
			continue
		}
		rows = append(rows, r)
	}

	if less := rowOrder(opts.SortBy); less != nil {
		sort.SliceStable(rows, func(a, b int) bool { return less(&rows[a], &rows[b]) })
	}

	if opts.TopN > 0 && len(rows) > opts.TopN {
		rows = rows[:opts.TopN]
	}
	table.Rows = rows
}

func rowOrder(by SortBy) func(a, b *expression.ResultRow) bool {
	switch by {
	case SortNone:
		return nil
	case SortT:
		return func(a, b *expression.ResultRow) bool {
			return descending(math.Abs(a.T), math.Abs(b.T), a.Index, b.Index)
		}
	case SortB:
		return func(a, b *expression.ResultRow) bool {
			return descending(a.B, b.B, a.Index, b.Index)
		}
	case SortEffect:
		return func(a, b *expression.ResultRow) bool {
			return descending(math.Abs(a.Effect), math.Abs(b.Effect), a.Index, b.Index)
		}
	default:
		return func(a, b *expression.ResultRow) bool {
			pa, pb := a.AdjPValue, b.AdjPValue
			if na, nb := math.IsNaN(pa), math.IsNaN(pb); na || nb {
				if na != nb {
					return nb
				}
				return a.Index < b.Index
			}
			if pa != pb {
				return pa < pb
			}
			ea, eb := math.Abs(a.Effect), math.Abs(b.Effect)
			if ea != eb {
				return ea > eb
			}
			return a.Index < b.Index
		}
	}
}

// descending orders by larger value first, NaN last, ties by index.
func descending(x, y float64, ix, iy int) bool {
	if nx, ny := math.IsNaN(x), math.IsNaN(y); nx || ny {
		if nx != ny {
			return ny
		}
		return ix < iy
	}
	if x != y {
		return x > y
	}
	return ix < iy
}

// RankedEffect pairs a feature with its effect for rank-based enrichment.
type RankedEffect struct {
	FeatureID string  `json:"feature_id"`
	Symbol    string  `json:"symbol,omitempty"`
	Effect    float64 `json:"effect_size"`
}

// RankedEffects returns the finite effects of table sorted from largest to
// smallest, ties by original feature order.
func RankedEffects(table expression.ResultsTable) []RankedEffect {
	rows := make([]expression.ResultRow, 0, len(table.Rows))
	for _, r := range table.Rows {
		if !math.IsNaN(r.Effect) && !math.IsInf(r.Effect, 0) {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Effect != rows[b].Effect {
			return rows[a].Effect > rows[b].Effect
		}
		return rows[a].Index < rows[b].Index
	})

	out := make([]RankedEffect, len(rows))
	for i, r := range rows {
		out[i] = RankedEffect{FeatureID: r.FeatureID, Symbol: r.Symbol, Effect: r.Effect}
	}
	return out
}
