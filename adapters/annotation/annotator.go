// Package annotation provides SymbolAnnotator implementations backed by
// platform annotation tables.
package annotation

import (
	"context"
	"fmt"
	"strings"

	"godiffex/adapters/excel"
	"godiffex/internal"
)

// MapAnnotator annotates from an in-memory id → symbol map
type MapAnnotator struct {
	symbols map[string]string
}

// NewMapAnnotator creates an annotator from a map. Symbols are normalized with
// NormalizeSymbol.
func NewMapAnnotator(symbols map[string]string) *MapAnnotator {
	clean := make(map[string]string, len(symbols))
	for id, sym := range symbols {
		if s := NormalizeSymbol(sym); s != "" {
			clean[id] = s
		}
	}
	return &MapAnnotator{symbols: clean}
}

// Annotate implements ports.SymbolAnnotator
func (a *MapAnnotator) Annotate(ctx context.Context, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = a.symbols[id]
	}
	return out, nil
}

// Len returns the number of annotated ids
func (a *MapAnnotator) Len() int { return len(a.symbols) }

// LoadFile reads a platform annotation table (CSV, TSV, GPL .txt or XLSX)
// and returns an annotator over idColumn → symbolColumn. An empty idColumn
// means the first column.
func LoadFile(path, idColumn, symbolColumn string, logger *internal.Logger) (*MapAnnotator, error) {
	reader := excel.NewDataReader(path, excel.DefaultReaderConfig(), logger)
	table, err := reader.ReadTable()
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation table: %w", err)
	}

	idCol := 0
	if idColumn != "" {
		if idCol = table.Column(idColumn); idCol < 0 {
			return nil, fmt.Errorf("annotation table has no column %q", idColumn)
		}
	}
	symCol := table.Column(symbolColumn)
	if symCol < 0 {
		return nil, fmt.Errorf("annotation table has no column %q", symbolColumn)
	}

	symbols := make(map[string]string, len(table.Rows))
	for _, row := range table.Rows {
		if id := row[idCol]; id != "" {
			symbols[id] = row[symCol]
		}
	}

	a := NewMapAnnotator(symbols)
	if logger != nil {
		logger.With("annotation").Info("loaded %d symbols from %s", a.Len(), path)
	}
	return a, nil
}

// NormalizeSymbol maps platform placeholders ("---", "NA") to "" and keeps
// the first of several "///"-separated symbols.
func NormalizeSymbol(s string) string {
	if i := strings.Index(s, "///"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "---", "NA", "N/A", "NULL":
		return ""
	}
	return s
}
