package ports

import "context"

// SymbolAnnotator maps feature identifiers (probe ids) to gene symbols.
type SymbolAnnotator interface {
	// Annotate returns one symbol per id, aligned with ids; unknown ids map to "".
	Annotate(ctx context.Context, ids []string) ([]string, error)
}
