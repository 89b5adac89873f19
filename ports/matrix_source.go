package ports

import (
	"context"

	"godiffex/domain/expression"
)

// MatrixSource loads the in-memory inputs of an analysis
type MatrixSource interface {
	LoadMatrix(ctx context.Context) (*expression.Matrix, error)
	// LoadSamples returns per-sample metadata, or nil when the source has none.
	LoadSamples(ctx context.Context) (*expression.SampleSheet, error)
}
