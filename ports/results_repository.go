package ports

import (
	"context"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/domain/run"
)

// ResultsRepository persists analysis runs and their flat results tables
type ResultsRepository interface {
	// SaveRun stores the manifest and every table in one transaction
	SaveRun(ctx context.Context, manifest *run.Manifest, tables []expression.ResultsTable) error
	GetRun(ctx context.Context, id core.RunID) (*run.Manifest, error)
	ListRuns(ctx context.Context, limit int) ([]*run.Manifest, error)
	// GetResults returns the rows of one contrast in stored order; limit <= 0 means all
	GetResults(ctx context.Context, id core.RunID, contrast string, limit int) (*expression.ResultsTable, error)
	DeleteRun(ctx context.Context, id core.RunID) error
}
