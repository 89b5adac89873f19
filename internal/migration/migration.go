package migration

import (
	"context"

	"godiffex/internal"
	"godiffex/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations. The schema sticks to
// types both PostgreSQL and SQLite accept.
type MigrationRunner struct {
	version string
	log     *internal.Logger
}

// NewRunner creates a new migration runner
func NewRunner(logger *internal.Logger) *MigrationRunner {
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &MigrationRunner{
		version: "1.0.0",
		log:     logger.With("migration"),
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(errors.DatabaseError("create de_runs", err), "failed to create de_runs table")
	}

	if err := r.createResultsTable(ctx, db); err != nil {
		return errors.Wrap(errors.DatabaseError("create de_results", err), "failed to create de_results table")
	}

	r.createIndexes(ctx, db)

	r.log.Info("schema at version %s", r.version)
	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS de_runs (
			run_id VARCHAR(36) PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			features INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			unfit INTEGER NOT NULL DEFAULT 0,
			df_prior DOUBLE PRECISION,
			var_prior DOUBLE PRECISION,
			shrinkage VARCHAR(16) NOT NULL,
			input_hash VARCHAR(64) NOT NULL,
			fingerprint VARCHAR(64) NOT NULL,
			details TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS de_results (
			run_id VARCHAR(36) NOT NULL REFERENCES de_runs(run_id) ON DELETE CASCADE,
			contrast TEXT NOT NULL,
			row_rank INTEGER NOT NULL,
			feature_id TEXT NOT NULL,
			feature_index INTEGER NOT NULL,
			symbol TEXT,
			effect_size DOUBLE PRECISION,
			moderated_t DOUBLE PRECISION,
			raw_p DOUBLE PRECISION,
			adjusted_p DOUBLE PRECISION,
			ave_expr DOUBLE PRECISION,
			std_err DOUBLE PRECISION,
			posterior_var DOUBLE PRECISION,
			df_total DOUBLE PRECISION,
			b_stat DOUBLE PRECISION,
			PRIMARY KEY (run_id, contrast, row_rank)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_created_at ON de_runs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_runs_input_hash ON de_runs(input_hash)",
		"CREATE INDEX IF NOT EXISTS idx_results_feature ON de_results(run_id, feature_id)",
		"CREATE INDEX IF NOT EXISTS idx_results_adjusted_p ON de_results(run_id, contrast, adjusted_p)",
	}

	for _, idxSQL := range indexes {
		if _, err := db.ExecContext(ctx, idxSQL); err != nil {
			// Log but don't fail on index creation errors
			r.log.Warn("failed to create index: %v", err)
		}
	}
}
