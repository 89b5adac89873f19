package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/domain/run"
	"godiffex/internal"
	"godiffex/internal/errors"

	"github.com/jmoiron/sqlx"
)

// ResultsRepository implements ports.ResultsRepository over sqlx
type ResultsRepository struct {
	db  *sqlx.DB
	log *internal.Logger
}

// NewResultsRepository creates a new results repository
func NewResultsRepository(db *sqlx.DB, logger *internal.Logger) *ResultsRepository {
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &ResultsRepository{db: db, log: logger.With("sqlstore")}
}

type runRow struct {
	RunID       string          `db:"run_id"`
	Name        string          `db:"name"`
	Features    int             `db:"features"`
	Samples     int             `db:"samples"`
	Unfit       int             `db:"unfit"`
	DFPrior     sql.NullFloat64 `db:"df_prior"`
	VarPrior    sql.NullFloat64 `db:"var_prior"`
	Shrinkage   string          `db:"shrinkage"`
	InputHash   string          `db:"input_hash"`
	Fingerprint string          `db:"fingerprint"`
	Details     string          `db:"details"`
	CreatedAt   time.Time       `db:"created_at"`
}

// runDetails holds the manifest fields without a column of their own
type runDetails struct {
	Groups      []string        `json:"groups"`
	GroupSizes  []int           `json:"group_sizes"`
	Dropped     []string        `json:"dropped_samples,omitempty"`
	Fingerprint run.Fingerprint `json:"fingerprint"`
	ElapsedNS   int64           `json:"elapsed_ns"`
}

type resultRow struct {
	RunID        string          `db:"run_id"`
	Contrast     string          `db:"contrast"`
	Rank         int             `db:"row_rank"`
	FeatureID    string          `db:"feature_id"`
	FeatureIndex int             `db:"feature_index"`
	Symbol       sql.NullString  `db:"symbol"`
	Effect       sql.NullFloat64 `db:"effect_size"`
	T            sql.NullFloat64 `db:"moderated_t"`
	PValue       sql.NullFloat64 `db:"raw_p"`
	AdjPValue    sql.NullFloat64 `db:"adjusted_p"`
	AveExpr      sql.NullFloat64 `db:"ave_expr"`
	StdErr       sql.NullFloat64 `db:"std_err"`
	PosteriorVar sql.NullFloat64 `db:"posterior_var"`
	DFTotal      sql.NullFloat64 `db:"df_total"`
	B            sql.NullFloat64 `db:"b_stat"`
}

const insertRunSQL = `
	INSERT INTO de_runs (
		run_id, name, features, samples, unfit, df_prior, var_prior,
		shrinkage, input_hash, fingerprint, details, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertResultSQL = `
	INSERT INTO de_results (
		run_id, contrast, row_rank, feature_id, feature_index, symbol,
		effect_size, moderated_t, raw_p, adjusted_p, ave_expr, std_err,
		posterior_var, df_total, b_stat
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRunSQL = `
	SELECT run_id, name, features, samples, unfit, df_prior, var_prior,
		shrinkage, input_hash, fingerprint, details, created_at
	FROM de_runs`

// SaveRun stores the manifest and every table in one transaction
func (r *ResultsRepository) SaveRun(ctx context.Context, manifest *run.Manifest, tables []expression.ResultsTable) error {
	if err := manifest.Validate(); err != nil {
		return errors.Wrap(err, "refusing to store invalid manifest")
	}

	details, err := json.Marshal(runDetails{
		Groups:      manifest.Groups,
		GroupSizes:  manifest.GroupSizes,
		Dropped:     manifest.Dropped,
		Fingerprint: manifest.Fingerprint,
		ElapsedNS:   manifest.Elapsed.Nanoseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run details: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(insertRunSQL),
		manifest.RunID.String(),
		manifest.Name,
		manifest.Features,
		manifest.Samples,
		manifest.Unfit,
		nullFloat(manifest.DFPrior),
		nullFloat(manifest.VarPrior),
		manifest.Shrinkage,
		manifest.Fingerprint.InputHash.String(),
		manifest.Fingerprint.Fingerprint.String(),
		string(details),
		manifest.CreatedAt,
	)
	if err != nil {
		return errors.DatabaseError("failed to insert run", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertResultSQL))
	if err != nil {
		return errors.DatabaseError("failed to prepare result insert", err)
	}
	defer stmt.Close()

	rows := 0
	for _, table := range tables {
		for rank, row := range table.Rows {
			_, err := stmt.ExecContext(ctx,
				manifest.RunID.String(),
				table.Contrast,
				rank,
				row.FeatureID,
				row.Index,
				sql.NullString{String: row.Symbol, Valid: row.Symbol != ""},
				nullFloat(row.Effect),
				nullFloat(row.T),
				nullFloat(row.PValue),
				nullFloat(row.AdjPValue),
				nullFloat(row.AveExpr),
				nullFloat(row.StdErr),
				nullFloat(row.PosteriorVar),
				nullFloat(row.DFTotal),
				nullFloat(row.B),
			)
			if err != nil {
				return errors.DatabaseError(fmt.Sprintf("failed to insert result %s/%s", table.Contrast, row.FeatureID), err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit run", err)
	}
	r.log.Info("stored run %s (%d contrasts, %d rows)", manifest.RunID, len(tables), rows)
	return nil
}

// GetRun loads a run manifest
func (r *ResultsRepository) GetRun(ctx context.Context, id core.RunID) (*run.Manifest, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(selectRunSQL+" WHERE run_id = ?"), id.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run " + id.String())
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load run", err)
	}
	return row.toManifest()
}

// ListRuns returns the most recent runs first
func (r *ResultsRepository) ListRuns(ctx context.Context, limit int) ([]*run.Manifest, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(selectRunSQL+" ORDER BY created_at DESC LIMIT ?"), limit); err != nil {
		return nil, errors.DatabaseError("failed to list runs", err)
	}

	out := make([]*run.Manifest, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toManifest()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetResults returns the rows of one contrast in stored order
func (r *ResultsRepository) GetResults(ctx context.Context, id core.RunID, contrast string, limit int) (*expression.ResultsTable, error) {
	query := `
		SELECT run_id, contrast, row_rank, feature_id, feature_index, symbol,
			effect_size, moderated_t, raw_p, adjusted_p, ave_expr, std_err,
			posterior_var, df_total, b_stat
		FROM de_results
		WHERE run_id = ? AND contrast = ?
		ORDER BY row_rank`
	args := []interface{}{id.String(), contrast}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to load results", err)
	}
	if len(rows) == 0 {
		if _, err := r.GetRun(ctx, id); err != nil {
			return nil, err
		}
		return nil, errors.NotFound(fmt.Sprintf("contrast %q in run %s", contrast, id))
	}

	table := &expression.ResultsTable{Contrast: contrast, Rows: make([]expression.ResultRow, len(rows))}
	for i, row := range rows {
		table.Rows[i] = row.toResultRow()
	}
	return table, nil
}

// DeleteRun removes a run and its results
func (r *ResultsRepository) DeleteRun(ctx context.Context, id core.RunID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM de_results WHERE run_id = ?"), id.String()); err != nil {
		return errors.DatabaseError("failed to delete results", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM de_runs WHERE run_id = ?"), id.String())
	if err != nil {
		return errors.DatabaseError("failed to delete run", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFound("run " + id.String())
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit delete", err)
	}
	return nil
}

func (row *runRow) toManifest() (*run.Manifest, error) {
	var details runDetails
	if err := json.Unmarshal([]byte(row.Details), &details); err != nil {
		return nil, fmt.Errorf("run %s has unreadable details: %w", row.RunID, err)
	}

	m := &run.Manifest{
		RunID:       core.RunID(row.RunID),
		Name:        row.Name,
		Features:    row.Features,
		Samples:     row.Samples,
		Groups:      details.Groups,
		GroupSizes:  details.GroupSizes,
		Dropped:     details.Dropped,
		Unfit:       row.Unfit,
		DFPrior:     fromNull(row.DFPrior),
		VarPrior:    fromNull(row.VarPrior),
		Shrinkage:   row.Shrinkage,
		Fingerprint: details.Fingerprint,
		Elapsed:     time.Duration(details.ElapsedNS),
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if !row.DFPrior.Valid && row.Shrinkage == "infinite" {
		m.DFPrior = math.Inf(1)
	}
	return m, nil
}

func (row *resultRow) toResultRow() expression.ResultRow {
	stat := expression.ModeratedStatistic{
		Effect:       fromNull(row.Effect),
		StdErr:       fromNull(row.StdErr),
		PosteriorVar: fromNull(row.PosteriorVar),
		T:            fromNull(row.T),
		DFTotal:      fromNull(row.DFTotal),
		PValue:       fromNull(row.PValue),
		AdjPValue:    fromNull(row.AdjPValue),
		B:            fromNull(row.B),
		RawVar:       math.NaN(),
		Status:       expression.FitOK,
	}
	if math.IsNaN(stat.Effect) {
		stat.Status = expression.FitUnfit
	} else if math.IsNaN(stat.DFTotal) {
		stat.DFTotal = math.Inf(1)
	}

	return expression.ResultRow{
		FeatureID:          row.FeatureID,
		Index:              row.FeatureIndex,
		Symbol:             row.Symbol.String,
		AveExpr:            fromNull(row.AveExpr),
		ModeratedStatistic: stat,
	}
}

// nullFloat stores non-finite values as NULL
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
