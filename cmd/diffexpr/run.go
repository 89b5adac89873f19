package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"godiffex/adapters/annotation"
	"godiffex/adapters/excel"
	"godiffex/adapters/sqlstore"
	"godiffex/adapters/tabular"
	"godiffex/app"
	"godiffex/domain/run"
	"godiffex/internal"
	"godiffex/internal/config"
	"godiffex/internal/migration"
	"godiffex/ports"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var analysisPath string
	var outPath string
	var manifestPath string
	var persist bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis described by a YAML file",
		Long: `Fit per-feature linear models, moderate the variances and write one
results table per contrast.

Example: diffexpr run --analysis gse.yaml --out results.tsv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(cmd.Context(), cmd.OutOrStdout(), analysisPath, outPath, manifestPath, persist)
		},
	}

	cmd.Flags().StringVarP(&analysisPath, "analysis", "a", "", "Analysis definition (YAML)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Results file; overrides output.path (stdout when both are empty)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Write the run manifest as JSON to this path")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store the run in the results database")
	cmd.MarkFlagRequired("analysis")

	return cmd
}

func runAnalysis(ctx context.Context, stdout io.Writer, analysisPath, outPath, manifestPath string, persist bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	af, err := config.LoadAnalysisFile(analysisPath)
	if err != nil {
		return err
	}

	readerCfg := excel.DefaultReaderConfig()
	readerCfg.Sheet = af.Input.Sheet
	readerCfg.IDColumn = af.Input.IDColumn
	source := excel.NewFileSource(af.Resolve(af.Input.Matrix), af.Resolve(af.Input.Samples), af.Input.SampleIDColumn, readerCfg, logger)

	var annotator ports.SymbolAnnotator
	if af.Annotation != nil {
		a, err := annotation.LoadFile(af.Resolve(af.Annotation.File), af.Annotation.IDColumn, af.Annotation.SymbolColumn, logger)
		if err != nil {
			return err
		}
		annotator = a
	}

	req := app.RequestFromFile(af, source, annotator)
	req.Persist = req.Persist || persist

	var results ports.ResultsRepository
	if req.Persist {
		db, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		results = sqlstore.NewResultsRepository(db, logger)
	}

	svc := app.NewAnalysisService(cfg.Engine, results, logger)
	report, err := svc.Run(ctx, req)
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = af.Resolve(af.Output.Path)
	}
	opts := tabular.Options{Symbol: report.Annotated, Extended: af.Output.Extended}
	if err := writeTables(stdout, outPath, report, opts); err != nil {
		return err
	}

	if manifestPath != "" {
		if err := writeManifest(manifestPath, report.Manifest); err != nil {
			return err
		}
	}

	logger.Info("run %s: prior df %.4g, prior variance %.4g (%s)", report.Manifest.RunID,
		report.Manifest.DFPrior, report.Manifest.VarPrior, report.Manifest.Shrinkage)
	return nil
}

func writeTables(stdout io.Writer, outPath string, report *app.AnalysisReport, opts tabular.Options) error {
	single := len(report.Tables) == 1
	names := make([]string, len(report.Tables))
	for i, table := range report.Tables {
		names[i] = table.Contrast
	}
	paths := tabular.ContrastPaths(outPath, names)
	for i, table := range report.Tables {
		if outPath == "" {
			if !single {
				fmt.Fprintf(stdout, "# %s\n", table.Contrast)
			}
			if err := tabular.Write(stdout, table, opts); err != nil {
				return err
			}
			continue
		}

		path := paths[i]
		if err := tabular.WriteFile(path, table, opts); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d rows for %q to %s\n", table.Len(), table.Contrast, path)
	}
	return nil
}

func writeManifest(path string, m *run.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// openDatabase connects to the configured results database and brings its
// schema up to date.
func openDatabase(ctx context.Context, cfg *config.Config, logger *internal.Logger) (*sqlx.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := migration.NewRunner(logger).Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
