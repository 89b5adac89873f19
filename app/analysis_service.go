package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"godiffex/domain/core"
	"godiffex/domain/expression"
	"godiffex/domain/run"
	"godiffex/internal"
	"godiffex/internal/analysis/diffexpr"
	"godiffex/internal/config"
	"godiffex/internal/dataset"
	"godiffex/internal/errors"
	"godiffex/ports"
)

// AnalysisService turns an analysis request into results tables: it loads
// the inputs, assigns groups, runs the engine, annotates and optionally
// persists the run.
type AnalysisService struct {
	defaults config.EngineConfig
	results  ports.ResultsRepository
	log      *internal.Logger
}

// AnalysisRequest describes one run. Source is required; Annotator may be nil.
type AnalysisRequest struct {
	Name      string
	Source    ports.MatrixSource
	Annotator ports.SymbolAnnotator
	Groups    config.GroupSpec
	Contrasts []config.ContrastEntry
	Model     config.ModelSpec
	Output    config.OutputSpec
	Persist   bool
}

// AnalysisReport is the outcome of a run
type AnalysisReport struct {
	Manifest *run.Manifest
	Analysis *diffexpr.Analysis
	// Tables hold one assembled table per contrast, in request order.
	Tables    []expression.ResultsTable
	Annotated bool
	Persisted bool
}

// NewAnalysisService creates an analysis service. results may be nil when no
// database is configured.
func NewAnalysisService(defaults config.EngineConfig, results ports.ResultsRepository, logger *internal.Logger) *AnalysisService {
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &AnalysisService{
		defaults: defaults,
		results:  results,
		log:      logger.With("analysis"),
	}
}

// RequestFromFile builds a request from an analysis definition; the caller
// supplies the source and annotator it describes.
func RequestFromFile(af *config.AnalysisFile, source ports.MatrixSource, annotator ports.SymbolAnnotator) AnalysisRequest {
	req := AnalysisRequest{
		Name:      af.Name,
		Source:    source,
		Annotator: annotator,
		Groups:    af.Groups,
		Contrasts: af.Contrasts,
		Model:     af.Model,
		Output:    af.Output,
	}
	if af.Database != nil {
		req.Persist = af.Database.Persist
	}
	return req
}

// Run executes the request end to end
func (s *AnalysisService) Run(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error) {
	if req.Source == nil {
		return nil, errors.InvalidInput("analysis request has no matrix source")
	}
	if req.Persist && s.results == nil {
		return nil, errors.ConfigInvalid("persistence requested but no results database is configured")
	}

	cfg, err := s.engineConfig(req)
	if err != nil {
		return nil, err
	}
	specs, err := parseContrasts(req.Contrasts)
	if err != nil {
		return nil, err
	}

	m, err := req.Source.LoadMatrix(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load expression matrix")
	}
	labels, err := s.assignLabels(ctx, req, m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to assign groups")
	}

	sel, err := dataset.KeepLabeled(m, labels)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select labeled samples")
	}
	if len(sel.Dropped) > 0 {
		s.log.Info("dropped %d unlabeled samples", len(sel.Dropped))
	}
	s.log.Debug("group sizes: %v", sel.Counts)

	engine, err := diffexpr.NewEngine(cfg, s.log)
	if err != nil {
		return nil, errors.Wrap(err, "invalid engine configuration")
	}
	analysis, err := engine.Analyze(ctx, sel.Matrix, sel.Labels, specs)
	if err != nil {
		return nil, errors.Wrap(err, "analysis failed")
	}

	var symbols []string
	if req.Annotator != nil {
		symbols, err = req.Annotator.Annotate(ctx, sel.Matrix.FeatureIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to annotate features")
		}
	}

	report := &AnalysisReport{
		Analysis:  analysis,
		Tables:    make([]expression.ResultsTable, len(analysis.Contrasts)),
		Annotated: symbols != nil,
	}
	for i := range analysis.Contrasts {
		if report.Tables[i], err = analysis.Table(i, sel.Matrix.FeatureIDs, symbols, cfg.Table); err != nil {
			return nil, errors.Wrap(err, "failed to assemble results")
		}
	}

	report.Manifest = s.manifest(req, cfg, specs, sel, analysis)

	if req.Persist {
		if err := s.results.SaveRun(ctx, report.Manifest, report.Tables); err != nil {
			return nil, errors.Wrap(err, "failed to persist run")
		}
		report.Persisted = true
	}

	s.log.Info("run %s finished in %s (%d features, %d samples, prior %s)",
		report.Manifest.RunID, analysis.Elapsed.Round(time.Millisecond),
		sel.Matrix.Features(), sel.Matrix.Samples(), analysis.Prior.State)
	return report, nil
}

// engineConfig merges request overrides onto the environment defaults
func (s *AnalysisService) engineConfig(req AnalysisRequest) (diffexpr.Config, error) {
	d := s.defaults
	cfg := diffexpr.DefaultConfig()
	cfg.Workers = d.Workers
	cfg.Moderator.MaxIterations = d.MaxIterations
	cfg.Moderator.Tolerance = d.Tolerance
	cfg.Moderator.Proportion = d.Proportion

	model := req.Model
	if model.Workers > 0 {
		cfg.Workers = model.Workers
	}
	if model.MaxIterations != nil {
		cfg.Moderator.MaxIterations = *model.MaxIterations
	}
	if model.Tolerance > 0 {
		cfg.Moderator.Tolerance = model.Tolerance
	}
	if model.Proportion > 0 {
		cfg.Moderator.Proportion = model.Proportion
	}

	adjust := d.AdjustMethod
	if model.Adjust != "" {
		adjust = model.Adjust
	}
	method, err := diffexpr.ParseAdjustMethod(adjust)
	if err != nil {
		return cfg, errors.InvalidInput(err.Error())
	}
	cfg.Adjust = method

	orderName := d.DesignOrder
	if req.Groups.Order != "" {
		orderName = req.Groups.Order
	}
	order, err := diffexpr.ParseColumnOrder(orderName)
	if err != nil {
		return cfg, errors.InvalidInput(err.Error())
	}
	cfg.DesignOrder = order

	sortBy, err := diffexpr.ParseSortBy(req.Output.SortBy)
	if err != nil {
		return cfg, errors.InvalidInput(err.Error())
	}
	cfg.Table = diffexpr.TableOptions{
		SortBy:          sortBy,
		TopN:            req.Output.TopN,
		MaxAdjP:         req.Output.MaxAdjP,
		MinAbsEffect:    req.Output.MinAbsEffect,
		DropUnannotated: req.Output.DropUnannotated,
	}
	if cfg.Table.DropUnannotated && req.Annotator == nil {
		return cfg, errors.InvalidInput("dropping unannotated rows requires an annotator")
	}

	if err := cfg.Moderator.Validate(); err != nil {
		return cfg, errors.InvalidInput(err.Error())
	}
	return cfg, nil
}

// assignLabels produces one group label per matrix column. Samples that get
// no label are dropped later.
func (s *AnalysisService) assignLabels(ctx context.Context, req AnalysisRequest, m *expression.Matrix) ([]string, error) {
	groups := req.Groups
	if len(groups.Labels) > 0 {
		if len(groups.Labels) != m.Samples() {
			return nil, core.NewDimensionError("group labels", len(groups.Labels), m.Samples())
		}
		return groups.Labels, nil
	}

	sheet, err := req.Source.LoadSamples(ctx)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, core.NewInvalidInputError("groups come from sample metadata but the source has none")
	}

	var perSheet []string
	switch {
	case groups.Column != "":
		if perSheet, err = sheet.Column(groups.Column); err != nil {
			return nil, err
		}
	case groups.Rules != nil:
		source, err := sheet.Column(groups.Rules.Source)
		if err != nil {
			return nil, err
		}
		rules := make([]dataset.Rule, len(groups.Rules.Match))
		for i, r := range groups.Rules.Match {
			rules[i] = dataset.Rule{Pattern: r.Pattern, Label: r.Label}
		}
		perSheet = dataset.AssignByRules(source, rules)
	default:
		return nil, core.NewInvalidInputError("no group assignment given")
	}

	return dataset.AlignLabels(m.SampleIDs, sheet, perSheet)
}

func (s *AnalysisService) manifest(req AnalysisRequest, cfg diffexpr.Config, specs []diffexpr.ContrastSpec, sel *dataset.Selection, a *diffexpr.Analysis) *run.Manifest {
	names := make([]string, len(specs))
	for i, c := range specs {
		names[i] = c.Name
	}
	m := sel.Matrix
	params := run.Parameters{
		DesignOrder:   cfg.DesignOrder.String(),
		AdjustMethod:  string(cfg.Adjust),
		MaxIterations: cfg.Moderator.MaxIterations,
		Tolerance:     cfg.Moderator.Tolerance,
		Proportion:    cfg.Moderator.Proportion,
		Contrasts:     names,
	}
	input := core.ComputeInputHash(m.FeatureIDs, m.SampleIDs, sel.Labels, m.Values)

	name := req.Name
	if name == "" {
		name = strings.Join(names, ", ")
	}
	manifest := run.NewManifest(name, run.NewFingerprint(input, params, run.CodeVersion))
	manifest.Features = m.Features()
	manifest.Samples = m.Samples()
	manifest.Groups = a.Design.Groups
	manifest.GroupSizes = a.Design.GroupSizes()
	manifest.Dropped = sel.Dropped
	manifest.Unfit = a.Unfit
	manifest.DFPrior = a.Prior.DF
	manifest.VarPrior = a.Prior.Var
	manifest.Shrinkage = a.Prior.State.String()
	manifest.Elapsed = a.Elapsed
	return manifest
}

// parseContrasts turns "Tumor - Normal" expressions into weight maps. Unnamed
// contrasts are named after their expression.
func parseContrasts(entries []config.ContrastEntry) ([]diffexpr.ContrastSpec, error) {
	if len(entries) == 0 {
		return nil, errors.InvalidInput("at least one contrast is required")
	}
	specs := make([]diffexpr.ContrastSpec, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = strings.TrimSpace(e.Expr)
		}
		if seen[name] {
			return nil, errors.InvalidInput(fmt.Sprintf("contrast %q is given twice", name))
		}
		seen[name] = true

		spec, err := diffexpr.ParseContrast(name, e.Expr)
		if err != nil {
			return nil, errors.Wrapf(err, "contrast %q", name)
		}
		specs[i] = spec
	}
	return specs, nil
}

// MemorySource serves an in-memory matrix, e.g. one decoded from a request body.
type MemorySource struct {
	Matrix *expression.Matrix
	Sheet  *expression.SampleSheet
}

// LoadMatrix returns the held matrix
func (s MemorySource) LoadMatrix(ctx context.Context) (*expression.Matrix, error) {
	if s.Matrix == nil {
		return nil, core.NewInvalidInputError("no expression matrix given")
	}
	return s.Matrix, nil
}

// LoadSamples returns the held sample sheet, which may be nil
func (s MemorySource) LoadSamples(ctx context.Context) (*expression.SampleSheet, error) {
	return s.Sheet, nil
}
