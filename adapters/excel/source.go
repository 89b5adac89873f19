package excel

import (
	"context"

	"godiffex/domain/expression"
	"godiffex/internal"
)

// FileSource is a MatrixSource backed by an expression file and an optional
// sample sheet. When no sample sheet is given, the "!Sample_" block of a GEO
// series matrix file is used if present.
type FileSource struct {
	MatrixPath     string
	SamplesPath    string
	SampleIDColumn string
	Config         ReaderConfig

	log *internal.Logger
}

// NewFileSource creates a file-backed matrix source
func NewFileSource(matrixPath, samplesPath, sampleIDColumn string, cfg ReaderConfig, logger *internal.Logger) *FileSource {
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &FileSource{
		MatrixPath:     matrixPath,
		SamplesPath:    samplesPath,
		SampleIDColumn: sampleIDColumn,
		Config:         cfg,
		log:            logger,
	}
}

// LoadMatrix reads the expression matrix
func (s *FileSource) LoadMatrix(ctx context.Context) (*expression.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := NewDataReader(s.MatrixPath, s.Config, s.log).ReadMatrix()
	if err != nil {
		return nil, err
	}
	s.log.With("excel").Info("loaded %d features × %d samples from %s", m.Features(), m.Samples(), s.MatrixPath)
	return m, nil
}

// LoadSamples reads the sample sheet
func (s *FileSource) LoadSamples(ctx context.Context) (*expression.SampleSheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.SamplesPath == "" {
		return ReadSeriesSamples(s.MatrixPath)
	}
	cfg := s.Config
	cfg.Sheet = ""
	return NewDataReader(s.SamplesPath, cfg, s.log).ReadSampleSheet(s.SampleIDColumn)
}
