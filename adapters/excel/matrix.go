package excel

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"godiffex/domain/core"
	"godiffex/domain/expression"
)

// ReadMatrix reads a feature × sample table: one identifier column, every
// other column a sample.
func (r *DataReader) ReadMatrix() (*expression.Matrix, error) {
	table, err := r.ReadTable()
	if err != nil {
		return nil, err
	}
	return ToMatrix(table, r.cfg)
}

// ToMatrix converts a table into an expression matrix. Missing tokens become
// NaN; any other unparsable cell is an error.
func ToMatrix(table *Table, cfg ReaderConfig) (*expression.Matrix, error) {
	idCol := 0
	if cfg.IDColumn != "" {
		if idCol = table.Column(cfg.IDColumn); idCol < 0 {
			return nil, core.NewInvalidInputError(fmt.Sprintf("identifier column %q not found", cfg.IDColumn))
		}
	}

	missing := make(map[string]bool, len(cfg.MissingTokens))
	for _, tok := range cfg.MissingTokens {
		missing[tok] = true
	}

	samples := make([]string, 0, len(table.Headers)-1)
	sampleCols := make([]int, 0, len(table.Headers)-1)
	for j, h := range table.Headers {
		if j == idCol {
			continue
		}
		samples = append(samples, h)
		sampleCols = append(sampleCols, j)
	}
	if len(samples) == 0 {
		return nil, core.NewInvalidInputError("expression table has no sample columns")
	}

	ids := make([]string, 0, len(table.Rows))
	seen := make(map[string]int, len(table.Rows))
	values := make([]float64, 0, len(table.Rows)*len(samples))
	for i, row := range table.Rows {
		id := row[idCol]
		if id == "" {
			return nil, core.NewInvalidInputError(fmt.Sprintf("row %d has an empty identifier", i+2))
		}
		if prev, dup := seen[id]; dup {
			return nil, core.NewInvalidInputError(fmt.Sprintf("identifier %q repeats rows %d and %d", id, prev+2, i+2))
		}
		seen[id] = i
		ids = append(ids, id)

		for _, j := range sampleCols {
			cell := row[j]
			if missing[cell] {
				values = append(values, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, core.NewInvalidInputError(fmt.Sprintf("row %d (%s), column %s: %q is not a number", i+2, id, table.Headers[j], cell))
			}
			values = append(values, v)
		}
	}

	m := &expression.Matrix{FeatureIDs: ids, SampleIDs: samples, Values: values}
	return m, m.Validate()
}

// ReadSampleSheet reads per-sample metadata: one row per sample, identified
// by idColumn (the first column when empty).
func (r *DataReader) ReadSampleSheet(idColumn string) (*expression.SampleSheet, error) {
	table, err := r.ReadTable()
	if err != nil {
		return nil, err
	}
	return ToSampleSheet(table, idColumn)
}

// ToSampleSheet converts a table with one row per sample into a SampleSheet
func ToSampleSheet(table *Table, idColumn string) (*expression.SampleSheet, error) {
	idCol := 0
	if idColumn != "" {
		if idCol = table.Column(idColumn); idCol < 0 {
			return nil, core.NewInvalidInputError(fmt.Sprintf("sample id column %q not found", idColumn))
		}
	}

	sheet := &expression.SampleSheet{
		IDs:     make([]string, len(table.Rows)),
		Columns: make(map[string][]string, len(table.Headers)),
	}
	for j, h := range table.Headers {
		col := make([]string, len(table.Rows))
		for i, row := range table.Rows {
			col[i] = row[j]
		}
		sheet.Columns[h] = col
		if j == idCol {
			copy(sheet.IDs, col)
		}
	}
	return sheet, nil
}

// ReadSeriesSamples extracts the "!Sample_" header block of a GEO series
// matrix file as a SampleSheet keyed by the part after the prefix
// (e.g. "source_name_ch1"). Repeated keys get ".1", ".2", ... suffixes.
// It returns nil when the file has no such block.
func ReadSeriesSamples(path string) (*expression.SampleSheet, error) {
	file, err := openInput(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open series matrix: %w", err)
	}
	defer file.Close()

	sheet := &expression.SampleSheet{Columns: make(map[string][]string)}
	counts := make(map[string]int)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "!series_matrix_table_begin") {
			break
		}
		if !strings.HasPrefix(line, "!Sample_") {
			continue
		}

		fields := strings.Split(line, "\t")
		key := strings.TrimPrefix(fields[0], "!Sample_")
		values := make([]string, len(fields)-1)
		for i, f := range fields[1:] {
			values[i] = strings.Trim(strings.TrimSpace(f), `"`)
		}

		if n := counts[key]; n > 0 {
			counts[key]++
			key = key + "." + strconv.Itoa(n)
		} else {
			counts[key] = 1
		}
		sheet.Columns[key] = values
		if key == "geo_accession" {
			sheet.IDs = values
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series matrix: %w", err)
	}

	if len(sheet.Columns) == 0 {
		return nil, nil
	}
	if sheet.IDs == nil {
		return nil, core.NewInvalidInputError("series matrix has sample metadata but no !Sample_geo_accession line")
	}
	for key, col := range sheet.Columns {
		if len(col) != len(sheet.IDs) {
			return nil, core.NewInvalidInputError(fmt.Sprintf("series matrix field %s has %d values for %d samples", key, len(col), len(sheet.IDs)))
		}
	}
	return sheet, nil
}
