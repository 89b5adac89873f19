package excel

import (
	"bytes"
	"compress/gzip"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"godiffex/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadMatrix_CSV(t *testing.T) {
	path := writeFile(t, "expr.csv", "ID_REF,GSM1,GSM2,GSM3\n"+
		"1007_s_at,7.1,7.3,NA\n"+
		"\"1053_at\",5, 5.5 ,6\n")

	m, err := NewDataReader(path, DefaultReaderConfig(), nil).ReadMatrix()
	require.NoError(t, err)

	assert.Equal(t, []string{"1007_s_at", "1053_at"}, m.FeatureIDs)
	assert.Equal(t, []string{"GSM1", "GSM2", "GSM3"}, m.SampleIDs)
	assert.Equal(t, 7.3, m.At(0, 1))
	assert.True(t, math.IsNaN(m.At(0, 2)))
	assert.Equal(t, 5.5, m.At(1, 1))
}

func TestReadMatrix_SeriesMatrix(t *testing.T) {
	path := writeFile(t, "GSE1_series_matrix.txt", ""+
		"!Series_title\t\"Breast tumor vs normal\"\n"+
		"!Sample_title\t\"T1\"\t\"N1\"\n"+
		"!Sample_geo_accession\t\"GSM1\"\t\"GSM2\"\n"+
		"!Sample_source_name_ch1\t\"breast tumor\"\t\"normal breast\"\n"+
		"!Sample_characteristics_ch1\t\"age: 50\"\t\"age: 61\"\n"+
		"!Sample_characteristics_ch1\t\"grade: 2\"\t\"grade: 1\"\n"+
		"!series_matrix_table_begin\n"+
		"\"ID_REF\"\t\"GSM1\"\t\"GSM2\"\n"+
		"\"p1\"\t1.5\t2.5\n"+
		"\"p2\"\tnull\t3\n"+
		"!series_matrix_table_end\n")

	m, err := NewDataReader(path, DefaultReaderConfig(), nil).ReadMatrix()
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM1", "GSM2"}, m.SampleIDs)
	assert.Equal(t, []string{"p1", "p2"}, m.FeatureIDs)
	assert.True(t, math.IsNaN(m.At(1, 0)))

	sheet, err := ReadSeriesSamples(path)
	require.NoError(t, err)
	require.NotNil(t, sheet)
	assert.Equal(t, []string{"GSM1", "GSM2"}, sheet.IDs)
	assert.Equal(t, []string{"breast tumor", "normal breast"}, sheet.Columns["source_name_ch1"])
	assert.Equal(t, []string{"age: 50", "age: 61"}, sheet.Columns["characteristics_ch1"])
	assert.Equal(t, []string{"grade: 2", "grade: 1"}, sheet.Columns["characteristics_ch1.1"])
}

func TestReadMatrix_GzippedSeriesMatrix(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("" +
		"!Series_title\t\"compressed\"\n" +
		"!Sample_geo_accession\t\"GSM1\"\t\"GSM2\"\n" +
		"!Sample_source_name_ch1\t\"tumor\"\t\"normal\"\n" +
		"!series_matrix_table_begin\n" +
		"\"ID_REF\"\t\"GSM1\"\t\"GSM2\"\n" +
		"\"p1\"\t1.5\t2.5\n" +
		"!series_matrix_table_end\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "GSE2_series_matrix.txt.gz", buf.String())

	reader := NewDataReader(path, DefaultReaderConfig(), nil)
	assert.Equal(t, "tsv", reader.fileType)
	m, err := reader.ReadMatrix()
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM1", "GSM2"}, m.SampleIDs)
	assert.Equal(t, []string{"p1"}, m.FeatureIDs)
	assert.Equal(t, 2.5, m.At(0, 1))

	sheet, err := ReadSeriesSamples(path)
	require.NoError(t, err)
	require.NotNil(t, sheet)
	assert.Equal(t, []string{"GSM1", "GSM2"}, sheet.IDs)
	assert.Equal(t, []string{"tumor", "normal"}, sheet.Columns["source_name_ch1"])
}

func TestReadMatrix_CorruptGzip(t *testing.T) {
	path := writeFile(t, "broken.csv.gz", "not gzip data")
	_, err := NewDataReader(path, DefaultReaderConfig(), nil).ReadMatrix()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decompress")
}

func TestReadSeriesSamples_NoMetadata(t *testing.T) {
	path := writeFile(t, "plain.tsv", "id\ta\tb\np\t1\t2\n")
	sheet, err := ReadSeriesSamples(path)
	require.NoError(t, err)
	assert.Nil(t, sheet)
}

func TestToMatrix_Errors(t *testing.T) {
	cfg := DefaultReaderConfig()

	_, err := ToMatrix(&Table{Headers: []string{"id", "s1"}, Rows: [][]string{{"p1", "abc"}}}, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = ToMatrix(&Table{Headers: []string{"id", "s1"}, Rows: [][]string{{"p1", "1"}, {"p1", "2"}}}, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = ToMatrix(&Table{Headers: []string{"id"}, Rows: [][]string{{"p1"}}}, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	cfg.IDColumn = "probe"
	_, err = ToMatrix(&Table{Headers: []string{"id", "s1"}, Rows: [][]string{{"p1", "1"}}}, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestToMatrix_NamedIDColumn(t *testing.T) {
	cfg := DefaultReaderConfig()
	cfg.IDColumn = "probe"
	m, err := ToMatrix(&Table{
		Headers: []string{"s1", "probe", "s2"},
		Rows:    [][]string{{"1", "p1", "2"}},
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, m.SampleIDs)
	assert.Equal(t, []float64{1, 2}, m.Values)
}

func TestReadSampleSheet_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"sample", "description"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"GSM1", "Tumor tissue"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"GSM2", "Normal tissue"}))

	path := filepath.Join(t.TempDir(), "samples.xlsx")
	require.NoError(t, f.SaveAs(path))

	sheet, err := NewDataReader(path, DefaultReaderConfig(), nil).ReadSampleSheet("sample")
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM1", "GSM2"}, sheet.IDs)

	desc, err := sheet.Column("description")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tumor tissue", "Normal tissue"}, desc)
}

func TestReadTable_Errors(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "missing.csv"), DefaultReaderConfig(), nil).ReadTable()
	assert.Error(t, err)

	path := writeFile(t, "header.csv", "id,a\n")
	_, err = NewDataReader(path, DefaultReaderConfig(), nil).ReadTable()
	assert.Error(t, err)

	path = writeFile(t, "wide.csv", "id,a\np,1,2\n")
	_, err = NewDataReader(path, DefaultReaderConfig(), nil).ReadTable()
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	matrix := writeFile(t, "expr.tsv", "probe\tGSM1\tGSM2\np1\t1\t2\n")
	samples := writeFile(t, "samples.csv", "sample,description\nGSM2,normal\nGSM1,tumor\n")

	src := NewFileSource(matrix, samples, "sample", DefaultReaderConfig(), nil)
	m, err := src.LoadMatrix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM1", "GSM2"}, m.SampleIDs)

	sheet, err := src.LoadSamples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM2", "GSM1"}, sheet.IDs)

	noSheet := NewFileSource(matrix, "", "", DefaultReaderConfig(), nil)
	sheet, err = noSheet.LoadSamples(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sheet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.LoadMatrix(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
