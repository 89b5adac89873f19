package excel

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"godiffex/internal"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel, CSV and TSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx", "csv" or "tsv"
	cfg      ReaderConfig
	log      *internal.Logger
}

// NewDataReader creates a reader, picking the format from the file extension.
// .txt and .tsv files are read as tab-separated, as are GEO series matrices.
func NewDataReader(filePath string, cfg ReaderConfig, logger *internal.Logger) *DataReader {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(filePath, ".gz")))
	fileType := "csv"
	switch ext {
	case ".xlsx", ".xlsm":
		fileType = "xlsx"
	case ".tsv", ".txt", ".tab":
		fileType = "tsv"
	}
	if logger == nil {
		logger = internal.NewDiscardLogger()
	}
	return &DataReader{filePath: filePath, fileType: fileType, cfg: cfg, log: logger.With("DataReader")}
}

// ReadTable reads the file into a header row plus data rows
func (r *DataReader) ReadTable() (*Table, error) {
	r.log.Debug("reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "xlsx":
		return r.readExcelTable()
	default:
		file, err := openInput(r.filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s file: %w", r.fileType, err)
		}
		defer file.Close()
		return r.readDelimited(file)
	}
}

// gzipFile closes both the decompressor and the underlying file
type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// openInput opens path for reading, decompressing it when the name ends in .gz
func openInput(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".gz") {
		return file, nil
	}
	zr, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
	}
	return &gzipFile{Reader: zr, file: file}, nil
}

// readExcelTable reads the configured worksheet
func (r *DataReader) readExcelTable() (*Table, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.cfg.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("Excel file has no worksheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	r.log.Debug("%s read in %.2fms (%d rows)", sheet, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

// readDelimited parses CSV or TSV text. Lines starting with '!' or '#' are
// metadata and skipped.
func (r *DataReader) readDelimited(in io.Reader) (*Table, error) {
	lines, err := dataLines(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", strings.ToUpper(r.fileType), err)
	}

	reader := csv.NewReader(lines)
	if r.fileType == "tsv" {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", strings.ToUpper(r.fileType), err)
	}
	r.log.Debug("%s file read in %.2fms (%d rows)", strings.ToUpper(r.fileType), float64(time.Since(readStart).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

// processRows trims cells and pads short rows
func (r *DataReader) processRows(rows [][]string) (*Table, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}

	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	data := make([][]string, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if len(row) > len(headers) {
			return nil, fmt.Errorf("row %d has %d cells but the header has %d", i+1, len(row), len(headers))
		}
		cells := make([]string, len(headers))
		for j, cell := range row {
			cells[j] = strings.TrimSpace(cell)
		}
		data = append(data, cells)
	}

	r.log.Debug("%s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(data))
	return &Table{Headers: headers, Rows: data}, nil
}

// dataLines drops metadata lines before they reach the CSV parser
func dataLines(in io.Reader) (io.Reader, error) {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("!")) || bytes.HasPrefix(line, []byte("#")) {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &buf, nil
}
