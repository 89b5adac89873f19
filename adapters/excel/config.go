package excel

// ReaderConfig holds options for reading tabular input
type ReaderConfig struct {
	// Sheet selects the XLSX worksheet; empty means the first sheet.
	Sheet string `json:"sheet"`
	// IDColumn names the feature identifier column; empty means the first column.
	IDColumn string `json:"id_column"`
	// MissingTokens are cell values read as missing (NaN).
	MissingTokens []string `json:"missing_tokens"`
}

// DefaultReaderConfig returns sensible defaults for expression tables
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		MissingTokens: []string{"", "NA", "NaN", "nan", "null", "NULL", "#N/A", "-"},
	}
}
