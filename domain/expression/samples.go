package expression

import (
	"fmt"

	"godiffex/domain/core"
)

// SampleSheet is per-sample metadata keyed by column name. Every column is
// aligned with IDs.
type SampleSheet struct {
	IDs     []string
	Columns map[string][]string
}

// Column returns the values of name aligned with IDs.
func (s *SampleSheet) Column(name string) ([]string, error) {
	values, ok := s.Columns[name]
	if !ok {
		return nil, core.NewInvalidInputError(fmt.Sprintf("sample sheet has no column %q", name))
	}
	return values, nil
}
