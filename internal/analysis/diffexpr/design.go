package diffexpr

import (
	"fmt"
	"sort"
	"strings"

	"godiffex/domain/core"

	"gonum.org/v1/gonum/mat"
)

// ColumnOrder decides how distinct group labels are laid out as design columns.
type ColumnOrder int

const (
	// OrderLexicographic sorts group names, matching factor-level ordering.
	OrderLexicographic ColumnOrder = iota
	// OrderFirstAppearance keeps the order in which labels first occur.
	OrderFirstAppearance
)

func (o ColumnOrder) String() string {
	if o == OrderFirstAppearance {
		return "first_appearance"
	}
	return "lexicographic"
}

// ParseColumnOrder accepts "lexicographic" (the default) and "first_appearance".
func ParseColumnOrder(s string) (ColumnOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lexicographic":
		return OrderLexicographic, nil
	case "first_appearance", "first":
		return OrderFirstAppearance, nil
	}
	return OrderLexicographic, fmt.Errorf("unknown design column order %q", s)
}

// Design is the S×G group-indicator matrix together with its column names.
type Design struct {
	Groups []string
	X      *mat.Dense
}

// Samples returns the number of design rows
func (d *Design) Samples() int {
	r, _ := d.X.Dims()
	return r
}

// Columns returns the number of design columns
func (d *Design) Columns() int {
	_, c := d.X.Dims()
	return c
}

// GroupIndex returns the column of group, or -1.
func (d *Design) GroupIndex(group string) int {
	for i, g := range d.Groups {
		if g == group {
			return i
		}
	}
	return -1
}

// GroupSizes counts samples per design column
func (d *Design) GroupSizes() []int {
	sizes := make([]int, d.Columns())
	for i := 0; i < d.Samples(); i++ {
		for j := range sizes {
			if d.X.At(i, j) != 0 {
				sizes[j]++
			}
		}
	}
	return sizes
}

// BuildDesign turns per-sample group labels into a design with one indicator
// column per distinct label.
func BuildDesign(labels []string, order ColumnOrder) (*Design, error) {
	seen := make(map[string]int)
	var groups []string
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return nil, core.NewInvalidInputError("sample " + itoa(i) + " has an empty group label")
		}
		if _, ok := seen[label]; !ok {
			seen[label] = len(groups)
			groups = append(groups, label)
		}
	}

	if len(groups) < 2 {
		return nil, &core.InsufficientGroupsError{Distinct: len(groups), Groups: groups}
	}

	if order == OrderLexicographic {
		sort.Strings(groups)
	}
	for j, g := range groups {
		seen[g] = j
	}

	x := mat.NewDense(len(labels), len(groups), nil)
	for i, label := range labels {
		x.Set(i, seen[label], 1)
	}

	return &Design{Groups: groups, X: x}, nil
}
