package diffexpr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"godiffex/domain/core"
)

// ContrastSpec names a linear combination of group means.
type ContrastSpec struct {
	Name    string
	Weights map[string]float64
}

// ContrastVector is a resolved contrast: one weight per design column.
type ContrastVector struct {
	Name    string
	Groups  []string
	Weights []float64
}

// Sum returns the total weight; mean-difference contrasts sum to zero.
func (c ContrastVector) Sum() float64 {
	var s float64
	for _, w := range c.Weights {
		s += w
	}
	return s
}

// ResolveContrast maps a named contrast onto the design's columns. Every group
// the contrast references must exist in the design.
func ResolveContrast(design *Design, spec ContrastSpec) (ContrastVector, error) {
	vec := ContrastVector{
		Name:    spec.Name,
		Groups:  append([]string(nil), design.Groups...),
		Weights: make([]float64, len(design.Groups)),
	}

	names := make([]string, 0, len(spec.Weights))
	for g := range spec.Weights {
		names = append(names, g)
	}
	sort.Strings(names)

	nonZero := false
	for _, g := range names {
		j := design.GroupIndex(g)
		if j < 0 {
			return ContrastVector{}, &core.UnknownGroupError{Group: g, Contrast: spec.Name, Known: design.Groups}
		}
		vec.Weights[j] = spec.Weights[g]
		if spec.Weights[g] != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return ContrastVector{}, fmt.Errorf("contrast %q: %w", spec.Name, core.ErrEmptyContrast)
	}

	return vec, nil
}

// ParseContrast reads expressions such as "Tumor - Normal" or
// "0.5*A + 0.5*B - C". Repeated groups accumulate their weights. When name is
// empty the expression itself becomes the contrast name.
func ParseContrast(name, expr string) (ContrastSpec, error) {
	spec := ContrastSpec{Name: name, Weights: make(map[string]float64)}
	if spec.Name == "" {
		spec.Name = strings.Join(strings.Fields(expr), " ")
	}

	s := strings.TrimSpace(expr)
	if s == "" {
		return ContrastSpec{}, core.NewInvalidInputError("empty contrast expression")
	}

	sign := 1.0
	expectTerm := true
	for len(s) > 0 {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			break
		}
		switch s[0] {
		case '+', '-':
			if s[0] == '-' {
				sign = -sign
			}
			s = s[1:]
			expectTerm = true
			continue
		}
		if !expectTerm {
			return ContrastSpec{}, core.NewInvalidInputError(fmt.Sprintf("contrast %q: expected + or - before %q", expr, s))
		}

		end := strings.IndexAny(s, "+-")
		term := s
		if end >= 0 {
			// allow exponents such as 1e-3 inside a coefficient
			for end > 0 && (s[end-1] == 'e' || s[end-1] == 'E') && isNumericPrefix(s[:end-1]) {
				next := strings.IndexAny(s[end+1:], "+-")
				if next < 0 {
					end = -1
					break
				}
				end = end + 1 + next
			}
		}
		if end >= 0 {
			term = s[:end]
			s = s[end:]
		} else {
			s = ""
		}

		coef, group, err := parseTerm(term)
		if err != nil {
			return ContrastSpec{}, core.NewInvalidInputError(fmt.Sprintf("contrast %q: %v", expr, err))
		}
		spec.Weights[group] += sign * coef
		sign = 1
		expectTerm = false
	}
	if expectTerm {
		return ContrastSpec{}, core.NewInvalidInputError(fmt.Sprintf("contrast %q ends with an operator", expr))
	}

	return spec, nil
}

func parseTerm(term string) (float64, string, error) {
	term = strings.TrimSpace(term)
	coef := 1.0
	if i := strings.Index(term, "*"); i >= 0 {
		v, err := strconv.ParseFloat(strings.TrimSpace(term[:i]), 64)
		if err != nil {
			return 0, "", fmt.Errorf("bad coefficient in %q", term)
		}
		coef = v
		term = strings.TrimSpace(term[i+1:])
	}
	if term == "" {
		return 0, "", fmt.Errorf("missing group name")
	}
	if strings.ContainsAny(term, "*/()") || strings.ContainsFunc(term, unicode.IsSpace) {
		return 0, "", fmt.Errorf("unsupported term %q", term)
	}
	return coef, term, nil
}

func isNumericPrefix(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func itoa(i int) string { return strconv.Itoa(i) }
