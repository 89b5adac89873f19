package diffexpr

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// AdjustMethod selects the multiple-testing correction.
type AdjustMethod string

const (
	AdjustBH         AdjustMethod = "BH"
	AdjustHolm       AdjustMethod = "holm"
	AdjustBonferroni AdjustMethod = "bonferroni"
	AdjustNone       AdjustMethod = "none"
)

// ParseAdjustMethod accepts the method names used by p.adjust, case-insensitively.
func ParseAdjustMethod(s string) (AdjustMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bh", "fdr", "benjamini-hochberg":
		return AdjustBH, nil
	case "holm":
		return AdjustHolm, nil
	case "bonferroni":
		return AdjustBonferroni, nil
	case "none":
		return AdjustNone, nil
	}
	return "", fmt.Errorf("unknown p-value adjustment method %q", s)
}

// AdjustPValues corrects p for multiple testing. NaN entries are left out of
// the family and stay NaN in place; the result is aligned with p.
func AdjustPValues(p []float64, method AdjustMethod) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return out
	}

	// ascending p, ties by original position
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	switch method {
	case AdjustNone:
		for _, i := range idx {
			out[i] = p[i]
		}

	case AdjustBonferroni:
		for _, i := range idx {
			out[i] = clip01(p[i] * float64(n))
		}

	case AdjustHolm:
		running := 0.0
		for k, i := range idx {
			running = math.Max(running, p[i]*float64(n-k))
			out[i] = clip01(running)
		}

	default:
		running := math.Inf(1)
		for k := n - 1; k >= 0; k-- {
			i := idx[k]
			running = math.Min(running, p[i]*float64(n)/float64(k+1))
			out[i] = clip01(running)
		}
	}
	return out
}

// BenjaminiHochberg is AdjustPValues with AdjustBH.
func BenjaminiHochberg(p []float64) []float64 {
	return AdjustPValues(p, AdjustBH)
}

func clip01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
