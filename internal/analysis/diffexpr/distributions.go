package diffexpr

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// tailDistribution is the part of a reference distribution the moderator needs.
type tailDistribution interface {
	CDF(x float64) float64
	Survival(x float64) float64
	Quantile(p float64) float64
}

// studentsT returns Student's t with df degrees of freedom, or the standard
// normal once df is infinite.
func studentsT(df float64) tailDistribution {
	if math.IsInf(df, 1) {
		return distuv.UnitNormal
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
}

// TwoSidedTPValue computes the two-tailed p-value of t under Student's t with
// df degrees of freedom (normal when df is +Inf).
func TwoSidedTPValue(t, df float64) float64 {
	if math.IsNaN(t) || math.IsNaN(df) || df <= 0 {
		return math.NaN()
	}
	if math.IsInf(t, 0) {
		return 0
	}
	p := 2 * studentsT(df).Survival(math.Abs(t))
	return math.Min(p, 1)
}

// upperQuantile returns the value exceeded with probability tail.
func upperQuantile(d tailDistribution, tail float64) float64 {
	switch {
	case tail <= 0:
		return math.Inf(1)
	case tail >= 1:
		return math.Inf(-1)
	}
	return d.Quantile(1 - tail)
}
