package diffexpr

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// digamma is ψ(x)
func digamma(x float64) float64 {
	return mathext.Digamma(x)
}

// trigamma is ψ₁(x) for x > 0: recurrence up to x ≥ 6, then the asymptotic
// expansion 1/x + 1/2x² + Σ B₂ₖ/x^(2k+1).
func trigamma(x float64) float64 {
	if math.IsNaN(x) || x <= 0 {
		return math.NaN()
	}
	if math.IsInf(x, 1) {
		return 0
	}

	var acc float64
	for x < 6 {
		acc += 1 / (x * x)
		x++
	}
	t := 1 / x
	t2 := t * t
	return acc + t + t2/2 + t*t2*(1.0/6-t2*(1.0/30-t2*(1.0/42-t2*(1.0/30-t2*5.0/66))))
}

// tetragamma is ψ₂(x) for x > 0, the derivative of trigamma.
func tetragamma(x float64) float64 {
	if math.IsNaN(x) || x <= 0 {
		return math.NaN()
	}
	if math.IsInf(x, 1) {
		return 0
	}

	var acc float64
	for x < 6 {
		acc -= 2 / (x * x * x)
		x++
	}
	t := 1 / x
	t2 := t * t
	return acc - t2*(1+t+t2*(0.5-t2*(1.0/6-t2*(1.0/6-t2*(3.0/10-t2*5.0/6)))))
}

// trigammaInverse solves ψ₁(y) = x for y by Newton iteration on 1/ψ₁, which is
// nearly linear and converges monotonically from y₀ = 1/2 + 1/x. It stops after
// maxIter steps; ok is false when the relative step never fell below tol.
func trigammaInverse(x float64, maxIter int, tol float64) (y float64, iterations int, ok bool) {
	switch {
	case math.IsNaN(x) || x <= 0:
		return math.NaN(), 0, false
	case x > 1e7:
		return 1 / math.Sqrt(x), 0, true
	case x < 1e-6:
		return 1 / x, 0, true
	}

	y = 0.5 + 1/x
	for iterations = 1; iterations <= maxIter; iterations++ {
		tri := trigamma(y)
		dif := tri * (1 - tri/x) / tetragamma(y)
		y += dif
		if -dif/y < tol {
			return y, iterations, true
		}
	}
	return y, maxIter, false
}
