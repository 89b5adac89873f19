package diffexpr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// geometry is everything about a design that every feature sharing it reuses:
// the pseudo-inverse X⁺ (G×S), the unscaled covariance (XᵀX)⁺ = X⁺X⁺ᵀ (G×G)
// and the numerical rank.
type geometry struct {
	pinv *mat.Dense
	cov  *mat.Dense
	rank int
}

// newGeometry computes X⁺ by thin SVD. Singular values below
// max(rows, cols)·σmax·ε are treated as zero.
func newGeometry(x mat.Matrix) (*geometry, error) {
	r, c := x.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD of %d×%d design did not converge", r, c)
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	sigmaMax := 0.0
	for _, s := range values {
		sigmaMax = math.Max(sigmaMax, s)
	}
	tol := float64(max(r, c)) * sigmaMax * epsilon

	// X⁺ = V Σ⁺ Uᵀ, accumulated over retained singular triplets.
	pinv := mat.NewDense(c, r, nil)
	rank := 0
	for k, s := range values {
		if s <= tol || s == 0 {
			continue
		}
		rank++
		inv := 1 / s
		for i := 0; i < c; i++ {
			vik := v.At(i, k) * inv
			if vik == 0 {
				continue
			}
			for j := 0; j < r; j++ {
				pinv.Set(i, j, pinv.At(i, j)+vik*u.At(j, k))
			}
		}
	}

	cov := mat.NewDense(c, c, nil)
	cov.Mul(pinv, pinv.T())

	return &geometry{pinv: pinv, cov: cov, rank: rank}, nil
}

// quadForm returns cᵀ·A·c.
func quadForm(a mat.Matrix, c []float64) float64 {
	n := len(c)
	var total float64
	for i := 0; i < n; i++ {
		if c[i] == 0 {
			continue
		}
		var row float64
		for j := 0; j < n; j++ {
			row += a.At(i, j) * c[j]
		}
		total += c[i] * row
	}
	return total
}

const epsilon = 2.220446049250313e-16
