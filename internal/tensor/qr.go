package tensor

import (
	"errors"
	"math"
)

var errNotSquare = errors.New("tensor: QR requires a square matrix")

// QR computes a Householder QR factorization a = q*r for a square
// matrix. q is orthogonal and r is upper triangular. The input is not
// modified.
func QR(a *Mat) (q, r *Mat, err error) {
	if a.R != a.C {
		return nil, nil, errNotSquare
	}
	n := a.R
	r = a.Clone()
	q = Identity(n)
	v := make([]float64, n)

	for k := 0; k < n-1; k++ {
		var colNorm float64
		for i := k; i < n; i++ {
			v[i] = r.At(i, k)
			colNorm += v[i] * v[i]
		}
		colNorm = math.Sqrt(colNorm)
		if colNorm == 0 {
			continue
		}

		// Reflect onto -sign(x_k)*|x|*e_k to avoid cancellation.
		alpha := colNorm
		if v[k] > 0 {
			alpha = -colNorm
		}
		v[k] -= alpha
		var vNorm2 float64
		for i := k; i < n; i++ {
			vNorm2 += v[i] * v[i]
		}
		if vNorm2 == 0 {
			continue
		}

		// r = H*r for rows k..n-1.
		for j := k; j < n; j++ {
			var dot float64
			for i := k; i < n; i++ {
				dot += v[i] * r.At(i, j)
			}
			f := 2 * dot / vNorm2
			for i := k; i < n; i++ {
				r.Set(i, j, r.At(i, j)-f*v[i])
			}
		}

		// q = q*H, accumulating the product of reflections.
		for i := 0; i < n; i++ {
			var dot float64
			for j := k; j < n; j++ {
				dot += q.At(i, j) * v[j]
			}
			f := 2 * dot / vNorm2
			for j := k; j < n; j++ {
				q.Set(i, j, q.At(i, j)-f*v[j])
			}
		}
	}

	// Clear numerical residue below the diagonal.
	for i := 1; i < n; i++ {
		row := r.Row(i)
		for j := 0; j < i; j++ {
			row[j] = 0
		}
	}
	return q, r, nil
}
