package rotation

import (
	"math/rand"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// Random generates a Haar-distributed random orthogonal matrix of the
// given size: a gaussian matrix is factored with QR and the signs of
// diag(R) are folded into the columns of Q. Without the sign fix the QR
// convention would bias the distribution.
func Random(n int, rng *rand.Rand) (*tensor.Mat, error) {
	g := tensor.NewMat(n, n)
	tensor.FillRandn(g, rng)

	q, r, err := tensor.QR(g)
	if err != nil {
		return nil, err
	}

	for j := 0; j < n; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < n; i++ {
				q.Set(i, j, -q.At(i, j))
			}
		}
	}
	return q, nil
}
