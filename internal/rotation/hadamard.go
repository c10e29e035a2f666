package rotation

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// Paley base orders: q prime, q ≡ 3 (mod 4), giving Hadamard matrices
// of order q+1. Together with Sylvester doubling this covers every
// hidden size the supported model families use (powers of two plus
// 12·2^k, 20·2^k and 24·2^k).
var paleyPrimes = []int{11, 19, 23}

// HadamardMatrix constructs an unnormalised ±1 Hadamard matrix of order
// n, or an error when no construction is known for n.
func HadamardMatrix(n int) (*tensor.Mat, error) {
	if n <= 0 {
		return nil, fmt.Errorf("rotation: invalid hadamard order %d", n)
	}

	base, doublings, ok := hadamardBase(n)
	if !ok {
		return nil, fmt.Errorf("rotation: no hadamard construction for order %d", n)
	}

	var h *tensor.Mat
	switch base {
	case 1:
		h = tensor.NewMatFromData(1, 1, []float64{1})
	default:
		h = paleyHadamard(base - 1)
	}

	for i := 0; i < doublings; i++ {
		h = sylvesterDouble(h)
	}
	return h, nil
}

// hadamardBase factors n as base·2^k where base is either 1 (Sylvester
// only) or a Paley order q+1.
func hadamardBase(n int) (base, doublings int, ok bool) {
	for k, m := 0, n; m >= 1; k, m = k+1, m/2 {
		if m == 1 {
			return 1, k, true
		}
		for _, q := range paleyPrimes {
			if m == q+1 {
				return m, k, true
			}
		}
		if m%2 != 0 {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// Hadamard builds a randomised orthogonal Hadamard rotation: H·D/√n
// where D is a random ±1 diagonal. The sign diagonal breaks the fixed
// structure of H so repeated runs see different rotations while keeping
// the flatness property of the Hadamard transform.
func Hadamard(n int, rng *rand.Rand) (*tensor.Mat, error) {
	h, err := HadamardMatrix(n)
	if err != nil {
		return nil, err
	}
	inv := 1 / math.Sqrt(float64(n))
	signs := make([]float64, n)
	for j := range signs {
		if rng.Intn(2) == 0 {
			signs[j] = inv
		} else {
			signs[j] = -inv
		}
	}
	for i := 0; i < n; i++ {
		row := h.Row(i)
		for j := range row {
			row[j] *= signs[j]
		}
	}
	return h, nil
}

// IsPow2 reports whether n is a power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// sylvesterDouble returns the order-2n Sylvester extension
// [[H, H], [H, -H]].
func sylvesterDouble(h *tensor.Mat) *tensor.Mat {
	n := h.R
	out := tensor.NewMat(2*n, 2*n)
	for i := 0; i < n; i++ {
		src := h.Row(i)
		top := out.Row(i)
		bottom := out.Row(i + n)
		for j, v := range src {
			top[j] = v
			top[j+n] = v
			bottom[j] = v
			bottom[j+n] = -v
		}
	}
	return out
}

// paleyHadamard builds a Hadamard matrix of order q+1 via the Paley I
// construction: H = I + C where C is the bordered skew Jacobsthal
// matrix. Valid for prime q ≡ 3 (mod 4).
func paleyHadamard(q int) *tensor.Mat {
	residue := make([]bool, q)
	for x := 1; x < q; x++ {
		residue[(x*x)%q] = true
	}
	chi := func(x int) float64 {
		x = ((x % q) + q) % q
		if x == 0 {
			return 0
		}
		if residue[x] {
			return 1
		}
		return -1
	}

	n := q + 1
	h := tensor.NewMat(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var c float64
			switch {
			case i == 0 && j == 0:
				c = 0
			case i == 0:
				c = 1
			case j == 0:
				c = -1
			default:
				c = chi(i - j)
			}
			if i == j {
				c++
			}
			h.Set(i, j, c)
		}
	}
	return h
}
