package rotation

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// houseVector builds the reflection vector that maps the idx-th basis
// direction onto the uniform direction 1/√n·(1,…,1). Reflecting an
// outlier channel onto the uniform direction spreads its energy evenly
// across all channels, which is exactly what a massive activation needs
// before low-bit quantization.
func houseVector(n, idx int) ([]float64, error) {
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("rotation: householder index %d out of range [0,%d)", idx, n)
	}
	inv := 1 / math.Sqrt(float64(n))
	v := make([]float64, n)
	for i := range v {
		v[i] = -inv
	}
	v[idx] += 1
	return v, nil
}

// householderMatrix returns I - 2vvᵀ/(vᵀv). A zero vector yields the
// identity.
func householderMatrix(v []float64) *tensor.Mat {
	n := len(v)
	h := tensor.Identity(n)
	norm2 := tensor.Dot(v, v)
	if norm2 == 0 {
		return h
	}
	f := 2 / norm2
	for i := 0; i < n; i++ {
		row := h.Row(i)
		for j := 0; j < n; j++ {
			row[j] -= f * v[i] * v[j]
		}
	}
	return h
}

// Householder builds a rotation as the product of reflections targeting
// the given outlier channel indices. Each reflection vector gets a
// random sign pattern so distinct runs decorrelate.
func Householder(n int, rng *rand.Rand, indices []int) (*tensor.Mat, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("rotation: householder needs at least one channel index")
	}
	q := tensor.Identity(n)
	for _, idx := range indices {
		v, err := houseVector(n, idx)
		if err != nil {
			return nil, err
		}
		for i := range v {
			if rng.Intn(2) == 1 {
				v[i] = -v[i]
			}
		}
		q = tensor.MulNew(q, householderMatrix(v))
	}
	return q, nil
}

// HadamardHouseholder composes a randomised Hadamard rotation with a
// single reflection at a random channel.
func HadamardHouseholder(n int, rng *rand.Rand) (*tensor.Mat, error) {
	h, err := Hadamard(n, rng)
	if err != nil {
		return nil, err
	}
	v, err := houseVector(n, rng.Intn(n))
	if err != nil {
		return nil, err
	}
	return tensor.MulNew(h, householderMatrix(v)), nil
}
