package rotation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/samcharles93/dfrot/internal/quant"
	"github.com/samcharles93/dfrot/internal/tensor"
)

// Procrustes solves the orthogonal Procrustes problem
// min_Q ‖X·Q − Y‖_F over orthogonal Q, whose closed form is Q = U·Vᵀ
// from the SVD of XᵀY.
func Procrustes(x, y *tensor.Mat) (*tensor.Mat, error) {
	if x.R != y.R || x.C != y.C {
		return nil, fmt.Errorf("rotation: procrustes shape mismatch %dx%d vs %dx%d", x.R, x.C, y.R, y.C)
	}
	m := tensor.MulNew(x.Transpose(), y)
	u, _, v, err := tensor.SVD(m)
	if err != nil {
		return nil, err
	}
	return tensor.MulNew(u, v.Transpose()), nil
}

// RefineConfig tunes the alternating Procrustes refinement.
type RefineConfig struct {
	// Bits is the simulated activation width the refinement optimises
	// for. Default 4.
	Bits int
	// Iters bounds the alternation count. Default 32.
	Iters int
	// MassiveThreshold marks a calibration row as a massive-activation
	// row when its absmax exceeds this multiple of the median row
	// absmax. Default 30.
	MassiveThreshold float64
	// MassiveWeight is the objective weight given to massive rows.
	// Normal rows weigh 1. Default 100.
	MassiveWeight float64
}

func (c RefineConfig) withDefaults() RefineConfig {
	if c.Bits == 0 {
		c.Bits = 4
	}
	if c.Iters == 0 {
		c.Iters = 32
	}
	if c.MassiveThreshold == 0 {
		c.MassiveThreshold = 30
	}
	if c.MassiveWeight == 0 {
		c.MassiveWeight = 100
	}
	return c
}

// Refine fits a rotation to calibration activations by alternating
// between quantizing the rotated activations and re-solving a weighted
// Procrustes problem against the quantized target. Massive-activation
// rows get a larger weight so the fit does not sacrifice them to the
// bulk of ordinary tokens. Returns the iterate with the lowest weighted
// quantization error.
//
// x holds one calibration token per row, channels along columns.
func Refine(x *tensor.Mat, rng *rand.Rand, cfg RefineConfig) (*tensor.Mat, error) {
	cfg = cfg.withDefaults()
	n := x.C
	if x.R < 1 || n < 1 {
		return nil, fmt.Errorf("rotation: empty calibration activations")
	}

	rtn, err := quant.New(quant.Config{Bits: cfg.Bits, Sym: true, GroupSize: -1})
	if err != nil {
		return nil, err
	}

	q, err := Hadamard(n, rng)
	if err != nil {
		// Sizes without a Hadamard construction start from a random
		// orthogonal matrix instead.
		q, err = Random(n, rng)
		if err != nil {
			return nil, err
		}
	}

	weights := rowWeights(x, cfg.MassiveThreshold, cfg.MassiveWeight)

	// Pre-scale a copy of X by the row weights; the weighted Procrustes
	// target matrix is then (Xw)ᵀ·Zq.
	xw := x.Clone()
	for i := 0; i < xw.R; i++ {
		tensor.Scale(xw.Row(i), weights[i])
	}
	xwT := xw.Transpose()

	best := q.Clone()
	bestErr := math.Inf(1)
	z := tensor.NewMat(x.R, n)

	for it := 0; it < cfg.Iters; it++ {
		tensor.MatMul(z, x, q, 0)
		zq := rtn.QuantizeMat(z)

		e := weightedError(z, zq, weights)
		if e < bestErr {
			bestErr = e
			best = q.Clone()
		}

		m := tensor.MulNew(xwT, zq)
		u, _, v, err := tensor.SVD(m)
		if err != nil {
			return nil, err
		}
		q = tensor.MulNew(u, v.Transpose())
	}
	return best, nil
}

// rowWeights computes per-token objective weights: rows whose absmax
// exceeds threshold times the median absmax are massive and get the
// heavy weight.
func rowWeights(x *tensor.Mat, threshold, massiveWeight float64) []float64 {
	absMax := make([]float64, x.R)
	for i := 0; i < x.R; i++ {
		absMax[i] = tensor.AbsMax(x.Row(i))
	}
	med := median(absMax)

	w := make([]float64, x.R)
	for i := range w {
		w[i] = 1
		if med > 0 && absMax[i] >= threshold*med {
			w[i] = massiveWeight
		}
	}
	return w
}

func weightedError(z, zq *tensor.Mat, weights []float64) float64 {
	var sum float64
	for i := 0; i < z.R; i++ {
		rz, rq := z.Row(i), zq.Row(i)
		var rowErr float64
		for j := range rz {
			d := rz[j] - rq[j]
			rowErr += d * d
		}
		sum += weights[i] * rowErr
	}
	return sum
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
