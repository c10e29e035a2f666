// Package rotation constructs the orthogonal matrices used to suppress
// activation outliers before quantization. A rotation here is always a
// real orthogonal matrix applied to the hidden dimension of a model;
// the different constructors trade structure (Hadamard), randomness
// (Haar-random) and data awareness (Householder on outlier channels,
// Procrustes fitting against calibration activations) against each
// other.
package rotation

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// Mode names a rotation construction strategy.
type Mode string

const (
	ModeNone                 Mode = "none"
	ModeRandom               Mode = "random"
	ModeHadamard             Mode = "hadamard"
	ModeHouseholder          Mode = "householder"
	ModeHadamardHouseholder  Mode = "hadamard_householder"
	ModeOrthogonalProcrustes Mode = "orthogonal_procrustes"
)

// Modes lists every mode Generate accepts, in a stable order.
func Modes() []Mode {
	return []Mode{
		ModeNone,
		ModeRandom,
		ModeHadamard,
		ModeHouseholder,
		ModeHadamardHouseholder,
		ModeOrthogonalProcrustes,
	}
}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("rotation: unknown mode %q", s)
}

// Options carries the per-mode inputs Generate needs beyond the size.
type Options struct {
	// Indices are outlier channel indices for the Householder modes.
	Indices []int

	// Activations and refinement settings for the Procrustes mode.
	Activations *tensor.Mat
	Refine      RefineConfig
}

// Generate builds an n x n orthogonal matrix for the given mode.
// ModeNone returns the identity.
func Generate(n int, mode Mode, rng *rand.Rand, opts Options) (*tensor.Mat, error) {
	switch mode {
	case ModeNone:
		return tensor.Identity(n), nil
	case ModeRandom:
		return Random(n, rng)
	case ModeHadamard:
		return Hadamard(n, rng)
	case ModeHouseholder:
		if len(opts.Indices) == 0 {
			return nil, fmt.Errorf("rotation: householder mode needs outlier channel indices")
		}
		return Householder(n, rng, opts.Indices)
	case ModeHadamardHouseholder:
		return HadamardHouseholder(n, rng)
	case ModeOrthogonalProcrustes:
		if opts.Activations == nil {
			return nil, fmt.Errorf("rotation: procrustes mode needs calibration activations")
		}
		return Refine(opts.Activations, rng, opts.Refine)
	default:
		return nil, fmt.Errorf("rotation: unknown mode %q", mode)
	}
}

// OrthogonalityError returns the largest absolute deviation of qᵀq from
// the identity.
func OrthogonalityError(q *tensor.Mat) float64 {
	qtq := tensor.MulNew(q.Transpose(), q)
	n := qtq.R
	var maxErr float64
	for i := 0; i < n; i++ {
		row := qtq.Row(i)
		for j, v := range row {
			if i == j {
				v -= 1
			}
			if v < 0 {
				v = -v
			}
			if v > maxErr {
				maxErr = v
			}
		}
	}
	return maxErr
}

// IsOrthogonal reports whether q is orthogonal within tol.
func IsOrthogonal(q *tensor.Mat, tol float64) bool {
	if q.R != q.C {
		return false
	}
	return OrthogonalityError(q) <= tol
}
