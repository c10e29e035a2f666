// Package quant implements round-to-nearest integer quantization for
// weights and activations. Quantization here is always simulated
// (quantize then dequantize in float64) because the toolkit measures
// the error a rotation leaves behind rather than producing packed
// integer tensors.
package quant

import (
	"fmt"
	"math"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// Config describes an RTN quantizer.
type Config struct {
	// Bits is the integer width, 2..8. 16 means passthrough.
	Bits int
	// Sym selects symmetric quantization (no zero point).
	Sym bool
	// GroupSize is the number of consecutive elements sharing one scale.
	// -1 groups a whole row/vector together.
	GroupSize int
	// ClipRatio shrinks the observed range before computing the scale.
	// 0 means 1.0 (no clipping).
	ClipRatio float64
}

// Quantizer applies RTN quantization with a fixed configuration.
type Quantizer struct {
	cfg  Config
	clip float64
}

// New validates cfg and returns a Quantizer.
func New(cfg Config) (*Quantizer, error) {
	if cfg.Bits != 16 && (cfg.Bits < 2 || cfg.Bits > 8) {
		return nil, fmt.Errorf("quant: unsupported bit width %d", cfg.Bits)
	}
	if cfg.GroupSize == 0 || cfg.GroupSize < -1 {
		return nil, fmt.Errorf("quant: invalid group size %d", cfg.GroupSize)
	}
	clip := cfg.ClipRatio
	if clip == 0 {
		clip = 1
	}
	if clip <= 0 || clip > 1 {
		return nil, fmt.Errorf("quant: clip ratio %g out of (0,1]", cfg.ClipRatio)
	}
	return &Quantizer{cfg: cfg, clip: clip}, nil
}

// Config returns the quantizer configuration.
func (q *Quantizer) Config() Config { return q.cfg }

// QuantizeVec writes the simulated quantization of x into dst. dst and
// x must have equal length and may alias.
func (q *Quantizer) QuantizeVec(dst, x []float64) {
	if len(dst) != len(x) {
		panic("quant: dst/x length mismatch")
	}
	if q.cfg.Bits == 16 {
		copy(dst, x)
		return
	}
	group := q.cfg.GroupSize
	if group == -1 || group > len(x) {
		group = len(x)
	}
	for start := 0; start < len(x); start += group {
		end := start + group
		if end > len(x) {
			end = len(x)
		}
		q.quantizeGroup(dst[start:end], x[start:end])
	}
}

// QuantizeMat returns the simulated quantization of m, applied row by
// row. Grouping never crosses a row boundary.
func (q *Quantizer) QuantizeMat(m *tensor.Mat) *tensor.Mat {
	out := tensor.NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		q.QuantizeVec(out.Row(i), m.Row(i))
	}
	return out
}

func (q *Quantizer) quantizeGroup(dst, x []float64) {
	if q.cfg.Sym {
		q.quantizeGroupSym(dst, x)
		return
	}
	q.quantizeGroupAsym(dst, x)
}

func (q *Quantizer) quantizeGroupSym(dst, x []float64) {
	maxq := float64(int(1)<<(q.cfg.Bits-1)) - 1
	absMax := tensor.AbsMax(x) * q.clip
	if absMax == 0 {
		clear(dst)
		return
	}
	scale := absMax / maxq
	lo, hi := -(maxq + 1), maxq
	for i, v := range x {
		qv := math.Round(v / scale)
		if qv < lo {
			qv = lo
		} else if qv > hi {
			qv = hi
		}
		dst[i] = qv * scale
	}
}

func (q *Quantizer) quantizeGroupAsym(dst, x []float64) {
	maxq := float64(int(1)<<q.cfg.Bits) - 1
	xmin, xmax := x[0], x[0]
	for _, v := range x[1:] {
		if v < xmin {
			xmin = v
		}
		if v > xmax {
			xmax = v
		}
	}
	xmin *= q.clip
	xmax *= q.clip
	if xmin > 0 {
		xmin = 0
	}
	if xmax < 0 {
		xmax = 0
	}
	if xmin == 0 && xmax == 0 {
		clear(dst)
		return
	}
	scale := (xmax - xmin) / maxq
	zero := math.Round(-xmin / scale)
	for i, v := range x {
		qv := math.Round(v/scale) + zero
		if qv < 0 {
			qv = 0
		} else if qv > maxq {
			qv = maxq
		}
		dst[i] = (qv - zero) * scale
	}
}

// MSE returns the mean squared error between a and b.
func MSE(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("quant: MSE length mismatch")
	}
	if len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(len(a))
}

// MatMSE returns the mean squared error between two matrices of equal
// shape.
func MatMSE(a, b *tensor.Mat) float64 {
	if a.R != b.R || a.C != b.C {
		panic("quant: MatMSE shape mismatch")
	}
	var sum float64
	n := 0
	for i := 0; i < a.R; i++ {
		ra, rb := a.Row(i), b.Row(i)
		for j := range ra {
			d := ra[j] - rb[j]
			sum += d * d
		}
		n += a.C
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
