package quant

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/dfrot/internal/tensor"
)

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{Bits: 1},
		{Bits: 9},
		{Bits: 0},
		{Bits: 4, GroupSize: 0},
		{Bits: 4, GroupSize: -2},
		{Bits: 4, GroupSize: -1, ClipRatio: -0.5},
		{Bits: 4, GroupSize: -1, ClipRatio: 1.5},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("config %+v: expected error", cfg)
		}
	}
}

func TestPassthrough16Bit(t *testing.T) {
	t.Parallel()
	q, err := New(Config{Bits: 16, GroupSize: -1})
	if err != nil {
		t.Fatal(err)
	}
	x := []float64{0.1, -3.7, 42, 0}
	dst := make([]float64, len(x))
	q.QuantizeVec(dst, x)
	for i := range x {
		if dst[i] != x[i] {
			t.Fatalf("16-bit passthrough changed element %d: %g -> %g", i, x[i], dst[i])
		}
	}
}

func TestSymmetricRoundTripError(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(31))
	x := make([]float64, 256)
	for i := range x {
		x[i] = rng.NormFloat64()
	}

	for _, bits := range []int{2, 4, 8} {
		q, err := New(Config{Bits: bits, Sym: true, GroupSize: -1})
		if err != nil {
			t.Fatal(err)
		}
		dst := make([]float64, len(x))
		q.QuantizeVec(dst, x)

		// Error bounded by half a quantization step.
		maxq := float64(int(1)<<(bits-1)) - 1
		step := tensor.AbsMax(x) / maxq
		for i := range x {
			if d := math.Abs(dst[i] - x[i]); d > step/2+1e-12 {
				t.Fatalf("bits=%d: element %d error %g exceeds step/2 %g", bits, i, d, step/2)
			}
		}
	}
}

func TestAsymmetricCoversRange(t *testing.T) {
	t.Parallel()
	q, err := New(Config{Bits: 4, GroupSize: -1})
	if err != nil {
		t.Fatal(err)
	}
	// Skewed positive range where symmetric quantization wastes half
	// the grid.
	x := []float64{0.1, 0.2, 0.5, 0.9, 1.0, 0.05, 0.72, 0.33}
	dst := make([]float64, len(x))
	q.QuantizeVec(dst, x)

	if m := MSE(dst, x); m > 2e-3 {
		t.Fatalf("asymmetric MSE %g too large for skewed input", m)
	}
}

func TestAsymmetricBeatsSymmetricOnSkewedData(t *testing.T) {
	t.Parallel()
	x := make([]float64, 128)
	rng := rand.New(rand.NewSource(32))
	for i := range x {
		x[i] = 1 + 0.2*rng.Float64() // all positive, far from zero
	}

	sym, _ := New(Config{Bits: 3, Sym: true, GroupSize: -1})
	asym, _ := New(Config{Bits: 3, GroupSize: -1})

	ds := make([]float64, len(x))
	da := make([]float64, len(x))
	sym.QuantizeVec(ds, x)
	asym.QuantizeVec(da, x)

	if MSE(da, x) >= MSE(ds, x) {
		t.Fatalf("asymmetric (%g) should beat symmetric (%g) on skewed data", MSE(da, x), MSE(ds, x))
	}
}

func TestGroupwiseScales(t *testing.T) {
	t.Parallel()
	// Two groups with wildly different ranges; group-wise scaling must
	// keep the small group accurate.
	x := make([]float64, 64)
	for i := 0; i < 32; i++ {
		x[i] = 0.01 * float64(i%7)
	}
	for i := 32; i < 64; i++ {
		x[i] = 100 * float64(i%5)
	}

	grouped, _ := New(Config{Bits: 4, Sym: true, GroupSize: 32})
	whole, _ := New(Config{Bits: 4, Sym: true, GroupSize: -1})

	dg := make([]float64, len(x))
	dw := make([]float64, len(x))
	grouped.QuantizeVec(dg, x)
	whole.QuantizeVec(dw, x)

	if MSE(dg[:32], x[:32]) >= MSE(dw[:32], x[:32]) {
		t.Fatal("group-wise scaling should preserve the small-range group better")
	}
}

func TestZeroInputQuantizesToZero(t *testing.T) {
	t.Parallel()
	for _, sym := range []bool{true, false} {
		q, err := New(Config{Bits: 4, Sym: sym, GroupSize: -1})
		if err != nil {
			t.Fatal(err)
		}
		x := make([]float64, 16)
		dst := make([]float64, 16)
		for i := range dst {
			dst[i] = 99
		}
		q.QuantizeVec(dst, x)
		for i, v := range dst {
			if v != 0 {
				t.Fatalf("sym=%v: zero input produced %g at %d", sym, v, i)
			}
		}
	}
}

func TestClipRatioShrinksScale(t *testing.T) {
	t.Parallel()
	x := []float64{10, 0.1, -0.2, 0.3, -0.1, 0.2, 0.15, -0.25}

	full, _ := New(Config{Bits: 4, Sym: true, GroupSize: -1})
	clipped, _ := New(Config{Bits: 4, Sym: true, GroupSize: -1, ClipRatio: 0.5})

	df := make([]float64, len(x))
	dc := make([]float64, len(x))
	full.QuantizeVec(df, x)
	clipped.QuantizeVec(dc, x)

	// Clipping halves the representable range, so the bulk of small
	// values quantizes more accurately at the cost of the outlier.
	if MSE(dc[1:], x[1:]) >= MSE(df[1:], x[1:]) {
		t.Fatal("clip ratio should improve accuracy of non-outlier values")
	}
}

func TestQuantizeMatShape(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(33))
	m := tensor.NewMat(6, 10)
	tensor.FillRandn(m, rng)

	q, _ := New(Config{Bits: 4, Sym: true, GroupSize: 5})
	out := q.QuantizeMat(m)
	if out.R != m.R || out.C != m.C {
		t.Fatalf("shape changed: %dx%d -> %dx%d", m.R, m.C, out.R, out.C)
	}
}
