package outlier

import (
	"math/rand"
	"testing"

	"github.com/samcharles93/dfrot/internal/tensor"
)

func noisyMat(r, c int, seed int64) *tensor.Mat {
	m := tensor.NewMat(r, c)
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = rng.NormFloat64() * 0.1
	}
	return m
}

func TestAnalyzeFindsMassiveChannels(t *testing.T) {
	t.Parallel()
	x := noisyMat(32, 16, 1)
	x.Set(3, 5, 500)
	x.Set(10, 12, -800)

	rep := Analyze(x, Config{})

	if len(rep.Massive) != 2 {
		t.Fatalf("massive channels = %v, want exactly channels 12 and 5", rep.Massive)
	}
	if rep.Massive[0] != 12 || rep.Massive[1] != 5 {
		t.Fatalf("massive channels = %v, want [12 5] worst first", rep.Massive)
	}
}

func TestAnalyzeTopKOrdering(t *testing.T) {
	t.Parallel()
	x := noisyMat(16, 8, 2)
	x.Set(0, 2, 50)
	x.Set(1, 6, 75)
	x.Set(2, 0, 25)

	rep := Analyze(x, Config{TopK: 3})
	want := []int{6, 2, 0}
	if len(rep.TopK) != len(want) {
		t.Fatalf("topK = %v, want %v", rep.TopK, want)
	}
	for i := range want {
		if rep.TopK[i] != want[i] {
			t.Fatalf("topK = %v, want %v", rep.TopK, want)
		}
	}
}

func TestAnalyzeTopKClamped(t *testing.T) {
	t.Parallel()
	x := noisyMat(4, 3, 3)
	rep := Analyze(x, Config{TopK: 10})
	if len(rep.TopK) != 3 {
		t.Fatalf("topK length %d, want 3", len(rep.TopK))
	}
}

func TestAnalyzeNoMassiveOnUniformData(t *testing.T) {
	t.Parallel()
	x := noisyMat(64, 32, 4)
	rep := Analyze(x, Config{})
	if len(rep.Massive) != 0 {
		t.Fatalf("uniform data flagged massive channels %v", rep.Massive)
	}
	if rep.MedianAbsMax <= 0 {
		t.Fatalf("median absmax %g, want positive", rep.MedianAbsMax)
	}
}

func TestAnalyzeRatios(t *testing.T) {
	t.Parallel()
	x := tensor.NewMat(2, 3)
	x.Set(0, 0, 1)
	x.Set(0, 1, 2)
	x.Set(1, 2, 4)

	rep := Analyze(x, Config{})
	// absmax per channel: 1, 2, 4; median 2.
	if rep.MedianAbsMax != 2 {
		t.Fatalf("median = %g, want 2", rep.MedianAbsMax)
	}
	if rep.Channels[2].Ratio != 2 {
		t.Fatalf("channel 2 ratio = %g, want 2", rep.Channels[2].Ratio)
	}
}
