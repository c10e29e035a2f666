package rotation

import (
	"math/rand"
	"testing"

	"github.com/samcharles93/dfrot/internal/tensor"
)

const orthTol = 1e-9

func TestRandomOrthogonal(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{4, 16, 33} {
		q, err := Random(n, rng)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if e := OrthogonalityError(q); e > orthTol {
			t.Fatalf("n=%d: orthogonality error %g", n, e)
		}
	}
}

func TestRandomSeedDeterminism(t *testing.T) {
	t.Parallel()
	q1, err := Random(8, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	q2, err := Random(8, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	for i := range q1.Data {
		if q1.Data[i] != q2.Data[i] {
			t.Fatal("same seed produced different rotations")
		}
	}
}

func TestGenerateDispatch(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(2))

	cases := []struct {
		mode Mode
		opts Options
	}{
		{ModeNone, Options{}},
		{ModeRandom, Options{}},
		{ModeHadamard, Options{}},
		{ModeHouseholder, Options{Indices: []int{3, 7}}},
		{ModeHadamardHouseholder, Options{}},
	}
	for _, tc := range cases {
		q, err := Generate(16, tc.mode, rng, tc.opts)
		if err != nil {
			t.Fatalf("mode %s: %v", tc.mode, err)
		}
		if !IsOrthogonal(q, orthTol) {
			t.Fatalf("mode %s: result not orthogonal", tc.mode)
		}
	}
}

func TestGenerateUnknownMode(t *testing.T) {
	t.Parallel()
	if _, err := Generate(8, Mode("bogus"), rand.New(rand.NewSource(3)), Options{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestGenerateHouseholderNeedsIndices(t *testing.T) {
	t.Parallel()
	if _, err := Generate(8, ModeHouseholder, rand.New(rand.NewSource(4)), Options{}); err == nil {
		t.Fatal("expected error without outlier indices")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for _, m := range Modes() {
		got, err := ParseMode(string(m))
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", m, err)
		}
		if got != m {
			t.Fatalf("ParseMode(%q) = %q", m, got)
		}
	}
	if _, err := ParseMode("qr"); err == nil {
		t.Fatal("expected error for unknown mode string")
	}
}

func TestGenerateNoneIsIdentity(t *testing.T) {
	t.Parallel()
	q, err := Generate(6, ModeNone, rand.New(rand.NewSource(5)), Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := tensor.Identity(6)
	for i := range q.Data {
		if q.Data[i] != want.Data[i] {
			t.Fatal("ModeNone did not produce the identity")
		}
	}
}
