package calib

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeDataset(t *testing.T, tokens []int32) string {
	t.Helper()
	buf := make([]byte, len(tokens)*4)
	for i, tok := range tokens {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(tok))
	}
	path := filepath.Join(t.TempDir(), "tokens.bin")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sequence(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(1000))
	spec := Spec{Dataset: path, Name: "test", Samples: 16, SeqLen: 64, Seed: 7}

	m1, err := Build(spec)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build(spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(m1.Samples) != 16 || len(m2.Samples) != 16 {
		t.Fatalf("sample counts %d, %d, want 16", len(m1.Samples), len(m2.Samples))
	}
	for i := range m1.Samples {
		if m1.Samples[i] != m2.Samples[i] {
			t.Fatalf("sample %d differs between identical specs", i)
		}
	}
	if m1.SHA256 != m2.SHA256 {
		t.Fatal("checksums differ for same dataset")
	}
}

func TestBuildSeedChangesSamples(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(1000))

	m1, err := Build(Spec{Dataset: path, Samples: 8, SeqLen: 32, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build(Spec{Dataset: path, Samples: 8, SeqLen: 32, Seed: 2})
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range m1.Samples {
		if m1.Samples[i] != m2.Samples[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical samples")
	}
}

func TestBuildWindowBounds(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(100))
	m, err := Build(Spec{Dataset: path, Samples: 50, SeqLen: 40, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range m.Samples {
		if s.Offset < 0 || s.Offset+s.Length > 100 {
			t.Fatalf("sample %d out of bounds: %+v", i, s)
		}
		if s.Length != 40 {
			t.Fatalf("sample %d length %d, want 40", i, s.Length)
		}
	}
}

func TestBuildRejectsShortDataset(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(10))
	if _, err := Build(Spec{Dataset: path, Samples: 1, SeqLen: 64, Seed: 0}); err == nil {
		t.Fatal("expected error for dataset shorter than seq_len")
	}
}

func TestBuildRejectsBadSpec(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(100))
	if _, err := Build(Spec{Dataset: path, Samples: 0, SeqLen: 8}); err == nil {
		t.Fatal("expected error for zero samples")
	}
	if _, err := Build(Spec{Dataset: path, Samples: 1, SeqLen: 0}); err == nil {
		t.Fatal("expected error for zero seq_len")
	}
}

func TestManifestRoundTripAndLoad(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(500))
	m, err := Build(Spec{Dataset: path, Name: "seq", Samples: 4, SeqLen: 16, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}

	manifestPath := filepath.Join(t.TempDir(), "calib", "manifest.json")
	if err := m.WriteFile(manifestPath); err != nil {
		t.Fatal(err)
	}
	back, err := ReadManifest(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	if back.SHA256 != m.SHA256 || back.Tokens != m.Tokens || len(back.Samples) != len(m.Samples) {
		t.Fatal("manifest round trip lost data")
	}

	windows, err := Load(back)
	if err != nil {
		t.Fatal(err)
	}
	for i, w := range windows {
		if len(w) != 16 {
			t.Fatalf("window %d length %d, want 16", i, len(w))
		}
		// The dataset is the sequence 0..499, so windows are ramps.
		for j := 1; j < len(w); j++ {
			if w[j] != w[j-1]+1 {
				t.Fatalf("window %d not contiguous at %d", i, j)
			}
		}
	}
}

func TestLoadDetectsTamperedDataset(t *testing.T) {
	t.Parallel()
	path := writeDataset(t, sequence(200))
	m, err := Build(Spec{Dataset: path, Samples: 2, SeqLen: 8, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}

	// Overwrite the dataset after the manifest was built.
	if err := os.WriteFile(path, make([]byte, 800), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(m); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
