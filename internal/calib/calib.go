// Package calib builds calibration manifests: seeded samples of
// fixed-length token windows drawn from a tokenized dataset. The
// manifest pins everything a downstream run needs to reproduce the
// exact calibration set (dataset checksum, seed, window offsets), so
// two machines running the same sweep fit rotations against identical
// data.
package calib

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Spec describes how a calibration set is drawn.
type Spec struct {
	// Dataset is the path to a little-endian int32 token-id file.
	Dataset string `json:"dataset"`
	// Name is a human label for the dataset (e.g. "wikitext2").
	Name string `json:"name"`
	// Samples is the number of windows to draw.
	Samples int `json:"samples"`
	// SeqLen is the window length in tokens.
	SeqLen int `json:"seq_len"`
	// Seed drives the window sampling.
	Seed int64 `json:"seed"`
}

// Sample is one window into the dataset, in token units.
type Sample struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Manifest pins a reproducible calibration set.
type Manifest struct {
	Spec Spec `json:"spec"`
	// Tokens is the dataset length in tokens.
	Tokens int `json:"tokens"`
	// SHA256 is the hex digest of the dataset file.
	SHA256  string   `json:"sha256"`
	Samples []Sample `json:"samples"`
}

const tokenBytes = 4

// Build draws Spec.Samples windows of Spec.SeqLen tokens from the
// dataset using the spec seed. Identical specs always produce identical
// manifests.
func Build(spec Spec) (*Manifest, error) {
	if spec.Samples <= 0 {
		return nil, fmt.Errorf("calib: samples must be positive, got %d", spec.Samples)
	}
	if spec.SeqLen <= 0 {
		return nil, fmt.Errorf("calib: seq_len must be positive, got %d", spec.SeqLen)
	}

	f, err := os.Open(spec.Dataset)
	if err != nil {
		return nil, fmt.Errorf("calib: open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size()%tokenBytes != 0 {
		return nil, fmt.Errorf("calib: dataset size %d is not a multiple of %d", st.Size(), tokenBytes)
	}
	tokens := int(st.Size() / tokenBytes)
	if tokens < spec.SeqLen {
		return nil, fmt.Errorf("calib: dataset has %d tokens, need at least %d", tokens, spec.SeqLen)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("calib: checksum dataset: %w", err)
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	samples := make([]Sample, spec.Samples)
	maxStart := tokens - spec.SeqLen
	for i := range samples {
		samples[i] = Sample{
			Offset: rng.Intn(maxStart + 1),
			Length: spec.SeqLen,
		}
	}

	return &Manifest{
		Spec:    spec,
		Tokens:  tokens,
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		Samples: samples,
	}, nil
}

// WriteFile writes the manifest as JSON, creating parent directories.
func (m *Manifest) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadManifest loads a manifest written by WriteFile.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("calib: parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Load materialises the sampled windows from the dataset, verifying the
// checksum first.
func Load(m *Manifest) ([][]int32, error) {
	data, err := os.ReadFile(m.Spec.Dataset)
	if err != nil {
		return nil, fmt.Errorf("calib: read dataset: %w", err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != m.SHA256 {
		return nil, fmt.Errorf("calib: dataset %s does not match manifest checksum", m.Spec.Dataset)
	}

	tokens := len(data) / tokenBytes
	out := make([][]int32, len(m.Samples))
	for i, s := range m.Samples {
		if s.Offset < 0 || s.Length <= 0 || s.Offset+s.Length > tokens {
			return nil, fmt.Errorf("calib: sample %d out of range (offset %d, length %d, dataset %d tokens)",
				i, s.Offset, s.Length, tokens)
		}
		window := make([]int32, s.Length)
		for j := 0; j < s.Length; j++ {
			off := (s.Offset + j) * tokenBytes
			window[j] = int32(binary.LittleEndian.Uint32(data[off:]))
		}
		out[i] = window
	}
	return out, nil
}
