package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/dfrot/internal/safetensors"
	"github.com/samcharles93/dfrot/internal/tensor"
)

// Model holds a checkpoint's configuration and weights in float64.
// Weight matrices keep the HF convention: linear weights are
// [out_features, in_features], embeddings are [vocab, hidden].
type Model struct {
	Config  Config
	Arch    Arch
	Weights map[string]*tensor.Mat

	// shapes remembers the original tensor shapes so 1-d tensors
	// round-trip through the 2-d Mat representation.
	shapes map[string][]int
}

// Load reads config.json and every *.safetensors file in dir.
func Load(dir string) (*Model, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	arch, err := DetectArch(cfg.ModelType)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var shards []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".safetensors") {
			shards = append(shards, filepath.Join(dir, e.Name()))
		}
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("model: no safetensors files in %s", dir)
	}
	sort.Strings(shards)

	m := &Model{
		Config:  cfg,
		Arch:    arch,
		Weights: make(map[string]*tensor.Mat),
		shapes:  make(map[string][]int),
	}
	for _, shard := range shards {
		if err := m.loadShard(shard); err != nil {
			return nil, err
		}
	}

	// Qwen2 checkpoints with tied embeddings ship no lm_head tensor;
	// materialise it so head rotation has something to act on.
	if cfg.TieWordEmbeddings {
		if _, ok := m.Weights[nameLMHead]; !ok {
			embed, err := m.Weight(nameEmbed)
			if err != nil {
				return nil, err
			}
			m.Weights[nameLMHead] = embed.Clone()
			m.shapes[nameLMHead] = append([]int(nil), m.shapes[nameEmbed]...)
		}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) loadShard(path string) error {
	f, err := safetensors.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, name := range f.Names() {
		vals, info, err := f.Float64s(name)
		if err != nil {
			return err
		}
		if _, dup := m.Weights[name]; dup {
			return fmt.Errorf("model: tensor %s appears in multiple shards", name)
		}
		r, c, err := matShape(info.Shape)
		if err != nil {
			return fmt.Errorf("model: tensor %s: %w", name, err)
		}
		m.Weights[name] = tensor.NewMatFromData(r, c, vals)
		m.shapes[name] = append([]int(nil), info.Shape...)
	}
	return nil
}

func matShape(shape []int) (r, c int, err error) {
	switch len(shape) {
	case 1:
		return 1, shape[0], nil
	case 2:
		return shape[0], shape[1], nil
	default:
		return 0, 0, fmt.Errorf("unsupported rank %d", len(shape))
	}
}

func (m *Model) validate() error {
	required := []string{nameEmbed, nameFinalNorm, nameLMHead}
	for l := 0; l < m.Config.NumHiddenLayers; l++ {
		for _, suf := range []string{
			sufQProj, sufKProj, sufVProj, sufOProj,
			sufGateProj, sufUpProj, sufDownProj,
			sufInputLN, sufPostLN,
		} {
			required = append(required, layerName(l, suf))
		}
	}
	for _, name := range required {
		if _, ok := m.Weights[name]; !ok {
			return fmt.Errorf("model: missing tensor %s", name)
		}
	}
	return nil
}

// Weight returns a named tensor.
func (m *Model) Weight(name string) (*tensor.Mat, error) {
	w, ok := m.Weights[name]
	if !ok {
		return nil, fmt.Errorf("model: missing tensor %s", name)
	}
	return w, nil
}

// LayerWeight returns a per-layer tensor by suffix.
func (m *Model) LayerWeight(layer int, suffix string) (*tensor.Mat, error) {
	return m.Weight(layerName(layer, suffix))
}

// Save writes the model weights to a single safetensors file.
func (m *Model) Save(path string) error {
	tensors := make([]safetensors.Tensor, 0, len(m.Weights))
	for name, w := range m.Weights {
		shape := m.shapes[name]
		if shape == nil {
			shape = []int{w.R, w.C}
		}
		tensors = append(tensors, safetensors.Tensor{
			Name:  name,
			Shape: shape,
			Data:  w.Data,
		})
	}
	return safetensors.Write(path, tensors, map[string]string{"format": "pt"})
}
