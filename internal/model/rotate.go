package model

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/samcharles93/dfrot/internal/rotation"
	"github.com/samcharles93/dfrot/internal/tensor"
)

// RotateOptions controls the weight rotation pass.
type RotateOptions struct {
	// Workers bounds the matmul worker pool. Zero means GOMAXPROCS.
	Workers int

	// Heads additionally applies an exact per-head Hadamard transform
	// to the value and output projections.
	Heads bool
}

// orthoTol is the worst orthogonality error accepted for a rotation
// before applying it to weights.
const orthoTol = 1e-8

// Rotate applies the orthogonal matrix q to every weight touching the
// residual stream. Linear weights follow the HF [out, in] convention,
// so inputs read from the stream are rotated on the column side (W·Q)
// and outputs written to the stream on the row side (Qᵀ·W). The model
// must have its norms fused first; the function does not check that.
func (m *Model) Rotate(q *tensor.Mat, opts RotateOptions) error {
	hidden := m.Config.HiddenSize
	if q.R != hidden || q.C != hidden {
		return fmt.Errorf("model: rotation is %dx%d, hidden size is %d", q.R, q.C, hidden)
	}
	if !rotation.IsOrthogonal(q, orthoTol) {
		return fmt.Errorf("model: rotation is not orthogonal (error %.3e)", rotation.OrthogonalityError(q))
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	qT := q.Transpose()

	// Embedding rows are token vectors in the residual basis.
	if err := m.rotateInput(nameEmbed, q, workers); err != nil {
		return err
	}
	if err := m.rotateInput(nameLMHead, q, workers); err != nil {
		return err
	}

	for l := 0; l < m.Config.NumHiddenLayers; l++ {
		for _, suf := range []string{sufQProj, sufKProj, sufVProj, sufGateProj, sufUpProj} {
			if err := m.rotateInput(layerName(l, suf), q, workers); err != nil {
				return err
			}
		}
		for _, suf := range []string{sufOProj, sufDownProj} {
			if err := m.rotateOutput(layerName(l, suf), qT, workers); err != nil {
				return err
			}
		}
	}

	if opts.Heads {
		return m.rotateHeads()
	}
	return nil
}

// rotateInput replaces W with W·Q, rotating the feature dimension the
// weight reads from.
func (m *Model) rotateInput(name string, q *tensor.Mat, workers int) error {
	w, err := m.Weight(name)
	if err != nil {
		return err
	}
	if w.C != q.R {
		return fmt.Errorf("model: %s has %d input features, rotation is %dx%d", name, w.C, q.R, q.C)
	}
	out := tensor.NewMat(w.R, w.C)
	tensor.MatMul(out, w, q, workers)
	m.Weights[name] = out
	return nil
}

// rotateOutput replaces W with Qᵀ·W, rotating the feature dimension
// the weight writes to. A bias, if the checkpoint has one, lives in the
// same output basis and is rotated along.
func (m *Model) rotateOutput(name string, qT *tensor.Mat, workers int) error {
	w, err := m.Weight(name)
	if err != nil {
		return err
	}
	if w.R != qT.C {
		return fmt.Errorf("model: %s has %d output features, rotation is %dx%d", name, w.R, qT.C, qT.R)
	}
	out := tensor.NewMat(w.R, w.C)
	tensor.MatMul(out, qT, w, workers)
	m.Weights[name] = out

	if b, ok := m.Weights[biasName(name)]; ok {
		if b.C != qT.C {
			return fmt.Errorf("model: %s has %d elements, rotation is %dx%d", biasName(name), b.C, qT.R, qT.C)
		}
		rotated := make([]float64, b.C)
		for i := 0; i < qT.R; i++ {
			rotated[i] = tensor.Dot(qT.Row(i), b.Row(0))
		}
		copy(b.Row(0), rotated)
	}
	return nil
}

func biasName(weightName string) string {
	return strings.TrimSuffix(weightName, ".weight") + ".bias"
}

// rotateHeads applies an exact normalized Hadamard transform per head:
// the value projection output blocks become H·B and the matching
// output projection input blocks become B·Hᵀ, so the attention
// computation is unchanged while value activations are flattened.
func (m *Model) rotateHeads() error {
	hd := m.Config.HeadDim()
	h, err := rotation.HadamardMatrix(hd)
	if err != nil {
		return fmt.Errorf("model: head dim %d: %w", hd, err)
	}
	scale := 1 / math.Sqrt(float64(hd))
	for i := range h.Data {
		h.Data[i] *= scale
	}

	for l := 0; l < m.Config.NumHiddenLayers; l++ {
		v, err := m.LayerWeight(l, sufVProj)
		if err != nil {
			return err
		}
		if v.R != m.Config.NumKeyValueHeads*hd {
			return fmt.Errorf("model: layer %d v_proj has %d rows, want %d heads x %d", l, v.R, m.Config.NumKeyValueHeads, hd)
		}
		for head := 0; head < m.Config.NumKeyValueHeads; head++ {
			hadamardRows(v, head*hd, h)
		}
		if b, ok := m.Weights[biasName(layerName(l, sufVProj))]; ok {
			for head := 0; head < m.Config.NumKeyValueHeads; head++ {
				hadamardVec(b.Row(0)[head*hd:(head+1)*hd], h)
			}
		}

		o, err := m.LayerWeight(l, sufOProj)
		if err != nil {
			return err
		}
		if o.C != m.Config.NumAttentionHeads*hd {
			return fmt.Errorf("model: layer %d o_proj has %d cols, want %d heads x %d", l, o.C, m.Config.NumAttentionHeads, hd)
		}
		for head := 0; head < m.Config.NumAttentionHeads; head++ {
			hadamardCols(o, head*hd, h)
		}
	}
	return nil
}

// hadamardVec replaces x with h·x.
func hadamardVec(x []float64, h *tensor.Mat) {
	tmp := make([]float64, len(x))
	for i := range tmp {
		tmp[i] = tensor.Dot(h.Row(i), x)
	}
	copy(x, tmp)
}

// hadamardRows replaces the row block m[r0:r0+n] with h·block.
func hadamardRows(m *tensor.Mat, r0 int, h *tensor.Mat) {
	n := h.R
	tmp := make([]float64, n*m.C)
	for i := 0; i < n; i++ {
		dst := tmp[i*m.C : (i+1)*m.C]
		hrow := h.Row(i)
		for j := 0; j < n; j++ {
			src := m.Row(r0 + j)
			hij := hrow[j]
			for c := range src {
				dst[c] += hij * src[c]
			}
		}
	}
	for i := 0; i < n; i++ {
		copy(m.Row(r0+i), tmp[i*m.C:(i+1)*m.C])
	}
}

// hadamardCols replaces the column block m[:, c0:c0+n] with block·hᵀ.
func hadamardCols(m *tensor.Mat, c0 int, h *tensor.Mat) {
	n := h.R
	tmp := make([]float64, n)
	for r := 0; r < m.R; r++ {
		row := m.Row(r)
		for j := 0; j < n; j++ {
			hrow := h.Row(j)
			var sum float64
			for k := 0; k < n; k++ {
				sum += row[c0+k] * hrow[k]
			}
			tmp[j] = sum
		}
		copy(row[c0:c0+n], tmp)
	}
}
