package model

import (
	"fmt"
	"math"
)

// fuseNormInto folds an RMSNorm scale vector into the input dimension
// of the given linear weights and resets the norm to ones. After the
// fold the residual stream carries unscaled activations, which is the
// precondition for a global rotation commuting with the norms.
func (m *Model) fuseNormInto(normName string, linearNames []string) error {
	norm, err := m.Weight(normName)
	if err != nil {
		return err
	}
	if norm.R != 1 {
		return fmt.Errorf("model: norm %s is not a vector", normName)
	}
	scale := norm.Row(0)

	for _, linName := range linearNames {
		w, err := m.Weight(linName)
		if err != nil {
			return err
		}
		if w.C != len(scale) {
			return fmt.Errorf("model: %s has %d input features, norm %s has %d", linName, w.C, normName, len(scale))
		}
		for i := 0; i < w.R; i++ {
			row := w.Row(i)
			for j := range row {
				row[j] *= scale[j]
			}
		}
	}

	for j := range scale {
		scale[j] = 1
	}
	return nil
}

// FuseLayerNorms folds every RMSNorm scale into the adjacent linear
// layers: input norms into q/k/v, post-attention norms into gate/up and
// the final norm into the lm_head. The model computes the same function
// afterwards with all norm weights set to one.
func (m *Model) FuseLayerNorms() error {
	for l := 0; l < m.Config.NumHiddenLayers; l++ {
		if err := m.fuseNormInto(layerName(l, sufInputLN), []string{
			layerName(l, sufQProj),
			layerName(l, sufKProj),
			layerName(l, sufVProj),
		}); err != nil {
			return err
		}
		if err := m.fuseNormInto(layerName(l, sufPostLN), []string{
			layerName(l, sufUpProj),
			layerName(l, sufGateProj),
		}); err != nil {
			return err
		}
	}
	return m.fuseNormInto(nameFinalNorm, []string{nameLMHead})
}

// RMSNorm applies root-mean-square normalization of src scaled by
// weight into dst. dst and src must have equal length.
func RMSNorm(dst, src, weight []float64, eps float64) {
	var sum float64
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float64(len(src))
	scale := 1 / math.Sqrt(mean+eps)
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}
