// Package model loads transformer checkpoints, fuses their norm scales
// into adjacent linear layers and applies orthogonal rotations to the
// weights. It understands the llama-family layout (LLaMA, Mistral,
// Qwen2), which share tensor naming and a pre-norm RMSNorm structure.
package model

import (
	"fmt"
	"strings"
)

// Arch identifies a supported model family.
type Arch string

const (
	ArchLlama   Arch = "llama"
	ArchMistral Arch = "mistral"
	ArchQwen2   Arch = "qwen2"
)

// DetectArch maps a HF config model_type to a supported Arch.
func DetectArch(modelType string) (Arch, error) {
	switch strings.ToLower(modelType) {
	case "llama":
		return ArchLlama, nil
	case "mistral":
		return ArchMistral, nil
	case "qwen2":
		return ArchQwen2, nil
	default:
		return "", fmt.Errorf("model: unknown model type %q", modelType)
	}
}

// Tensor names shared by the llama family.
const (
	nameEmbed     = "model.embed_tokens.weight"
	nameFinalNorm = "model.norm.weight"
	nameLMHead    = "lm_head.weight"
)

func layerName(layer int, suffix string) string {
	return fmt.Sprintf("model.layers.%d.%s", layer, suffix)
}

// Per-layer tensor suffixes.
const (
	sufQProj    = "self_attn.q_proj.weight"
	sufKProj    = "self_attn.k_proj.weight"
	sufVProj    = "self_attn.v_proj.weight"
	sufOProj    = "self_attn.o_proj.weight"
	sufGateProj = "mlp.gate_proj.weight"
	sufUpProj   = "mlp.up_proj.weight"
	sufDownProj = "mlp.down_proj.weight"
	sufInputLN  = "input_layernorm.weight"
	sufPostLN   = "post_attention_layernorm.weight"
)
