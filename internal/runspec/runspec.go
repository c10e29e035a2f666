// Package runspec turns an experiment matrix into the shell scripts and
// YAML run configs a quantization evaluation pipeline consumes. The
// generators themselves are plain CPU-bound config emitters; GPU
// selection happens only inside the emitted scripts via
// CUDA_VISIBLE_DEVICES.
package runspec

import (
	"fmt"
	"path"
	"strings"

	"github.com/samcharles93/dfrot/internal/rotation"
)

// Experiment is one fully-specified run of the evaluation pipeline.
type Experiment struct {
	// Label is an optional human tag for the experiment family
	// (e.g. "QuaRot.FP16()").
	Label string `yaml:"label,omitempty"`

	Model string        `yaml:"model"`
	Mode  rotation.Mode `yaml:"rotate_mode"`

	WBits int `yaml:"w_bits"`
	ABits int `yaml:"a_bits"`
	VBits int `yaml:"v_bits"`
	KBits int `yaml:"k_bits"`

	WClip     float64 `yaml:"w_clip_ratio,omitempty"`
	AClip     float64 `yaml:"a_clip_ratio,omitempty"`
	GroupSize int     `yaml:"group_size,omitempty"`

	Seed        int64  `yaml:"seed"`
	Calibration string `yaml:"calibration,omitempty"`
	OutputDir   string `yaml:"output_dir"`
}

// Name returns a stable, filesystem-safe identifier for the experiment.
func (e Experiment) Name() string {
	model := strings.ToLower(path.Base(e.Model))
	mode := string(e.Mode)
	if mode == "" {
		mode = string(rotation.ModeNone)
	}
	name := fmt.Sprintf("%s.%s.w%da%dkv%d", model, mode, e.WBits, e.ABits, e.KBits)
	if e.Seed != 0 {
		name += fmt.Sprintf(".seed%d", e.Seed)
	}
	return name
}

// Validate rejects experiments the pipeline cannot run.
func (e Experiment) Validate() error {
	if e.Model == "" {
		return fmt.Errorf("runspec: experiment has no model")
	}
	if _, err := rotation.ParseMode(string(e.Mode)); err != nil {
		return err
	}
	for _, b := range []int{e.WBits, e.ABits, e.VBits, e.KBits} {
		if b != 16 && (b < 2 || b > 8) {
			return fmt.Errorf("runspec: experiment %s has invalid bit width %d", e.Name(), b)
		}
	}
	return nil
}

// Sweep is a cartesian experiment matrix.
type Sweep struct {
	Models []string
	Modes  []rotation.Mode
	WBits  []int
	ABits  []int
	KVBits []int
	Seeds  []int64

	WClip       float64
	AClip       float64
	GroupSize   int
	Calibration string
	OutputRoot  string
}

// Expand produces the full cartesian product in a deterministic order:
// models, then modes, then weight bits, activation bits, kv bits,
// seeds.
func (s Sweep) Expand() []Experiment {
	seeds := s.Seeds
	if len(seeds) == 0 {
		seeds = []int64{0}
	}
	kvBits := s.KVBits
	if len(kvBits) == 0 {
		kvBits = []int{16}
	}

	var out []Experiment
	for _, model := range s.Models {
		for _, mode := range s.Modes {
			for _, w := range s.WBits {
				for _, a := range s.ABits {
					for _, kv := range kvBits {
						for _, seed := range seeds {
							e := Experiment{
								Model:       model,
								Mode:        mode,
								WBits:       w,
								ABits:       a,
								VBits:       kv,
								KBits:       kv,
								WClip:       s.WClip,
								AClip:       s.AClip,
								GroupSize:   s.GroupSize,
								Seed:        seed,
								Calibration: s.Calibration,
							}
							e.OutputDir = path.Join(s.OutputRoot, e.Name())
							out = append(out, e)
						}
					}
				}
			}
		}
	}
	return out
}

// RotationSweep is the default matrix for the rotation comparison:
// random, Hadamard and Procrustes-refined rotations at the usual W4A4
// operating point.
func RotationSweep(models []string, calibration, outputRoot string) Sweep {
	return Sweep{
		Models: models,
		Modes: []rotation.Mode{
			rotation.ModeRandom,
			rotation.ModeHadamard,
			rotation.ModeOrthogonalProcrustes,
		},
		WBits:       []int{4},
		ABits:       []int{4},
		KVBits:      []int{4, 16},
		WClip:       0.9,
		AClip:       0.9,
		Calibration: calibration,
		OutputRoot:  outputRoot,
	}
}

// SeparateBaseline produces the QuaRot.FP16() reference runs: weights
// Hadamard-rotated and quantized, activations and KV cache left at
// FP16.
func SeparateBaseline(models []string, calibration, outputRoot string) []Experiment {
	var out []Experiment
	for _, model := range models {
		for _, w := range []int{4, 8} {
			e := Experiment{
				Label:       "QuaRot.FP16()",
				Model:       model,
				Mode:        rotation.ModeHadamard,
				WBits:       w,
				ABits:       16,
				VBits:       16,
				KBits:       16,
				WClip:       0.9,
				Calibration: calibration,
			}
			e.OutputDir = path.Join(outputRoot, e.Name())
			out = append(out, e)
		}
	}
	return out
}

// VanillaBaseline produces no-rotation runs, the reference every
// rotated configuration is measured against.
func VanillaBaseline(models []string, outputRoot string) []Experiment {
	var out []Experiment
	for _, model := range models {
		for _, bits := range []int{4, 8, 16} {
			e := Experiment{
				Model: model,
				Mode:  rotation.ModeNone,
				WBits: bits,
				ABits: bits,
				VBits: bits,
				KBits: bits,
			}
			e.OutputDir = path.Join(outputRoot, e.Name())
			out = append(out, e)
		}
	}
	return out
}
