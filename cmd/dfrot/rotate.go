package main

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/model"
	"github.com/samcharles93/dfrot/internal/outlier"
	"github.com/samcharles93/dfrot/internal/rotation"
	"github.com/samcharles93/dfrot/internal/safetensors"
	"github.com/samcharles93/dfrot/internal/tensor"
)

func rotateCmd() *cli.Command {
	var (
		modelDir    string
		modelsPath  string
		out         string
		mode        string
		seed        int64
		workers     int64
		headHad     bool
		activations string
		actTensor   string
		indices     string
		refineIters int64
		refineBits  int64
	)

	return &cli.Command{
		Name:  "rotate",
		Usage: "Fuse norms into the linear layers and rotate a checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "checkpoint directory (config.json + safetensors)",
				Destination: &modelDir,
			},
			&cli.StringFlag{
				Name:        "models-path",
				Usage:       "directory containing checkpoints",
				Destination: &modelsPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output checkpoint directory",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "rotation mode (none, random, hadamard, householder, hadamard_householder, orthogonal_procrustes)",
				Value:       string(rotation.ModeHadamard),
				Destination: &mode,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "rotation seed",
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "matmul workers (0 = all CPUs)",
				Destination: &workers,
			},
			&cli.BoolFlag{
				Name:        "head-hadamard",
				Usage:       "apply the exact per-head Hadamard to v_proj/o_proj",
				Value:       true,
				Destination: &headHad,
			},
			&cli.StringFlag{
				Name:        "activations",
				Usage:       "safetensors file of calibration activations (procrustes mode)",
				Destination: &activations,
			},
			&cli.StringFlag{
				Name:        "activations-tensor",
				Usage:       "tensor name inside the activations file",
				Value:       "activations",
				Destination: &actTensor,
			},
			&cli.StringFlag{
				Name:        "indices",
				Usage:       "comma-separated outlier channel indices (householder mode; default: scanned from the embeddings)",
				Destination: &indices,
			},
			&cli.Int64Flag{
				Name:        "refine-iters",
				Usage:       "refinement iterations (procrustes mode)",
				Value:       32,
				Destination: &refineIters,
			},
			&cli.Int64Flag{
				Name:        "refine-bits",
				Usage:       "simulated activation bits the refinement optimises for",
				Value:       4,
				Destination: &refineBits,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyWorkersConfig(cmd, LoadConfig(), &workers)

			rotMode, err := rotation.ParseMode(mode)
			if err != nil {
				return err
			}
			dir, err := resolveModelDir(modelDir, modelsPath)
			if err != nil {
				return err
			}
			outDir, _, err := resolveOutDir(out)
			if err != nil {
				return err
			}

			log.Info("loading checkpoint", "dir", dir)
			m, err := model.Load(dir)
			if err != nil {
				return err
			}
			log.Info("fusing norms", "layers", m.Config.NumHiddenLayers)
			if err := m.FuseLayerNorms(); err != nil {
				return err
			}

			opts := rotation.Options{
				Refine: rotation.RefineConfig{
					Bits:  int(refineBits),
					Iters: int(refineIters),
				},
			}
			if activations != "" {
				opts.Activations, err = loadActivations(activations, actTensor)
				if err != nil {
					return err
				}
			}
			switch rotMode {
			case rotation.ModeHouseholder:
				if indices != "" {
					if opts.Indices, err = splitInts(indices); err != nil {
						return err
					}
				} else {
					opts.Indices, err = scanOutlierChannels(m)
					if err != nil {
						return err
					}
					log.Info("using scanned outlier channels", "indices", opts.Indices)
				}
			}

			rng := rand.New(rand.NewSource(seed))
			q, err := rotation.Generate(m.Config.HiddenSize, rotMode, rng, opts)
			if err != nil {
				return err
			}
			log.Info("generated rotation",
				"mode", rotMode, "size", m.Config.HiddenSize,
				"orthogonality_error", rotation.OrthogonalityError(q))

			if err := m.Rotate(q, model.RotateOptions{Workers: int(workers), Heads: headHad}); err != nil {
				return err
			}

			if err := m.Save(filepath.Join(outDir, "model.safetensors")); err != nil {
				return err
			}
			if err := copyConfigJSON(dir, outDir); err != nil {
				return err
			}
			if err := saveRotation(filepath.Join(outDir, "rotation.safetensors"), q); err != nil {
				return err
			}
			log.Info("wrote rotated checkpoint", "dir", outDir)
			return nil
		},
	}
}

// loadActivations reads a calibration activation matrix from a
// safetensors file.
func loadActivations(path, name string) (*tensor.Mat, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	vals, info, err := f.Float64s(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("activations tensor %s has rank %d, want 2", name, len(info.Shape))
	}
	return tensor.NewMatFromData(info.Shape[0], info.Shape[1], vals), nil
}

// scanOutlierChannels finds the worst channels of the embedding matrix
// as a stand-in for activation statistics.
func scanOutlierChannels(m *model.Model) ([]int, error) {
	embed, err := m.Weight("model.embed_tokens.weight")
	if err != nil {
		return nil, err
	}
	report := outlier.Analyze(embed, outlier.Config{})
	if len(report.TopK) == 0 {
		return nil, fmt.Errorf("no outlier channels found in embeddings")
	}
	return report.TopK, nil
}

func saveRotation(path string, q *tensor.Mat) error {
	return safetensors.Write(path, []safetensors.Tensor{{
		Name:  "rotation",
		Shape: []int{q.R, q.C},
		Data:  q.Data,
	}}, nil)
}
