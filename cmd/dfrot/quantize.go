package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/model"
	"github.com/samcharles93/dfrot/internal/quant"
	"github.com/samcharles93/dfrot/internal/rotation"
	"github.com/samcharles93/dfrot/internal/store"
)

func quantizeCmd() *cli.Command {
	var (
		modelDir   string
		modelsPath string
		out        string
		bits       int64
		sym        bool
		groupSize  int64
		clip       float64
		mode       string
		seed       int64
		label      string
		dbPath     string
		noRecord   bool
	)

	return &cli.Command{
		Name:  "quantize",
		Usage: "RTN-quantize a checkpoint's linear weights and record the run",
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
				Usage:       "output checkpoint directory (omit for a dry run)",
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "bits",
				Aliases:     []string{"b"},
				Usage:       "weight bit width (2-8, 16 for passthrough)",
				Value:       4,
				Destination: &bits,
			},
			&cli.BoolFlag{
				Name:        "sym",
				Usage:       "symmetric quantization (no zero point)",
				Destination: &sym,
			},
			&cli.Int64Flag{
				Name:        "group-size",
				Usage:       "elements per quantization group (-1 for per-row)",
				Value:       -1,
				Destination: &groupSize,
			},
			&cli.Float64Flag{
				Name:        "clip",
				Usage:       "clip ratio applied to the observed range",
				Value:       1.0,
				Destination: &clip,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "rotation mode recorded with the run",
				Value:       string(rotation.ModeNone),
				Destination: &mode,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "rotation seed recorded with the run",
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "label",
				Usage:       "run label",
				Destination: &label,
			},
			&cli.StringFlag{
				Name:        "db",
				Usage:       "run database path",
				Destination: &dbPath,
			},
			&cli.BoolFlag{
				Name:        "no-record",
				Usage:       "skip recording the run in the database",
				Destination: &noRecord,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			if _, err := rotation.ParseMode(mode); err != nil {
				return err
			}
			dir, err := resolveModelDir(modelDir, modelsPath)
			if err != nil {
				return err
			}

			qz, err := quant.New(quant.Config{
				Bits:      int(bits),
				Sym:       sym,
				GroupSize: int(groupSize),
				ClipRatio: clip,
			})
			if err != nil {
				return err
			}

			log.Info("loading checkpoint", "dir", dir)
			m, err := model.Load(dir)
			if err != nil {
				return err
			}

			var (
				runs *store.Store
				run  store.Run
			)
			if !noRecord {
				path, err := resolveDatabasePath(dbPath)
				if err != nil {
					return err
				}
				if runs, err = store.Open(path); err != nil {
					return err
				}
				defer func() { _ = runs.Close() }()

				run, err = runs.Create(ctx, store.Run{
					Label:     label,
					Model:     filepath.Base(dir),
					Mode:      mode,
					WBits:     int(bits),
					ABits:     16,
					KBits:     16,
					VBits:     16,
					GroupSize: int(groupSize),
					Seed:      seed,
				})
				if err != nil {
					return err
				}
				if err := runs.SetStatus(ctx, run.ID, store.StatusRunning, nil); err != nil {
					return err
				}
			}

			var (
				meanMSE float64
				maxMSE  float64
				count   int
			)
			for name, w := range m.Weights {
				if !quantizable(name) {
					continue
				}
				quantized := qz.QuantizeMat(w)
				mse := quant.MatMSE(w, quantized)
				if mse > maxMSE {
					maxMSE = mse
				}
				meanMSE += mse
				count++
				m.Weights[name] = quantized
				log.Debug("quantized tensor", "name", name, "mse", mse)
			}
			if count > 0 {
				meanMSE /= float64(count)
			}
			log.Info("quantized weights",
				"tensors", count, "bits", bits, "mean_mse", meanMSE, "max_mse", maxMSE)

			if out != "" {
				outDir, _, err := resolveOutDir(out)
				if err != nil {
					return err
				}
				if err := m.Save(filepath.Join(outDir, "model.safetensors")); err != nil {
					return err
				}
				if err := copyConfigJSON(dir, outDir); err != nil {
					return err
				}
				log.Info("wrote quantized checkpoint", "dir", outDir)
			}

			if runs != nil {
				metrics := map[string]float64{
					"mean_mse": meanMSE,
					"max_mse":  maxMSE,
					"tensors":  float64(count),
				}
				if err := runs.SetStatus(ctx, run.ID, store.StatusCompleted, metrics); err != nil {
					return err
				}
				fmt.Printf("run %s recorded\n", run.ID)
			}
			return nil
		},
	}
}

// quantizable reports whether a tensor is a linear projection weight.
// Embeddings, the head and the norm vectors stay at full precision.
func quantizable(name string) bool {
	for _, suf := range []string{
		".q_proj.weight", ".k_proj.weight", ".v_proj.weight", ".o_proj.weight",
		".gate_proj.weight", ".up_proj.weight", ".down_proj.weight",
	} {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

