package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/rotation"
	"github.com/samcharles93/dfrot/internal/runspec"
)

func generateCmd() *cli.Command {
	var (
		models      string
		modes       string
		wBits       string
		aBits       string
		kvBits      string
		seeds       string
		wClip       float64
		aClip       float64
		groupSize   int64
		calibration string
		out         string
		pipeline    string
		devices     string
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate evaluation scripts for a rotation sweep",
		Flags: append(renderFlags(&out, &pipeline, &devices),
			&cli.StringFlag{
				Name:        "models",
				Aliases:     []string{"m"},
				Usage:       "comma-separated model names",
				Destination: &models,
			},
			&cli.StringFlag{
				Name:        "modes",
				Usage:       "comma-separated rotation modes (default: random,hadamard,orthogonal_procrustes)",
				Destination: &modes,
			},
			&cli.StringFlag{
				Name:        "w-bits",
				Usage:       "comma-separated weight bit widths",
				Value:       "4",
				Destination: &wBits,
			},
			&cli.StringFlag{
				Name:        "a-bits",
				Usage:       "comma-separated activation bit widths",
				Value:       "4",
				Destination: &aBits,
			},
			&cli.StringFlag{
				Name:        "kv-bits",
				Usage:       "comma-separated KV cache bit widths",
				Value:       "4,16",
				Destination: &kvBits,
			},
			&cli.StringFlag{
				Name:        "seeds",
				Usage:       "comma-separated rotation seeds",
				Destination: &seeds,
			},
			&cli.Float64Flag{
				Name:        "w-clip",
				Usage:       "weight clip ratio",
				Value:       0.9,
				Destination: &wClip,
			},
			&cli.Float64Flag{
				Name:        "a-clip",
				Usage:       "activation clip ratio",
				Value:       0.9,
				Destination: &aClip,
			},
			&cli.Int64Flag{
				Name:        "group-size",
				Usage:       "quantization group size (-1 for per-row)",
				Value:       -1,
				Destination: &groupSize,
			},
			&cli.StringFlag{
				Name:        "calibration",
				Usage:       "calibration manifest path baked into the scripts",
				Destination: &calibration,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRenderConfig(cmd, LoadConfig(), &out, &pipeline, &devices)

			modelList := splitList(models)
			if len(modelList) == 0 {
				return errors.New("generate: at least one model is required (--models)")
			}

			outDir, _, err := resolveOutDir(out)
			if err != nil {
				return err
			}

			sweep := runspec.RotationSweep(modelList, calibration, outDir)
			if modes != "" {
				sweep.Modes = sweep.Modes[:0]
				for _, m := range splitList(modes) {
					mode, err := rotation.ParseMode(m)
					if err != nil {
						return err
					}
					sweep.Modes = append(sweep.Modes, mode)
				}
			}
			if sweep.WBits, err = splitInts(wBits); err != nil {
				return err
			}
			if sweep.ABits, err = splitInts(aBits); err != nil {
				return err
			}
			if sweep.KVBits, err = splitInts(kvBits); err != nil {
				return err
			}
			if seeds != "" {
				if sweep.Seeds, err = splitInt64s(seeds); err != nil {
					return err
				}
			}
			sweep.WClip = wClip
			sweep.AClip = aClip
			sweep.GroupSize = int(groupSize)

			exps := sweep.Expand()
			opts := runspec.RenderOptions{Pipeline: pipeline, Devices: devices}
			if err := runspec.WriteAll(outDir, exps, opts); err != nil {
				return err
			}
			log.Info("wrote rotation sweep", "experiments", len(exps), "dir", outDir)
			return nil
		},
	}
}

func renderFlags(out, pipeline, devices *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output directory for scripts and run configs",
			Destination: out,
		},
		&cli.StringFlag{
			Name:        "pipeline",
			Usage:       "evaluation command invoked by the scripts",
			Destination: pipeline,
		},
		&cli.StringFlag{
			Name:        "devices",
			Usage:       "default CUDA_VISIBLE_DEVICES baked into the scripts",
			Destination: devices,
		},
	}
}
