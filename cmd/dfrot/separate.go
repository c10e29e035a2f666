package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/runspec"
)

func separateCmd() *cli.Command {
	var (
		models      string
		calibration string
		out         string
		pipeline    string
		devices     string
	)

	return &cli.Command{
		Name:  "separate",
		Usage: "Generate weight-only baseline scripts (activations and KV left at FP16)",
		Flags: append(renderFlags(&out, &pipeline, &devices),
			&cli.StringFlag{
				Name:        "models",
				Aliases:     []string{"m"},
				Usage:       "comma-separated model names",
				Destination: &models,
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
				return errors.New("separate: at least one model is required (--models)")
			}
			outDir, _, err := resolveOutDir(out)
			if err != nil {
				return err
			}

			exps := runspec.SeparateBaseline(modelList, calibration, outDir)
			opts := runspec.RenderOptions{Pipeline: pipeline, Devices: devices}
			if err := runspec.WriteAll(outDir, exps, opts); err != nil {
				return err
			}
			log.Info("wrote weight-only baseline", "experiments", len(exps), "dir", outDir)
			return nil
		},
	}
}
