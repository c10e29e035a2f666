package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/runspec"
)

func vanillaCmd() *cli.Command {
	var (
		models   string
		out      string
		pipeline string
		devices  string
	)

	return &cli.Command{
		Name:  "vanilla",
		Usage: "Generate unrotated RTN baseline scripts",
		Flags: append(renderFlags(&out, &pipeline, &devices),
			&cli.StringFlag{
				Name:        "models",
				Aliases:     []string{"m"},
				Usage:       "comma-separated model names",
				Destination: &models,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRenderConfig(cmd, LoadConfig(), &out, &pipeline, &devices)

			modelList := splitList(models)
			if len(modelList) == 0 {
				return errors.New("vanilla: at least one model is required (--models)")
			}
			outDir, _, err := resolveOutDir(out)
			if err != nil {
				return err
			}

			exps := runspec.VanillaBaseline(modelList, outDir)
			opts := runspec.RenderOptions{Pipeline: pipeline, Devices: devices}
			if err := runspec.WriteAll(outDir, exps, opts); err != nil {
				return err
			}
			log.Info("wrote vanilla baseline", "experiments", len(exps), "dir", outDir)
			return nil
		},
	}
}
