package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/calib"
	"github.com/samcharles93/dfrot/internal/logger"
)

func calibrationCmd() *cli.Command {
	return &cli.Command{
		Name:  "calibration",
		Usage: "Build and verify calibration sample manifests",
		Commands: []*cli.Command{
			calibrationBuildCmd(),
			calibrationVerifyCmd(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowSubcommandHelp(cmd)
		},
	}
}

func calibrationBuildCmd() *cli.Command {
	var (
		dataset string
		name    string
		samples int64
		seqLen  int64
		seed    int64
		out     string
	)

	return &cli.Command{
		Name:  "build",
		Usage: "Draw calibration windows from a token file and write a manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dataset",
				Aliases:     []string{"d"},
				Usage:       "path to a little-endian int32 token-id file",
				Destination: &dataset,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "dataset label recorded in the manifest",
				Value:       "wikitext2",
				Destination: &name,
			},
			&cli.Int64Flag{
				Name:        "samples",
				Usage:       "number of windows to draw",
				Value:       128,
				Destination: &samples,
			},
			&cli.Int64Flag{
				Name:        "seqlen",
				Usage:       "window length in tokens",
				Value:       2048,
				Destination: &seqLen,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling seed",
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "manifest output path",
				Value:       "calibration.json",
				Destination: &out,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if dataset == "" {
				return errors.New("calibration build: --dataset is required")
			}

			m, err := calib.Build(calib.Spec{
				Dataset: dataset,
				Name:    name,
				Samples: int(samples),
				SeqLen:  int(seqLen),
				Seed:    seed,
			})
			if err != nil {
				return err
			}
			if err := m.WriteFile(out); err != nil {
				return err
			}
			log.Info("wrote calibration manifest",
				"path", out, "samples", len(m.Samples), "tokens", m.Tokens, "sha256", m.SHA256)
			return nil
		},
	}
}

func calibrationVerifyCmd() *cli.Command {
	var manifest string

	return &cli.Command{
		Name:  "verify",
		Usage: "Check a manifest against its dataset and load every window",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "manifest",
				Aliases:     []string{"f"},
				Usage:       "manifest path",
				Value:       "calibration.json",
				Destination: &manifest,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			m, err := calib.ReadManifest(manifest)
			if err != nil {
				return err
			}
			windows, err := calib.Load(m)
			if err != nil {
				return err
			}
			log.Info("manifest verified",
				"dataset", m.Spec.Dataset, "samples", len(windows), "seqlen", m.Spec.SeqLen)
			return nil
		},
	}
}
