package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
	"github.com/samcharles93/dfrot/internal/model"
	"github.com/samcharles93/dfrot/internal/outlier"
	"github.com/samcharles93/dfrot/internal/tensor"
)

func scanCmd() *cli.Command {
	var (
		modelDir    string
		modelsPath  string
		tensorName  string
		activations string
		actTensor   string
		threshold   float64
		topK        int64
		asJSON      bool
	)

	return &cli.Command{
		Name:  "scan",
		Usage: "Report outlier and massive-activation channels",
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
				Name:        "tensor",
				Usage:       "model tensor to scan",
				Value:       "model.embed_tokens.weight",
				Destination: &tensorName,
			},
			&cli.StringFlag{
				Name:        "activations",
				Usage:       "scan a safetensors activation dump instead of a model tensor",
				Destination: &activations,
			},
			&cli.StringFlag{
				Name:        "activations-tensor",
				Usage:       "tensor name inside the activations file",
				Value:       "activations",
				Destination: &actTensor,
			},
			&cli.Float64Flag{
				Name:        "threshold",
				Usage:       "ratio over the median absmax that counts as massive",
				Value:       30,
				Destination: &threshold,
			},
			&cli.Int64Flag{
				Name:        "top",
				Usage:       "number of worst channels to report",
				Value:       8,
				Destination: &topK,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit the full report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			var (
				x      *tensor.Mat
				source string
				err    error
			)
			if activations != "" {
				source = activations + ":" + actTensor
				x, err = loadActivations(activations, actTensor)
				if err != nil {
					return err
				}
			} else {
				dir, err := resolveModelDir(modelDir, modelsPath)
				if err != nil {
					return err
				}
				log.Info("loading checkpoint", "dir", dir)
				m, err := model.Load(dir)
				if err != nil {
					return err
				}
				source = tensorName
				if x, err = m.Weight(tensorName); err != nil {
					return err
				}
			}

			report := outlier.Analyze(x, outlier.Config{
				MassiveThreshold: threshold,
				TopK:             int(topK),
			})

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("source:          %s (%d x %d)\n", source, x.R, x.C)
			fmt.Printf("median absmax:   %g\n", report.MedianAbsMax)
			fmt.Printf("massive (>%gx): %d channels\n", threshold, len(report.Massive))
			fmt.Println("worst channels:")
			for _, idx := range report.TopK {
				st := report.Channels[idx]
				fmt.Printf("  %5d  absmax=%-12g ratio=%.1f\n", st.Index, st.AbsMax, st.Ratio)
			}
			return nil
		},
	}
}
