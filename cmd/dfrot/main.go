package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "dfrot",
		Usage: "Rotation and quantization toolkit for transformer checkpoints",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return logger.WithContext(ctx, buildLogger()), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			generateCmd(),
			separateCmd(),
			vanillaCmd(),
			calibrationCmd(),
			rotateCmd(),
			quantizeCmd(),
			scanCmd(),
			runsCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
