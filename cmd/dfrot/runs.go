package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dfrot/internal/store"
)

func runsCmd() *cli.Command {
	var dbPath string

	dbFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:        "db",
			Usage:       "run database path",
			Destination: &dbPath,
		}
	}

	openStore := func() (*store.Store, error) {
		path, err := resolveDatabasePath(dbPath)
		if err != nil {
			return nil, err
		}
		return store.Open(path)
	}

	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect recorded quantization runs",
		Commands: []*cli.Command{
			runsListCmd(dbFlag(), openStore),
			runsShowCmd(dbFlag(), openStore),
			runsDeleteCmd(dbFlag(), openStore),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowSubcommandHelp(cmd)
		},
	}
}

func runsListCmd(dbFlag cli.Flag, openStore func() (*store.Store, error)) *cli.Command {
	var (
		modelFilter  string
		statusFilter string
		asJSON       bool
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List runs, newest first",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{
				Name:        "model",
				Usage:       "filter by model",
				Destination: &modelFilter,
			},
			&cli.StringFlag{
				Name:        "status",
				Usage:       "filter by status (pending, running, completed, failed)",
				Destination: &statusFilter,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			runs, err := s.List(ctx, modelFilter, statusFilter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  %-20s  %-22s w%da%dkv%d  %s\n",
					r.ID, r.Status, r.Model, r.Mode, r.WBits, r.ABits, r.KBits,
					r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func runsShowCmd(dbFlag cli.Flag, openStore func() (*store.Store, error)) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print one run as JSON",
		ArgsUsage: "<run-id>",
		Flags:     []cli.Flag{dbFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("runs show: a run id is required")
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			run, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
}

func runsDeleteCmd(dbFlag cli.Flag, openStore func() (*store.Store, error)) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a run",
		ArgsUsage: "<run-id>",
		Flags:     []cli.Flag{dbFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("runs delete: a run id is required")
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", id)
			return nil
		},
	}
}
