package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Lumen/server/internal/config"
	dbpkg "github.com/BrandonDHaskell/Lumen/server/internal/db"
)

var serveCmd = cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, session, gRPC and background services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(v)
		a, err := newApp(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(cmd.Context())
	},
}

var evaluateCmd = cobra.Command{
	Use:   "evaluate",
	Short: "Run one automatic shutdown pass and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(v)
		a, err := newApp(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.evaluator.Evaluate(cmd.Context())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rooms evaluated: %d, rooms shut down: %d, lights off: %d, errors: %d\n",
			res.RoomsEvaluated, res.RoomsShutDown, res.LightsOff, res.Errors)
		return nil
	},
}

var sweepCmd = cobra.Command{
	Use:   "sweep",
	Short: "Run one connectivity check and history retention sweep and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(v)
		a, err := newApp(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.checker.Check(cmd.Context())
		if err != nil {
			return err
		}
		pruned, err := a.pruner.Prune(cmd.Context())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rooms: %d online, %d offline, %d unknown; history pruned: %d\n",
			res.Online, res.Offline, res.Unknown, pruned)
		return nil
	},
}

var seedFile string

var seedCmd = cobra.Command{
	Use:   "seed",
	Short: "Apply a YAML room layout (or the built-in development layout) and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(v)
		db, err := dbpkg.Open(cmd.Context(), dbpkg.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if seedFile == "" {
			return dbpkg.SeedDev(cmd.Context(), db)
		}
		f, err := os.Open(seedFile)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		layout, err := dbpkg.LoadSeed(f)
		if err != nil {
			return err
		}
		return dbpkg.Seed(cmd.Context(), db, layout)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "Seed file (defaults to the development layout)")
}
