package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/Lumen/server/internal/config"
)

var (
	configFilename string
	envFilename    string
	v              = viper.New()

	rootCmd = cobra.Command{
		Use:           "lumen-server",
		Short:         "Classroom lighting and occupancy server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(v, configFilename, envFilename); err != nil {
				return err
			}
			slog.SetDefault(newLogger(v.GetBool("debug")))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&envFilename, "env-file", ".env", "Optional .env file")
	rootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(&serveCmd, &evaluateCmd, &sweepCmd, &seedCmd)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("lumen-server failed", "err", err)
		stop()
		os.Exit(1)
	}
}
