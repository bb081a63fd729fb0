// Command academy runs the SharedStars Academy progress engine.
//
//	academy serve                 HTTP API, plus the worker unless WORKER_ENABLED=false
//	academy worker                background jobs only
//	academy migrate up|down|status
//	academy export-leaderboard    write the leaderboard to an XLSX file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdotcom5/SharedStarsFinal-sub001/config"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "academy",
	Short: "SharedStars Academy progress, credit and certification engine",
	Long: `academy tracks training sessions, awards credits, maintains streaks
and the leaderboard, and grants module certifications.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log = newLogger(cfg).With(
			logger.String("app", cfg.App.Name),
			logger.String("version", cfg.App.Version),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	if cfg.Observability.LogFile != "" {
		opts.File = &logger.FileOptions{
			Path:       cfg.Observability.LogFile,
			MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
			MaxBackups: cfg.Observability.LogMaxBackups,
			MaxAgeDays: cfg.Observability.LogMaxAgeDays,
			Compress:   true,
		}
	}
	return logger.New(opts)
}
