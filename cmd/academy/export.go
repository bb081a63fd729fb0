package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdotcom5/SharedStarsFinal-sub001/config"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

var (
	exportOut   string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export-leaderboard",
	Short: "Write the leaderboard to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default leaderboard-<date>.xlsx)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "number of leaderboard rows")
}

func runExport(ctx context.Context) error {
	if !cfg.Features.IsEnabled(config.FeatureLeaderboardExport, "") {
		return fmt.Errorf("feature %s is disabled", config.FeatureLeaderboardExport)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	path := exportOut
	if path == "" {
		path = fmt.Sprintf("leaderboard-%s.xlsx", time.Now().UTC().Format("20060102"))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	n, err := a.exporter().Export(ctx, f, exportLimit)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("export leaderboard: %w", err)
	}

	log.Info("leaderboard exported", logger.String("path", path), logger.Int("rows", n))
	return nil
}
