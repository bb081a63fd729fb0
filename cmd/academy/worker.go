package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/scheduler"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

var runOnce string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background jobs",
	Long: `Run the background jobs: the leaderboard cache rebuild and the stale
session reaper. With --once the named job runs a single time and the
command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().StringVar(&runOnce, "once", "", "run the named job once and exit")
}

func runWorker(ctx context.Context) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if runOnce != "" {
		return runJobOnce(ctx, sched, runOnce)
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	log.Info("worker started")

	<-ctx.Done()
	log.Info("shutdown signal received")
	sched.Stop()

	for name, st := range sched.Stats() {
		log.Info("job stats",
			logger.String("job", name),
			logger.Int64("runs", st.Runs),
			logger.Int64("failures", st.Failures),
			logger.Int64("skips", st.Skips),
		)
	}
	return nil
}

func runJobOnce(ctx context.Context, sched *scheduler.Scheduler, name string) error {
	result, err := sched.RunNow(ctx, name)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	log.Info("job finished",
		logger.String("job", name),
		logger.Duration("duration", result.Duration),
		logger.Bool("skipped", result.Skipped),
	)
	return nil
}
