package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REAP STALE SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SessionReaper abandons sessions left open for too long.
type SessionReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// FlagChecker reports whether a feature is enabled.
type FlagChecker interface {
	IsEnabled(feature, userID string) bool
}

// ReapStaleSessionsJob abandons in-progress and scheduled sessions that have
// not moved for olderThan.
type ReapStaleSessionsJob struct {
	reaper    SessionReaper
	olderThan time.Duration
	flags     FlagChecker
	feature   string
	log       *logger.Logger
}

// NewReapStaleSessionsJob creates the job. When flags is set the job only
// runs while feature is globally enabled.
func NewReapStaleSessionsJob(reaper SessionReaper, olderThan time.Duration, flags FlagChecker, feature string, log *logger.Logger) *ReapStaleSessionsJob {
	if olderThan <= 0 {
		olderThan = 12 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReapStaleSessionsJob{
		reaper:    reaper,
		olderThan: olderThan,
		flags:     flags,
		feature:   feature,
		log:       log.With(logger.String("job", "reap_stale_sessions")),
	}
}

// Name returns the job name.
func (j *ReapStaleSessionsJob) Name() string {
	return "reap_stale_sessions"
}

// Description returns a human-readable description.
func (j *ReapStaleSessionsJob) Description() string {
	return "Abandons training sessions that were left open"
}

// Run executes the job.
func (j *ReapStaleSessionsJob) Run(ctx context.Context) error {
	if j.flags != nil && !j.flags.IsEnabled(j.feature, "") {
		j.log.Debug("reaper disabled by feature flag")
		return nil
	}

	n, err := j.reaper.ReapStale(ctx, j.olderThan)
	if err != nil {
		return fmt.Errorf("reap stale sessions: %w", err)
	}
	if n > 0 {
		j.log.Info("stale sessions abandoned", logger.Int("count", n), logger.Duration("older_than", j.olderThan))
	}
	return nil
}
