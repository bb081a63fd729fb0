// Package jobs contains the academy's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardSource reads the authoritative ranking.
type LeaderboardSource interface {
	TopByScore(ctx context.Context, limit int) ([]progress.ScoreEntry, error)
}

// LeaderboardRebuilder replaces the cached ranking.
type LeaderboardRebuilder interface {
	Rebuild(ctx context.Context, entries []progress.ScoreEntry) error
}

// RebuildLeaderboardJob copies the top of the progress store into the
// leaderboard cache. Between rebuilds the cache is kept current by the
// score-changed projector; the rebuild corrects any drift.
type RebuildLeaderboardJob struct {
	source LeaderboardSource
	cache  LeaderboardRebuilder
	size   int
	log    *logger.Logger

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Entries   int
}

// NewRebuildLeaderboardJob creates the job. size is the number of entries
// mirrored and defaults to 1000.
func NewRebuildLeaderboardJob(source LeaderboardSource, cache LeaderboardRebuilder, size int, log *logger.Logger) *RebuildLeaderboardJob {
	if size <= 0 {
		size = 1000
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RebuildLeaderboardJob{
		source: source,
		cache:  cache,
		size:   size,
		log:    log.With(logger.String("job", "rebuild_leaderboard")),
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Copies the top leaderboard scores from the progress store into Redis"
}

// Run executes the rebuild.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	started := time.Now()

	entries, err := j.source.TopByScore(ctx, j.size)
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	if err := j.cache.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}

	stats := &RebuildStats{StartedAt: started, Duration: time.Since(started), Entries: len(entries)}
	j.lastStats.Store(stats)

	j.log.Info("leaderboard rebuilt",
		logger.Int("entries", stats.Entries),
		logger.Duration("duration", stats.Duration),
	)
	return nil
}

// LastStats returns the stats of the last successful run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
