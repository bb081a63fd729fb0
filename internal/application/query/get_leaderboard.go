// Package query contains read operations. Queries never modify state; each
// one is a self-contained use case with its own request and result types.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top-N learners by leaderboard score, served from the cache when it is warm.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// GetLeaderboardQuery holds the request parameters.
type GetLeaderboardQuery struct {
	// Limit defaults to 10 and is capped at 100.
	Limit int
}

// Validate normalizes the limit.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	return nil
}

// LeaderboardEntryDTO is one row of the leaderboard.
type LeaderboardEntryDTO struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// GetLeaderboardResult is the query result.
type GetLeaderboardResult struct {
	Entries []LeaderboardEntryDTO `json:"entries"`

	// Source is "cache" or "store".
	Source string `json:"source"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// LeaderboardCache is the read side of the Redis leaderboard.
type LeaderboardCache interface {
	Top(ctx context.Context, limit int) ([]progress.ScoreEntry, error)
}

// FlagChecker reports whether a feature is enabled.
type FlagChecker interface {
	IsEnabled(feature, userID string) bool
}

// GetLeaderboardHandler answers leaderboard queries.
type GetLeaderboardHandler struct {
	store progress.Repository

	// cache may be nil.
	cache LeaderboardCache
	flags FlagChecker

	// cacheFeature gates cache reads when flags is set.
	cacheFeature string

	log *logger.Logger
	now func() time.Time
}

// NewGetLeaderboardHandler creates a handler. cache and flags may be nil.
func NewGetLeaderboardHandler(store progress.Repository, cache LeaderboardCache, flags FlagChecker, cacheFeature string, log *logger.Logger) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		store:        store,
		cache:        cache,
		flags:        flags,
		cacheFeature: cacheFeature,
		log:          log.With(logger.Component("query.leaderboard")),
		now:          time.Now,
	}
}

// Handle runs the query. A cold or failing cache falls back to the store.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	if h.useCache() {
		entries, err := h.cache.Top(ctx, q.Limit)
		if err == nil {
			return h.buildResult(entries, "cache"), nil
		}
		h.log.Debug("leaderboard cache unavailable, reading store", logger.Err(err))
	}

	entries, err := h.store.TopByScore(ctx, q.Limit)
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrPersistence, "failed to read leaderboard", err)
	}
	return h.buildResult(entries, "store"), nil
}

func (h *GetLeaderboardHandler) useCache() bool {
	if h.cache == nil {
		return false
	}
	if h.flags == nil || h.cacheFeature == "" {
		return true
	}
	return h.flags.IsEnabled(h.cacheFeature, "")
}

func (h *GetLeaderboardHandler) buildResult(entries []progress.ScoreEntry, source string) *GetLeaderboardResult {
	dtos := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LeaderboardEntryDTO{Rank: i + 1, UserID: e.UserID, Score: e.Score}
	}
	return &GetLeaderboardResult{
		Entries:     dtos,
		Source:      source,
		GeneratedAt: h.now().UTC(),
	}
}
