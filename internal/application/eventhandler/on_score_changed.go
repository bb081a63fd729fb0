// Package eventhandler contains subscribers for academy events. Handlers
// produce side effects only; they never change progress or sessions, and a
// failing handler never fails the operation that published the event.
package eventhandler

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SCORE CHANGED HANDLER
// Keeps the cached leaderboard in step with score recomputes between rebuilds.
// ═══════════════════════════════════════════════════════════════════════════

// ScoreWriter is the write side of the leaderboard cache. Writes carrying a
// version at or below the last one applied for the user are ignored.
type ScoreWriter interface {
	SetScore(ctx context.Context, userID string, score int, version int64) error
}

// OnScoreChangedHandler projects LeaderboardScoreChanged events into the cache.
type OnScoreChangedHandler struct {
	cache   ScoreWriter
	timeout time.Duration
	log     *logger.Logger
}

// NewOnScoreChangedHandler creates the handler. A zero timeout means 2s.
func NewOnScoreChangedHandler(cache ScoreWriter, timeout time.Duration, log *logger.Logger) *OnScoreChangedHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OnScoreChangedHandler{
		cache:   cache,
		timeout: timeout,
		log:     log.With(logger.Component("eventhandler"), logger.String("handler", "on_score_changed")),
	}
}

// Handle implements shared.EventHandler.
func (h *OnScoreChangedHandler) Handle(event shared.Event) error {
	var e shared.LeaderboardScoreChangedEvent
	switch v := event.(type) {
	case shared.LeaderboardScoreChangedEvent:
		e = v
	case *shared.LeaderboardScoreChangedEvent:
		e = *v
	default:
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.SetScore(ctx, e.UserID, e.NewScore, e.Version); err != nil {
		h.log.Warn("failed to project score",
			logger.UserID(e.UserID),
			logger.Score(e.NewScore),
			logger.Err(err),
		)
		return err
	}

	h.log.Debug("score projected",
		logger.UserID(e.UserID),
		logger.Int("old_score", e.OldScore),
		logger.Score(e.NewScore),
		logger.Int64("version", e.Version),
	)
	return nil
}
