package eventhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/messaging"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

type scoreLog struct {
	scores   map[string]int
	versions map[string]int64
	err      error
}

func (s *scoreLog) SetScore(_ context.Context, userID string, score int, version int64) error {
	if s.err != nil {
		return s.err
	}
	if s.scores == nil {
		s.scores = map[string]int{}
		s.versions = map[string]int64{}
	}
	if version <= s.versions[userID] {
		return nil
	}
	s.scores[userID] = score
	s.versions[userID] = version
	return nil
}

func TestOnScoreChangedHandler(t *testing.T) {
	cache := &scoreLog{}
	h := NewOnScoreChangedHandler(cache, 0, nil)

	require.NoError(t, h.Handle(shared.NewLeaderboardScoreChangedEvent("u1", 100, 175, 2)))
	ev := shared.NewLeaderboardScoreChangedEvent("u2", 0, 40, 1)
	require.NoError(t, h.Handle(&ev))
	require.NoError(t, h.Handle(shared.NewSessionStartedEvent("s1", "u1", "m1")))

	assert.Equal(t, map[string]int{"u1": 175, "u2": 40}, cache.scores)
	assert.Equal(t, int64(2), cache.versions["u1"])

	// A late event for an older version does not overwrite the newer score.
	require.NoError(t, h.Handle(shared.NewLeaderboardScoreChangedEvent("u1", 0, 100, 1)))
	assert.Equal(t, 175, cache.scores["u1"])

	cache.err = errors.New("redis down")
	assert.Error(t, h.Handle(shared.NewLeaderboardScoreChangedEvent("u1", 175, 200, 3)))
}

func TestAuditHandler_LevelsByEventType(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := NewAuditHandler(logger.FromZap(zap.New(core)))

	require.NoError(t, h.Handle(shared.NewSessionStartedEvent("s1", "u1", "m1")))
	require.NoError(t, h.Handle(shared.NewSessionAbandonedEvent("s1", "u1", "m1", "stale")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.InfoLevel, entries[1].Level)
	assert.Equal(t, "session.abandoned", entries[1].ContextMap()["event_type"])
}

func TestRegister(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()

	cache := &scoreLog{}
	require.NoError(t, Register(bus, cache, nil))
	require.NoError(t, bus.Publish(shared.NewLeaderboardScoreChangedEvent("u1", 0, 90, 1)))
	assert.Equal(t, 90, cache.scores["u1"])

	other := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer other.Close()
	require.NoError(t, Register(other, nil, nil))
	assert.NoError(t, other.Publish(shared.NewLeaderboardScoreChangedEvent("u1", 0, 90, 1)))
}
