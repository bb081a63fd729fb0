package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdotcom5/SharedStarsFinal-sub001/config"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/memory"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("GUIDANCE_PROVIDER", "none")
	t.Setenv("CATALOG_PATH", "")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func TestNewApp_InMemory(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.ProgressStore{}, a.progress)
	assert.IsType(t, &memory.SessionStore{}, a.sessions)
	assert.Nil(t, a.cache)
	assert.Nil(t, a.leaderboard)
	assert.Equal(t, guidance.NoOpAdapter{}, a.guidance)
	assert.NotEmpty(t, a.catalog.List())

	sched, err := a.newScheduler()
	require.NoError(t, err)
	stats := sched.Stats()
	assert.Contains(t, stats, "reap_stale_sessions")
	assert.NotContains(t, stats, "rebuild_leaderboard")

	_, err = sched.RunNow(context.Background(), "reap_stale_sessions")
	assert.NoError(t, err)
}

func TestNewApp_BadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = t.TempDir() + "/missing.yaml"

	_, err := newApp(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.LogFile = t.TempDir() + "/academy.log"

	l := newLogger(cfg)
	require.NotNil(t, l)
	l.Info("hello")
	_ = l.Sync()
}
