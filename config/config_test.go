package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sharedstars-academy", cfg.App.Name)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, "none", cfg.Guidance.Provider)
	assert.Less(t, cfg.Guidance.Timeout, cfg.Lifecycle.CompleteTimeout)
	assert.Equal(t, 100, cfg.Scoring.BaseCredits)
	assert.True(t, cfg.Auth.AllowHeaderIdentity)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestFromEnv_GuidanceTimeoutMustBeShorterThanComplete(t *testing.T) {
	t.Setenv("LIFECYCLE_COMPLETE_TIMEOUT", "5s")
	t.Setenv("GUIDANCE_TIMEOUT", "5s")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUIDANCE_TIMEOUT")
}

func TestFromEnv_ProviderNeedsKey(t *testing.T) {
	t.Setenv("GUIDANCE_PROVIDER", "gemini")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUIDANCE_API_KEY")

	t.Setenv("GUIDANCE_API_KEY", "k")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.0-flash"}, cfg.Guidance.Models)
}

func TestFromEnv_ProductionRequirements(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

func TestFromEnv_UnknownTimezone(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Mars/Olympus_Mons")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := NewFeatureFlags()
	assert.True(t, ff.IsEnabled(FeatureGuidanceLLM, "u1"))

	require.NoError(t, ff.SetRolloutPercent(FeatureGuidanceLLM, 50))
	first := ff.IsEnabled(FeatureGuidanceLLM, "u1")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureGuidanceLLM, "u1"), "bucket must be stable")
	}

	ff.SetUserOverride("u1", FeatureGuidanceLLM, false)
	assert.False(t, ff.IsEnabled(FeatureGuidanceLLM, "u1"))

	require.NoError(t, ff.DisableFeature(FeatureGuidanceLLM))
	assert.False(t, ff.IsEnabled(FeatureGuidanceLLM, ""))

	assert.ErrorIs(t, ff.SetRolloutPercent("missing", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureGuidanceLLM, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_PartialRolloutSplitsUsers(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureLeaderboardExport, 50))

	on := 0
	for i := range 1000 {
		if ff.IsEnabled(FeatureLeaderboardExport, fmt.Sprintf("user-%d", i)) {
			on++
		}
	}
	assert.InDelta(t, 500, on, 150)
	assert.False(t, ff.IsEnabled(FeatureLeaderboardExport, ""), "partial rollout is off globally")
	assert.False(t, ff.IsEnabled("unknown", "u1"))
}

func TestFeatureFlags_FromEnvironment(t *testing.T) {
	t.Setenv("FEATURE_WORKER_REAPER", "false")
	t.Setenv("FEATURE_LEADERBOARD_CACHE", "30")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureWorkerReaper, ""))

	all := ff.GetAllFeatures()
	assert.Equal(t, 30, all[FeatureLeaderboardCache].RolloutPercent)
	assert.True(t, all[FeatureLeaderboardCache].Enabled())
	assert.False(t, all[FeatureWorkerReaper].Enabled())
}
