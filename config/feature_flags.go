package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Flag names.
const (
	// Ask the text-generation provider for guidance after a completion.
	// When off for a user, the static fallback is returned.
	FeatureGuidanceLLM = "guidance.llm"

	// Serve the leaderboard from the Redis sorted set.
	FeatureLeaderboardCache = "leaderboard.cache"

	// Abandon stale in-progress sessions from the worker.
	FeatureWorkerReaper = "worker.reaper"

	// Export the leaderboard to XLSX.
	FeatureLeaderboardExport = "leaderboard.export"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one flag's current setting.
type Feature struct {
	Name           string
	Description    string
	RolloutPercent int
}

// Enabled reports whether anyone can see the feature.
func (f Feature) Enabled() bool { return f.RolloutPercent > 0 }

var defaultFeatures = []Feature{
	{FeatureGuidanceLLM, "LLM-generated guidance after session completion", 100},
	{FeatureLeaderboardCache, "Serve leaderboard reads from Redis", 100},
	{FeatureWorkerReaper, "Abandon in-progress sessions past the stale age", 100},
	{FeatureLeaderboardExport, "Allow XLSX leaderboard export", 100},
}

type override struct{ user, feature string }

// FeatureFlags holds percentage rollouts and per-user overrides. A user is
// bucketed by a hash of feature and user ID, so the answer for a user stays
// stable while the percentage is unchanged.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]Feature
	overrides map[override]bool
}

// NewFeatureFlags returns the defaults with no environment overrides.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]Feature, len(defaultFeatures)),
		overrides: make(map[override]bool),
	}
	for _, f := range defaultFeatures {
		ff.features[f.Name] = f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME> variables to the defaults. A value
// is a bool or a percentage, e.g. FEATURE_GUIDANCE_LLM=25.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		raw := strings.TrimSpace(os.Getenv(envKey(name)))
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.RolloutPercent = 0
			if on {
				f.RolloutPercent = 100
			}
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.RolloutPercent = p
		}
		ff.features[name] = f
	}
	return ff
}

func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled answers for one user, or globally when userID is empty. A
// partial rollout is off globally.
func (ff *FeatureFlags) IsEnabled(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if on, ok := ff.overrides[override{userID, name}]; ok {
			return on
		}
	}
	f, ok := ff.features[name]
	switch {
	case !ok || f.RolloutPercent <= 0:
		return false
	case f.RolloutPercent >= 100:
		return true
	case userID == "":
		return false
	}
	return bucket(name, userID) < f.RolloutPercent
}

func bucket(name, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// SetUserOverride forces a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.overrides[override{userID, name}] = enabled
}

// SetRolloutPercent changes a feature's rollout.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	ff.features[name] = f
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// GetAllFeatures returns a copy of every flag.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		out[k] = v
	}
	return out
}
