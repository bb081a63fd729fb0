// Package guidance produces short coaching messages after a training session.
// Generation is best effort: every adapter returns the static fallback rather
// than an error, so callers never fail because guidance did.
package guidance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Context is what the adapter knows about the learner's latest session.
type Context struct {
	ModuleID          string                        `json:"moduleId"`
	ModuleTitle       string                        `json:"moduleTitle,omitempty"`
	Metrics           map[string]map[string]float64 `json:"metrics,omitempty"`
	CompletedSessions int                           `json:"completedSessions"`
	Streak            int                           `json:"streak"`
	OverallProgress   int                           `json:"overallProgress"`
	CreditsEarned     int                           `json:"creditsEarned"`
	DurationMinutes   float64                       `json:"durationMinutes"`
	Certified         bool                          `json:"certified,omitempty"`
}

// Guidance is the adapter's answer.
type Guidance struct {
	Message     string   `json:"message"`
	ActionItems []string `json:"actionItems"`

	// Fallback is true when the static answer was used.
	Fallback bool `json:"fallback"`
}

// Adapter returns guidance for a learner. Implementations must not return
// an error for generation failures; they return Fallback() instead.
type Adapter interface {
	GetGuidance(ctx context.Context, userID string, gctx Context) Guidance
}

// Fallback is the fixed answer used whenever generation is unavailable.
func Fallback() Guidance {
	return Guidance{
		Message: "Great work completing your session! Keep up the consistent training to build your streak.",
		ActionItems: []string{
			"Schedule your next session for tomorrow",
			"Review today's exercise metrics",
			"Stay hydrated and rest well",
		},
		Fallback: true,
	}
}

// NoOpAdapter always returns the fallback.
type NoOpAdapter struct{}

// GetGuidance implements Adapter.
func (NoOpAdapter) GetGuidance(context.Context, string, Context) Guidance {
	return Fallback()
}

// ══════════════════════════════════════════════════════════════════════════════
// TEXT GENERATION BOUNDARY
// ══════════════════════════════════════════════════════════════════════════════

// Request is one text-generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Model        string
}

// Response is the generated text.
type Response struct {
	Text  string
	Model string
}

// TextGenerator is an external text-generation capability. Retries and model
// fallback are the caller's job.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache memoizes generated guidance.
type Cache interface {
	Get(ctx context.Context, key string) (Guidance, bool, error)
	Set(ctx context.Context, key string, g Guidance, ttl time.Duration) error
}

// CacheKey fingerprints a request so identical contexts share an answer.
func CacheKey(userID string, gctx Context) string {
	payload, _ := json.Marshal(struct {
		UserID string  `json:"u"`
		Ctx    Context `json:"c"`
	}{userID, gctx})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// MemoryCache is a process-local Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     Guidance
	expiresAt time.Time
}

// NewMemoryCache creates an empty cache. A nil clock means time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), now: now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Guidance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Guidance{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return Guidance{}, false, nil
	}
	return e.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, g Guidance, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{value: g, expiresAt: now.Add(ttl)}
	return nil
}
