package redis

import (
	"context"
	"errors"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
)

// GuidanceCache stores generated guidance under academy:guidance:<fingerprint>.
type GuidanceCache struct {
	cache *Cache
}

// NewGuidanceCache creates a GuidanceCache.
func NewGuidanceCache(cache *Cache) *GuidanceCache {
	return &GuidanceCache{cache: cache}
}

// Get implements guidance.Cache.
func (g *GuidanceCache) Get(ctx context.Context, key string) (guidance.Guidance, bool, error) {
	var out guidance.Guidance
	if err := g.cache.Get(ctx, GuidanceKey(key), &out); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return guidance.Guidance{}, false, nil
		}
		return guidance.Guidance{}, false, err
	}
	return out, true, nil
}

// Set implements guidance.Cache. A non-positive ttl stores nothing.
func (g *GuidanceCache) Set(ctx context.Context, key string, value guidance.Guidance, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return g.cache.Set(ctx, GuidanceKey(key), value, ttl)
}

var _ guidance.Cache = (*GuidanceCache)(nil)
