package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/redis/go-redis/v9"
)

// ErrLeaderboardCold is returned when the leaderboard has not been rebuilt
// recently enough to answer from Redis.
var ErrLeaderboardCold = errors.New("leaderboard_cache: leaderboard is not warm")

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache mirrors the top of the leaderboard in a sorted set.
//
// Members are stored with the negated score so that ZRANGE returns the
// highest score first and equal scores in ascending user ID order, which is
// the same order the progress store uses.
//
//   - Sorted Set "academy:leaderboard:scores" holds userID -> -score
//   - Hash "academy:leaderboard:versions" holds userID -> last applied progress version
//   - String "academy:leaderboard:meta" marks the set as warm
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
	now   func() time.Time
}

const (
	keyLeaderboardScores = PrefixLeaderboard + "scores"
	keyLeaderboardMeta   = PrefixLeaderboard + "meta"
	keyLeaderboardStage  = PrefixLeaderboard + "staging"
	keyLeaderboardVers   = PrefixLeaderboard + "versions"
)

// LeaderboardMeta describes the last rebuild.
type LeaderboardMeta struct {
	RebuiltAt time.Time `json:"rebuiltAt"`
	Size      int       `json:"size"`
}

// NewLeaderboardCache creates a LeaderboardCache. The set expires after ttl
// unless rebuilt, so a stopped worker cannot leave an old ranking behind.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LeaderboardCache{cache: cache, ttl: ttl, now: time.Now}
}

// setScoreScript writes a score only while the set is warm and only when
// the version is newer than the last one applied for the member. A zero
// version skips the check.
var setScoreScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
local version = tonumber(ARGV[3])
if version > 0 then
	local seen = tonumber(redis.call("HGET", KEYS[3], ARGV[1]) or "0")
	if seen >= version then
		return 0
	end
	redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// SetScore records a user's score as of a progress version. Only applied
// while the set is warm; a cold set waits for the next rebuild. Versions at
// or below the last applied one are ignored so late events cannot undo newer
// scores.
func (l *LeaderboardCache) SetScore(ctx context.Context, userID string, score int, version int64) error {
	if userID == "" {
		return ErrCacheKeyEmpty
	}
	return setScoreScript.Run(ctx, l.cache.Client(),
		[]string{keyLeaderboardMeta, keyLeaderboardScores, keyLeaderboardVers},
		userID, -score, version,
	).Err()
}

// Rebuild replaces the whole set with entries. The new set is staged under
// a separate key and swapped in atomically.
func (l *LeaderboardCache) Rebuild(ctx context.Context, entries []progress.ScoreEntry) error {
	meta, err := json.Marshal(LeaderboardMeta{RebuiltAt: l.now().UTC(), Size: len(entries)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, keyLeaderboardStage)

	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		for _, e := range entries {
			members = append(members, redis.Z{Score: -float64(e.Score), Member: e.UserID})
		}
		pipe.ZAdd(ctx, keyLeaderboardStage, members...)
		pipe.Rename(ctx, keyLeaderboardStage, keyLeaderboardScores)
		pipe.Expire(ctx, keyLeaderboardScores, l.ttl)
	} else {
		pipe.Del(ctx, keyLeaderboardScores)
	}
	pipe.Set(ctx, keyLeaderboardMeta, meta, l.ttl)
	// Versions only grow, so they survive rebuilds.
	pipe.Expire(ctx, keyLeaderboardVers, l.ttl)

	_, err = pipe.Exec(ctx)
	return err
}

// Top returns the first limit entries. It returns ErrLeaderboardCold when
// the set has not been rebuilt or holds fewer entries than the rebuild
// covered and cannot vouch for the requested range.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]progress.ScoreEntry, error) {
	meta, err := l.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []progress.ScoreEntry{}, nil
	}

	members, err := l.cache.Client().ZRangeWithScores(ctx, keyLeaderboardScores, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) < limit && len(members) < meta.Size {
		return nil, ErrLeaderboardCold
	}

	entries := make([]progress.ScoreEntry, 0, len(members))
	for _, m := range members {
		id, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, progress.ScoreEntry{UserID: id, Score: int(-m.Score)})
	}
	return entries, nil
}

// Rank returns the 1-based position of a user, or ErrCacheMiss.
func (l *LeaderboardCache) Rank(ctx context.Context, userID string) (int, error) {
	if _, err := l.Meta(ctx); err != nil {
		return 0, err
	}
	rank, err := l.cache.Client().ZRank(ctx, keyLeaderboardScores, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, err
	}
	return int(rank) + 1, nil
}

// Meta returns the last rebuild marker, or ErrLeaderboardCold.
func (l *LeaderboardCache) Meta(ctx context.Context) (LeaderboardMeta, error) {
	var meta LeaderboardMeta
	if err := l.cache.Get(ctx, keyLeaderboardMeta, &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return LeaderboardMeta{}, ErrLeaderboardCold
		}
		return LeaderboardMeta{}, err
	}
	return meta, nil
}

// Invalidate drops the cached leaderboard.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, keyLeaderboardScores, keyLeaderboardMeta)
}
