// Package memory provides process-local implementations of the progress and
// session repositories. They back development runs without PostgreSQL and
// the application tests, and follow the same concurrency contract as the
// database: versioned progress saves and compare-and-set session updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// ProgressStore implements progress.Repository.
type ProgressStore struct {
	mu      sync.RWMutex
	records map[string]*progress.UserProgress
	now     func() time.Time

	// failSave, when set, is returned by Save before any write.
	failSave error
}

// NewProgressStore creates an empty store. A nil clock means time.Now.
func NewProgressStore(now func() time.Time) *ProgressStore {
	if now == nil {
		now = time.Now
	}
	return &ProgressStore{
		records: make(map[string]*progress.UserProgress),
		now:     now,
	}
}

// Get implements progress.Repository.
func (s *ProgressStore) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[userID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// GetOrCreate implements progress.Repository.
func (s *ProgressStore) GetOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[userID]
	if !ok {
		p = progress.New(userID, s.now().UTC())
		p.Version = 1
		s.records[userID] = p
	}
	return p.Clone(), nil
}

// Save implements progress.Repository.
func (s *ProgressStore) Save(ctx context.Context, p *progress.UserProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave != nil {
		return shared.WrapError("progress", "Save", shared.ErrPersistence, "store unavailable", s.failSave)
	}

	stored, exists := s.records[p.UserID]
	switch {
	case !exists && p.Version != 0:
		return shared.ErrProgressConflict
	case exists && stored.Version != p.Version:
		return shared.ErrProgressConflict
	}

	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.records[p.UserID] = p.Clone()
	return nil
}

// TopByScore implements progress.Repository.
func (s *ProgressStore) TopByScore(ctx context.Context, limit int) ([]progress.ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]progress.ScoreEntry, 0, len(s.records))
	for id, p := range s.records {
		entries = append(entries, progress.ScoreEntry{UserID: id, Score: p.LeaderboardScore})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})

	if limit < 0 {
		limit = 0
	}
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// FailSaves makes every following Save fail with a persistence error until
// called again with nil.
func (s *ProgressStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}
