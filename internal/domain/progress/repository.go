package progress

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores one progress document per user.
type Repository interface {
	// Get returns shared.ErrProgressNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*UserProgress, error)

	// GetOrCreate returns the existing record, or persists and returns an
	// empty one. Concurrent first calls for the same user yield one record.
	GetOrCreate(ctx context.Context, userID string) (*UserProgress, error)

	// Save validates and persists p. It returns a persistence error when any
	// invariant is broken, and shared.ErrProgressConflict when the stored
	// version no longer matches p.Version. On success p.Version is bumped.
	Save(ctx context.Context, p *UserProgress) error

	// TopByScore returns the highest leaderboard scores, ties broken by
	// user ID ascending.
	TopByScore(ctx context.Context, limit int) ([]ScoreEntry, error)
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// ══════════════════════════════════════════════════════════════════════════════
// READ-MODIFY-WRITE
// ══════════════════════════════════════════════════════════════════════════════

// MutateFunc changes a progress record in place. Returning an error aborts
// the update without saving.
type MutateFunc func(p *UserProgress) error

// DefaultUpdateBudget bounds Update when ctx carries no deadline.
const DefaultUpdateBudget = 10 * time.Second

// Update loads the user's progress, applies mutate and saves it, retrying the
// whole cycle when another writer got there first. Conflicts are retried
// until ctx ends. mutate may run more than once and must only depend on the
// record it is given.
func Update(ctx context.Context, repo Repository, retrier *retry.Retrier, userID string, mutate MutateFunc) (*UserProgress, error) {
	if retrier == nil {
		retrier = retry.ProgressUpdateRetrier(shared.IsConflict)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultUpdateBudget)
		defer cancel()
	}

	return retry.DoWithData(ctx, retrier, func(ctx context.Context) (*UserProgress, error) {
		p, err := repo.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := mutate(p); err != nil {
			return nil, retry.Permanent(err)
		}
		if err := repo.Save(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
}
