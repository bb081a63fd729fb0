//go:build integration

// Run with: ACADEMY_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/infrastructure/persistence/postgres/
package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

func openTestConnection(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("ACADEMY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ACADEMY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, url, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	return conn
}

func testUser() string { return "it-" + uuid.NewString()[:8] }

func TestSessionRepository_TransitionIsCompareAndSet(t *testing.T) {
	repo := NewSessionRepository(openTestConnection(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := session.NewInProgress(testUser(), "eva-basics", now)
	require.NoError(t, repo.Create(ctx, s))

	dup := session.NewInProgress(s.UserID, "eva-basics", now)
	assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrSessionAlreadyActive)

	const callers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, s.ID, session.StatusInProgress, session.Transition{
				To: session.StatusCompleted, At: now.Add(time.Minute), CreditsEarned: 125,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			assert.ErrorIs(t, err, shared.ErrSessionTerminal)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, 125, got.CreditsEarned)
	require.NotNil(t, got.CompletedAt)
}

func TestSessionRepository_RecordMetricsMergesPerExercise(t *testing.T) {
	repo := NewSessionRepository(openTestConnection(t))
	ctx := context.Background()
	now := time.Now().UTC()

	s := session.NewInProgress(testUser(), "eva-basics", now)
	require.NoError(t, repo.Create(ctx, s))

	_, err := repo.RecordMetrics(ctx, s.ID, "plank", map[string]float64{"seconds": 45}, now)
	require.NoError(t, err)
	_, err = repo.RecordMetrics(ctx, s.ID, "squat", map[string]float64{"reps": 20}, now)
	require.NoError(t, err)
	got, err := repo.RecordMetrics(ctx, s.ID, "plank", map[string]float64{"seconds": 60}, now)
	require.NoError(t, err)

	assert.Equal(t, session.Metrics{
		"plank": {"seconds": 60},
		"squat": {"reps": 20},
	}, got.Metrics)

	_, err = repo.Transition(ctx, s.ID, session.StatusInProgress, session.Transition{To: session.StatusAbandoned, At: now})
	require.NoError(t, err)
	_, err = repo.RecordMetrics(ctx, s.ID, "plank", map[string]float64{"seconds": 1}, now)
	assert.ErrorIs(t, err, shared.ErrSessionNotActive)

	_, err = repo.RecordMetrics(ctx, uuid.NewString(), "plank", nil, now)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestProgressRepository_SaveChecksVersion(t *testing.T) {
	repo := NewProgressRepository(openTestConnection(t))
	ctx := context.Background()
	user := testUser()

	p, err := repo.GetOrCreate(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.Version)

	stale, err := repo.Get(ctx, user)
	require.NoError(t, err)

	p.GetOrCreateModuleProgress("eva-basics")
	require.NoError(t, p.AwardCredits("training", 100))
	require.NoError(t, repo.Save(ctx, p))
	assert.EqualValues(t, 2, p.Version)

	require.NoError(t, stale.AwardCredits("training", 50))
	assert.ErrorIs(t, repo.Save(ctx, stale), shared.ErrProgressConflict)

	got, err := repo.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Credits.Total)
	assert.EqualValues(t, 2, got.Version)

	// Concurrent read-modify-writes all land.
	const writers = 10
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := progress.Update(ctx, repo, nil, user, func(p *progress.UserProgress) error {
				return p.AwardCredits("training", 10)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err = repo.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 100+writers*10, got.Credits.Total)
}
