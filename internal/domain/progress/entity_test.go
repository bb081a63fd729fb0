package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/retry"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCredits_Award(t *testing.T) {
	var c Credits
	require.NoError(t, c.Award("training", 100))
	require.NoError(t, c.Award("completion", 500))
	require.NoError(t, c.Award("training", 25))

	assert.Equal(t, 625, c.Total)
	assert.Equal(t, map[string]int{"training": 125, "completion": 500}, c.Breakdown)
	assert.True(t, c.Balanced())

	assert.ErrorIs(t, c.Award("training", -1), shared.ErrNegativeValue)
	assert.Error(t, c.Award("", 1))
	assert.Equal(t, 625, c.Total)
}

func TestNewTrainingLog_NormalizesExercises(t *testing.T) {
	log := NewTrainingLog(now, []string{"squat", "plank", "", "squat"}, 30, 120)
	assert.Equal(t, []string{"plank", "squat"}, log.ExercisesCompleted)
}

func TestUserProgress_GetOrCreateModuleProgress(t *testing.T) {
	p := New("u1", now)

	m1 := p.GetOrCreateModuleProgress("m1")
	m2 := p.GetOrCreateModuleProgress("m2")
	again := p.GetOrCreateModuleProgress("m1")

	assert.Same(t, m1, again)
	require.Len(t, p.ModuleProgress, 2)
	assert.Equal(t, "m1", p.ModuleProgress[0].ModuleID)
	assert.Equal(t, "m2", m2.ModuleID)
	assert.Zero(t, m1.CompletedSessions)
	assert.Zero(t, m1.Streak)
	assert.Empty(t, m1.TrainingLogs)
}

func TestModuleProgress_Milestones(t *testing.T) {
	m := NewModuleProgress("m1")

	assert.True(t, m.AchieveMilestone("first-orbit", now))
	assert.False(t, m.AchieveMilestone("first-orbit", now.Add(time.Hour)))
	assert.False(t, m.AchieveMilestone("", now))
	assert.True(t, m.HasMilestone("first-orbit"))
	require.Len(t, m.Milestones, 1)
	assert.Equal(t, now, m.Milestones[0].DateAchieved)
}

func TestModuleProgress_RecordAssessmentKeepsBest(t *testing.T) {
	m := NewModuleProgress("m1")
	m.RecordAssessment(70)
	m.RecordAssessment(90)
	m.RecordAssessment(80)

	require.NotNil(t, m.BestAssessmentScore)
	assert.Equal(t, 90.0, *m.BestAssessmentScore)
}

func TestModuleProgress_MarkSessionNeverMovesBack(t *testing.T) {
	m := NewModuleProgress("m1")
	m.MarkSession(now)
	m.MarkSession(now.Add(-48 * time.Hour))
	assert.Equal(t, now, m.LastSessionDate)
}

func TestUserProgress_AddCertification(t *testing.T) {
	p := New("u1", now)
	c := Certification{Name: "Zero-G", ModuleID: "m1", EarnedDate: now, ExpiryDate: now.AddDate(0, 0, 365)}

	require.NoError(t, p.AddCertification(c))
	err := p.AddCertification(c)
	assert.True(t, shared.IsAlreadyCertified(err))
	assert.Len(t, p.Certifications, 1)

	got, ok := p.Certification("m1")
	assert.True(t, ok)
	assert.False(t, got.IsExpired(now))
	assert.True(t, got.IsExpired(now.AddDate(0, 0, 365)))
}

func TestUserProgress_RecomputeScore(t *testing.T) {
	p := New("u1", now)
	p.GetOrCreateModuleProgress("m1").CompletedSessions = 2

	oldScore, newScore := p.RecomputeScore(func(ms []*ModuleProgress) int {
		return ms[0].CompletedSessions * 100
	})
	assert.Equal(t, 0, oldScore)
	assert.Equal(t, 200, newScore)
	assert.Equal(t, 200, p.LeaderboardScore)
}

func TestUserProgress_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *UserProgress)
	}{
		{"credits out of balance", func(p *UserProgress) { p.Credits.Total = 10 }},
		{"negative bucket", func(p *UserProgress) {
			p.Credits.Breakdown["training"] = -5
			p.Credits.Total = -5
		}},
		{"duplicate module", func(p *UserProgress) {
			p.ModuleProgress = append(p.ModuleProgress, NewModuleProgress("m1"), NewModuleProgress("m1"))
		}},
		{"progress above 100", func(p *UserProgress) { p.GetOrCreateModuleProgress("m1").OverallProgress = 101 }},
		{"duplicate certification", func(p *UserProgress) {
			p.Certifications = []Certification{{ModuleID: "m1"}, {ModuleID: "m1"}}
		}},
		{"negative score", func(p *UserProgress) { p.LeaderboardScore = -1 }},
	}

	require.NoError(t, New("u1", now).Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("u1", now)
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, shared.IsPersistence(err))
		})
	}

	assert.ErrorIs(t, New("", now).Validate(), shared.ErrInvalidID)
}

func TestUserProgress_CloneIsDeep(t *testing.T) {
	p := New("u1", now)
	require.NoError(t, p.AwardCredits("training", 100))
	m := p.GetOrCreateModuleProgress("m1")
	m.AppendLog(NewTrainingLog(now, []string{"plank"}, 10, 0))
	m.RecordAssessment(50)

	c := p.Clone()
	c.Credits.Breakdown["training"] = 1
	c.ModuleProgress[0].TrainingLogs[0].ExercisesCompleted[0] = "changed"
	*c.ModuleProgress[0].BestAssessmentScore = 99
	c.ModuleProgress[0].CompletedSessions = 7

	assert.Equal(t, 100, p.Credits.Breakdown["training"])
	assert.Equal(t, "plank", m.TrainingLogs[0].ExercisesCompleted[0])
	assert.Equal(t, 50.0, *m.BestAssessmentScore)
	assert.Zero(t, m.CompletedSessions)
}

// ──────────────────────────────────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────────────────────────────────

type versionedRepo struct {
	mu       sync.Mutex
	records  map[string]*UserProgress
	saves    int
	conflict int // number of saves to reject before accepting
}

func newVersionedRepo() *versionedRepo {
	return &versionedRepo{records: map[string]*UserProgress{}}
}

func (r *versionedRepo) Get(_ context.Context, userID string) (*UserProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[userID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

func (r *versionedRepo) GetOrCreate(ctx context.Context, userID string) (*UserProgress, error) {
	r.mu.Lock()
	if _, ok := r.records[userID]; !ok {
		p := New(userID, now)
		p.Version = 1
		r.records[userID] = p
	}
	r.mu.Unlock()
	return r.Get(ctx, userID)
}

func (r *versionedRepo) Save(_ context.Context, p *UserProgress) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.conflict > 0 {
		r.conflict--
		return shared.ErrProgressConflict
	}
	if r.records[p.UserID].Version != p.Version {
		return shared.ErrProgressConflict
	}
	p.Version++
	r.records[p.UserID] = p.Clone()
	return nil
}

func (r *versionedRepo) TopByScore(context.Context, int) ([]ScoreEntry, error) { return nil, nil }

func fastRetrier() *retry.Retrier {
	return retry.New(retry.WithMaxAttempts(5), retry.WithInitialDelay(time.Microsecond), retry.WithRetryIf(shared.IsConflict))
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	repo := newVersionedRepo()
	repo.conflict = 2

	calls := 0
	p, err := Update(context.Background(), repo, fastRetrier(), "u1", func(p *UserProgress) error {
		calls++
		return p.AwardCredits("training", 100)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 100, p.Credits.Total)

	stored, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Credits.Total)
	assert.Equal(t, int64(2), stored.Version)
}

func TestUpdate_MutateErrorIsNotRetried(t *testing.T) {
	repo := newVersionedRepo()
	refusal := errors.New("refused")

	calls := 0
	_, err := Update(context.Background(), repo, fastRetrier(), "u1", func(*UserProgress) error {
		calls++
		return refusal
	})
	assert.ErrorIs(t, err, refusal)
	assert.Equal(t, 1, calls)
	assert.Zero(t, repo.saves)
}

func TestUpdate_InvariantBreachSurfacesAsPersistence(t *testing.T) {
	repo := newVersionedRepo()

	_, err := Update(context.Background(), repo, fastRetrier(), "u1", func(p *UserProgress) error {
		p.Credits.Total += 10
		return nil
	})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))
}

func TestUpdate_ConcurrentWritersLoseNothing(t *testing.T) {
	repo := newVersionedRepo()
	r := retry.New(retry.WithMaxAttempts(100), retry.WithInitialDelay(time.Microsecond),
		retry.WithMaxDelay(time.Millisecond), retry.WithRetryIf(shared.IsConflict))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(context.Background(), repo, r, "u1", func(p *UserProgress) error {
				return p.AwardCredits("training", 10)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, stored.Credits.Total)
}
