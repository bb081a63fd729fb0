package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func minScore(v float64) *float64 { return &v }

var catalog = module.MustStaticCatalog(
	module.Definition{
		ID:               "M1",
		Title:            "Module One",
		RequiredSessions: 10,
		Certification:    module.CertificationSpec{Name: "M1 Cert", Level: "foundation", CreditValue: 300},
	},
	module.Definition{
		ID:                 "M2",
		Title:              "Module Two",
		RequiredSessions:   2,
		RequiredMilestones: []string{"airlock"},
		MinAssessmentScore: minScore(70),
		Certification:      module.CertificationSpec{Name: "M2 Cert", Level: "intermediate", CreditValue: 500},
	},
)

func seed(t *testing.T, store *memory.ProgressStore, userID string, score int, mutate func(p *progress.UserProgress)) {
	t.Helper()
	p := progress.New(userID, now)
	p.LeaderboardScore = score
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, store.Save(context.Background(), p))
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

type fakeLeaderboard struct {
	entries []progress.ScoreEntry
	err     error
	calls   int
}

func (f *fakeLeaderboard) Top(_ context.Context, limit int) ([]progress.ScoreEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type flagSet map[string]bool

func (f flagSet) IsEnabled(feature, _ string) bool { return f[feature] }

func TestGetLeaderboardQuery_Validate(t *testing.T) {
	tests := []struct {
		in      int
		want    int
		wantErr bool
	}{
		{in: 0, want: DefaultLeaderboardLimit},
		{in: 5, want: 5},
		{in: 1000, want: MaxLeaderboardLimit},
		{in: -1, wantErr: true},
	}
	for _, tt := range tests {
		q := GetLeaderboardQuery{Limit: tt.in}
		err := q.Validate()
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, q.Limit)
	}
}

func TestGetLeaderboard_FromStore(t *testing.T) {
	store := memory.NewProgressStore(nil)
	seed(t, store, "carol", 175, nil)
	seed(t, store, "alice", 175, nil)
	seed(t, store, "bob", 300, nil)

	h := NewGetLeaderboardHandler(store, nil, nil, "", nil)
	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, "store", res.Source)
	assert.Equal(t, []LeaderboardEntryDTO{
		{Rank: 1, UserID: "bob", Score: 300},
		{Rank: 2, UserID: "alice", Score: 175},
	}, res.Entries)

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{Limit: -3})
	assert.True(t, shared.IsValidation(err))
}

func TestGetLeaderboard_CacheAndFallback(t *testing.T) {
	store := memory.NewProgressStore(nil)
	seed(t, store, "alice", 50, nil)

	t.Run("warm cache", func(t *testing.T) {
		cache := &fakeLeaderboard{entries: []progress.ScoreEntry{{UserID: "zed", Score: 999}}}
		h := NewGetLeaderboardHandler(store, cache, flagSet{"leaderboard.cache": true}, "leaderboard.cache", nil)

		res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
		require.NoError(t, err)
		assert.Equal(t, "cache", res.Source)
		assert.Equal(t, "zed", res.Entries[0].UserID)
	})

	t.Run("cold cache falls back", func(t *testing.T) {
		cache := &fakeLeaderboard{err: errors.New("cold")}
		h := NewGetLeaderboardHandler(store, cache, nil, "", nil)

		res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
		require.NoError(t, err)
		assert.Equal(t, "store", res.Source)
		assert.Equal(t, 1, cache.calls)
		assert.Equal(t, []LeaderboardEntryDTO{{Rank: 1, UserID: "alice", Score: 50}}, res.Entries)
	})

	t.Run("flag off skips cache", func(t *testing.T) {
		cache := &fakeLeaderboard{entries: []progress.ScoreEntry{{UserID: "zed", Score: 999}}}
		h := NewGetLeaderboardHandler(store, cache, flagSet{}, "leaderboard.cache", nil)

		res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
		require.NoError(t, err)
		assert.Equal(t, "store", res.Source)
		assert.Zero(t, cache.calls)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AND CERTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProgress(t *testing.T) {
	store := memory.NewProgressStore(nil)
	seed(t, store, "u1", 150, func(p *progress.UserProgress) {
		m1 := p.GetOrCreateModuleProgress("M1")
		m1.CompletedSessions = 10
		m1.OverallProgress = 100
		m2 := p.GetOrCreateModuleProgress("M2")
		m2.OverallProgress = 50
		p.GetOrCreateModuleProgress("retired")
		require.NoError(t, p.AwardCredits("training", 150))
	})

	h := NewGetProgressHandler(store, catalog)
	dto, err := h.Handle(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 150, dto.LeaderboardScore)
	assert.Equal(t, 150, dto.Credits.Total)
	require.Len(t, dto.ModuleProgress, 3)

	assert.True(t, dto.ModuleProgress[0].Eligibility.Eligible)

	m2 := dto.ModuleProgress[1].Eligibility
	assert.False(t, m2.Eligible)
	assert.False(t, m2.ProgressComplete)
	assert.Equal(t, []string{"airlock"}, m2.MissingMilestones)
	assert.False(t, m2.AssessmentMet)

	assert.Nil(t, dto.ModuleProgress[2].Eligibility)
}

func TestGetProgress_Errors(t *testing.T) {
	h := NewGetProgressHandler(memory.NewProgressStore(nil), catalog)

	_, err := h.Handle(context.Background(), "nobody")
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(context.Background(), "  ")
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestGetCertifications(t *testing.T) {
	store := memory.NewProgressStore(nil)
	seed(t, store, "u1", 0, func(p *progress.UserProgress) {
		p.Certifications = []progress.Certification{
			{Name: "Old", ModuleID: "M1", EarnedDate: now.AddDate(-2, 0, 0), ExpiryDate: now.AddDate(-1, 0, 0)},
			{Name: "New", ModuleID: "M2", EarnedDate: now, ExpiryDate: now.AddDate(1, 0, 0)},
		}
	})
	seed(t, store, "u2", 0, nil)

	h := NewGetCertificationsHandler(store, func() time.Time { return now })

	certs, err := h.Handle(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, "Old", certs[0].Name)
	assert.True(t, certs[0].Expired)
	assert.False(t, certs[1].Expired)

	certs, err = h.Handle(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, certs)

	_, err = h.Handle(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestListModules(t *testing.T) {
	h := NewListModulesHandler(catalog)

	mods := h.Handle()
	require.Len(t, mods, 2)
	assert.Equal(t, "M1", mods[0].ID)

	_, err := h.Get("nope")
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// GUIDANCE
// ══════════════════════════════════════════════════════════════════════════════

type recordingAdapter struct {
	got guidance.Context
}

func (a *recordingAdapter) GetGuidance(_ context.Context, _ string, gctx guidance.Context) guidance.Guidance {
	a.got = gctx
	return guidance.Guidance{Message: "keep going", ActionItems: []string{}}
}

func TestGetGuidance(t *testing.T) {
	store := memory.NewProgressStore(nil)
	seed(t, store, "u1", 0, func(p *progress.UserProgress) {
		m := p.GetOrCreateModuleProgress("M1")
		m.CompletedSessions = 3
		m.Streak = 2
		m.OverallProgress = 30
		m.AppendLog(progress.NewTrainingLog(now, []string{"plank"}, 42, 100))
	})

	adapter := &recordingAdapter{}
	h := NewGetGuidanceHandler(store, catalog, adapter)

	g, err := h.Handle(context.Background(), "u1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "keep going", g.Message)
	assert.Equal(t, guidance.Context{
		ModuleID:          "M1",
		ModuleTitle:       "Module One",
		CompletedSessions: 3,
		Streak:            2,
		OverallProgress:   30,
		DurationMinutes:   42,
	}, adapter.got)

	_, err = h.Handle(context.Background(), "newcomer", "M2")
	require.NoError(t, err)
	assert.Equal(t, guidance.Context{ModuleID: "M2", ModuleTitle: "Module Two"}, adapter.got)

	_, err = h.Handle(context.Background(), "u1", "missing")
	assert.True(t, shared.IsNotFound(err))
}

func TestGetGuidance_NilAdapterFallsBack(t *testing.T) {
	h := NewGetGuidanceHandler(memory.NewProgressStore(nil), catalog, nil)
	g, err := h.Handle(context.Background(), "u1", "M1")
	require.NoError(t, err)
	assert.Equal(t, guidance.Fallback(), g)
}
