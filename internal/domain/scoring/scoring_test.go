package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
)

var day = time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)

func TestComputeLeaderboardScore_FirstSession(t *testing.T) {
	m := progress.NewModuleProgress("M1")
	m.CompletedSessions = 1
	m.Streak = 1
	m.AppendLog(progress.NewTrainingLog(day, []string{"plank"}, 20, 80))

	assert.Equal(t, 175, ComputeLeaderboardScore([]*progress.ModuleProgress{m}))
}

func TestComputeLeaderboardScore_AllTerms(t *testing.T) {
	m1 := progress.NewModuleProgress("M1")
	m1.CompletedSessions = 3
	m1.Streak = 2
	m1.AppendLog(progress.NewTrainingLog(day, []string{"plank", "squat"}, 20, 0))
	m1.AppendLog(progress.NewTrainingLog(day.AddDate(0, 0, 1), []string{"plank", "lunge"}, 25.55, 0))

	m2 := progress.NewModuleProgress("M2")
	m2.CompletedSessions = 1
	m2.Streak = 1

	// M1: 300 + 100 + 3*25 + floor(5.55*10)=55 -> 530. M2: 100 + 50 -> 150.
	assert.Equal(t, ModuleScore{ModuleID: "M1", Sessions: 300, Streak: 100, ExerciseVariety: 75, DurationImprovement: 55}, Breakdown(m1))
	assert.Equal(t, 680, ComputeLeaderboardScore([]*progress.ModuleProgress{m1, m2}))
}

func TestComputeLeaderboardScore_DurationDropScoresZero(t *testing.T) {
	m := progress.NewModuleProgress("M1")
	m.AppendLog(progress.NewTrainingLog(day, nil, 40, 0))
	m.AppendLog(progress.NewTrainingLog(day.AddDate(0, 0, 1), nil, 30, 0))
	assert.Zero(t, Breakdown(m).DurationImprovement)
}

func TestComputeLeaderboardScore_UsesLogDatesForRecency(t *testing.T) {
	m := progress.NewModuleProgress("M1")
	m.AppendLog(progress.NewTrainingLog(day.AddDate(0, 0, 2), nil, 30, 0))
	m.AppendLog(progress.NewTrainingLog(day, nil, 10, 0))
	m.AppendLog(progress.NewTrainingLog(day.AddDate(0, 0, 1), nil, 20, 0))

	// most recent is 30 (day+2), previous is 20 (day+1)
	assert.Equal(t, 100, Breakdown(m).DurationImprovement)
}

func TestComputeLeaderboardScore_Idempotent(t *testing.T) {
	m := progress.NewModuleProgress("M1")
	m.CompletedSessions = 4
	m.Streak = 3
	m.AppendLog(progress.NewTrainingLog(day, []string{"a"}, 10, 0))
	m.AppendLog(progress.NewTrainingLog(day.AddDate(0, 0, 1), []string{"b"}, 12, 0))
	in := []*progress.ModuleProgress{m, nil}

	first := ComputeLeaderboardScore(in)
	assert.Equal(t, first, ComputeLeaderboardScore(in))
	assert.Zero(t, ComputeLeaderboardScore(nil))
}

func TestComputeCredits(t *testing.T) {
	tests := []struct {
		name string
		perf Performance
		want CreditAward
	}{
		{
			name: "completed only",
			perf: Performance{Completed: true},
			want: CreditAward{Base: 100, TotalEarned: 100},
		},
		{
			name: "bonus challenges",
			perf: Performance{Completed: true, BonusChallenges: 2},
			want: CreditAward{Base: 100, BonusChallenge: 50, TotalEarned: 150},
		},
		{
			name: "time bonus at target",
			perf: Performance{Completed: true, DurationMinutes: 30, TargetMinutes: 30},
			want: CreditAward{Base: 100, TimeBonus: 50, TotalEarned: 150},
		},
		{
			name: "short of target",
			perf: Performance{Completed: true, DurationMinutes: 29.9, TargetMinutes: 30},
			want: CreditAward{Base: 100, TotalEarned: 100},
		},
		{
			name: "not completed, negative bonus",
			perf: Performance{BonusChallenges: -3},
			want: CreditAward{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCredits(tt.perf)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.Base+got.BonusChallenge+got.TimeBonus, got.TotalEarned)
		})
	}
}

func TestPolicy_NegativeAmountsClampToZero(t *testing.T) {
	p := Policy{Base: -10, PerBonus: -5, TimeBonus: -1}
	got := p.ComputeCredits(Performance{Completed: true, BonusChallenges: 2, DurationMinutes: 10, TargetMinutes: 5})
	assert.Equal(t, CreditAward{}, got)
}

func TestUpdateStreak(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		last     time.Time
		now      time.Time
		want     int
	}{
		{"first session", 0, time.Time{}, day, 1},
		{"same day", 3, day, day.Add(5 * time.Hour), 3},
		{"next day", 3, day, day.AddDate(0, 0, 1), 4},
		{"next day under 24h", 3, day.Add(13 * time.Hour), day.AddDate(0, 0, 1).Add(-9 * time.Hour), 4},
		{"two days", 3, day, day.AddDate(0, 0, 2), 1},
		{"long gap", 9, day, day.AddDate(0, 1, 0), 1},
		{"clock moved back", 3, day, day.AddDate(0, 0, -1), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UpdateStreak(tt.existing, tt.last, tt.now, time.UTC))
		})
	}
}

func TestUpdateStreak_UsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	last := time.Date(2026, 4, 14, 17, 0, 0, 0, time.UTC) // 22:00 local on the 14th
	now := time.Date(2026, 4, 14, 20, 0, 0, 0, time.UTC)  // 01:00 local on the 15th

	assert.Equal(t, 2, UpdateStreak(1, last, now, loc))
	assert.Equal(t, 1, UpdateStreak(1, last, now, time.UTC))
}

func TestModuleCompletion(t *testing.T) {
	assert.Equal(t, 0, ModuleCompletion(0, 3))
	assert.Equal(t, 33, ModuleCompletion(1, 3))
	assert.Equal(t, 100, ModuleCompletion(3, 3))
	assert.Equal(t, 100, ModuleCompletion(5, 3))
	assert.Equal(t, 0, ModuleCompletion(2, 0))
}
