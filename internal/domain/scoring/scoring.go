// Package scoring holds the pure arithmetic of the academy: leaderboard
// scores, credit awards, streaks and module completion. Nothing here does I/O.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/timeutil"
)

// Leaderboard weights.
const (
	PointsPerSession          = 100
	PointsPerStreakDay        = 50
	PointsPerDistinctExercise = 25
	PointsPerMinuteImproved   = 10
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SCORE
// ══════════════════════════════════════════════════════════════════════════════

// ModuleScore is the per-module split of a leaderboard score.
type ModuleScore struct {
	ModuleID            string `json:"moduleId"`
	Sessions            int    `json:"sessions"`
	Streak              int    `json:"streak"`
	ExerciseVariety     int    `json:"exerciseVariety"`
	DurationImprovement int    `json:"durationImprovement"`
}

// Total returns the module's contribution to the leaderboard score.
func (s ModuleScore) Total() int {
	return s.Sessions + s.Streak + s.ExerciseVariety + s.DurationImprovement
}

// Breakdown scores one module.
func Breakdown(m *progress.ModuleProgress) ModuleScore {
	return ModuleScore{
		ModuleID:            m.ModuleID,
		Sessions:            m.CompletedSessions * PointsPerSession,
		Streak:              m.Streak * PointsPerStreakDay,
		ExerciseVariety:     distinctExercises(m.TrainingLogs) * PointsPerDistinctExercise,
		DurationImprovement: durationImprovement(m.TrainingLogs),
	}
}

// ComputeLeaderboardScore sums Breakdown over every module. It is always run
// over the full list; the previous score plays no part.
func ComputeLeaderboardScore(modules []*progress.ModuleProgress) int {
	total := 0
	for _, m := range modules {
		if m == nil {
			continue
		}
		total += Breakdown(m).Total()
	}
	return total
}

func distinctExercises(logs []progress.TrainingLog) int {
	seen := make(map[string]struct{})
	for _, l := range logs {
		for _, ex := range l.ExercisesCompleted {
			seen[ex] = struct{}{}
		}
	}
	return len(seen)
}

// durationImprovement compares the two most recent logs by date. Logs with
// equal dates keep their append order.
func durationImprovement(logs []progress.TrainingLog) int {
	if len(logs) < 2 {
		return 0
	}

	idx := make([]int, len(logs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return logs[idx[a]].Date.Before(logs[idx[b]].Date)
	})

	latest := logs[idx[len(idx)-1]].Duration
	previous := logs[idx[len(idx)-2]].Duration
	diff := latest - previous
	if diff <= 0 {
		return 0
	}
	return int(math.Floor(diff * PointsPerMinuteImproved))
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDITS
// ══════════════════════════════════════════════════════════════════════════════

// Performance is what a learner reports when completing a session.
type Performance struct {
	Completed       bool    `json:"completion"`
	BonusChallenges int     `json:"bonusChallenges"`
	DurationMinutes float64 `json:"durationMinutes"`

	// TargetMinutes overrides the module's target duration when positive.
	TargetMinutes float64 `json:"targetMinutes,omitempty"`

	CaloriesBurned     float64  `json:"caloriesBurned"`
	ExercisesCompleted []string `json:"exercisesCompleted,omitempty"`
	Milestones         []string `json:"milestones,omitempty"`
	AssessmentScore    *float64 `json:"assessmentScore,omitempty"`
}

// Policy sets the credit amounts.
type Policy struct {
	Base      int `json:"base"`
	PerBonus  int `json:"perBonus"`
	TimeBonus int `json:"timeBonus"`
}

// DefaultPolicy returns the standard credit amounts.
func DefaultPolicy() Policy {
	return Policy{Base: 100, PerBonus: 25, TimeBonus: 50}
}

// CreditAward is the result of ComputeCredits.
type CreditAward struct {
	Base           int `json:"base"`
	BonusChallenge int `json:"bonusChallenge"`
	TimeBonus      int `json:"timeBonus"`
	TotalEarned    int `json:"totalEarned"`
}

// ComputeCredits awards the base amount for a completed session, a fixed
// amount per bonus challenge, and the time bonus when the session lasted at
// least its target duration. Every component is non-negative.
func (p Policy) ComputeCredits(perf Performance) CreditAward {
	var a CreditAward

	if perf.Completed {
		a.Base = nonNegative(p.Base)
	}
	if perf.BonusChallenges > 0 {
		a.BonusChallenge = perf.BonusChallenges * nonNegative(p.PerBonus)
	}
	if perf.TargetMinutes > 0 && perf.DurationMinutes >= perf.TargetMinutes {
		a.TimeBonus = nonNegative(p.TimeBonus)
	}

	a.TotalEarned = a.Base + a.BonusChallenge + a.TimeBonus
	return a
}

// ComputeCredits applies DefaultPolicy.
func ComputeCredits(perf Performance) CreditAward {
	return DefaultPolicy().ComputeCredits(perf)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreak returns the streak after a session completed at now. The gap
// is counted in calendar days of loc:
//
//	no previous session  -> 1
//	same day             -> unchanged (at least 1)
//	next day             -> +1
//	two or more days     -> 1
//
// A clock that moved backwards counts as the same day.
func UpdateStreak(existing int, lastSession, now time.Time, loc *time.Location) int {
	if lastSession.IsZero() || existing <= 0 {
		return 1
	}

	switch gap := timeutil.DaysBetween(lastSession, now, loc); {
	case gap <= 0:
		return existing
	case gap == 1:
		return existing + 1
	default:
		return 1
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// ModuleCompletion returns the completion percentage, capped at 100.
func ModuleCompletion(completedSessions, requiredSessions int) int {
	if requiredSessions <= 0 || completedSessions <= 0 {
		return 0
	}
	pct := completedSessions * 100 / requiredSessions
	if pct > 100 {
		return 100
	}
	return pct
}
