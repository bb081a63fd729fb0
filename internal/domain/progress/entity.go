package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// CategoryCompletion is the breakdown bucket for certification credits.
const CategoryCompletion = "completion"

// ══════════════════════════════════════════════════════════════════════════════
// CREDITS
// ══════════════════════════════════════════════════════════════════════════════

// Credits is the point currency of the academy. Total always equals the sum
// of Breakdown; Award is the only way to change either.
type Credits struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
}

// Award adds amount to both the total and the category bucket.
func (c *Credits) Award(category string, amount int) error {
	if amount < 0 {
		return shared.ErrNegativeCreditAmount
	}
	if category == "" {
		return shared.NewDomainError("progress", "AwardCredits", shared.ErrEmptyValue, "credit category cannot be empty")
	}
	if c.Breakdown == nil {
		c.Breakdown = make(map[string]int)
	}
	c.Breakdown[category] += amount
	c.Total += amount
	return nil
}

// BreakdownSum returns the sum of all buckets.
func (c Credits) BreakdownSum() int {
	sum := 0
	for _, v := range c.Breakdown {
		sum += v
	}
	return sum
}

// Balanced reports whether Total matches the breakdown.
func (c Credits) Balanced() bool {
	return c.Total == c.BreakdownSum()
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// TrainingLog records one completed session.
type TrainingLog struct {
	Date time.Time `json:"date"`

	// ExercisesCompleted is a set kept sorted and free of duplicates.
	ExercisesCompleted []string `json:"exercisesCompleted"`

	// Duration in minutes.
	Duration       float64 `json:"duration"`
	CaloriesBurned float64 `json:"caloriesBurned"`
}

// NewTrainingLog builds a log entry with a normalized exercise set.
func NewTrainingLog(date time.Time, exercises []string, duration, calories float64) TrainingLog {
	return TrainingLog{
		Date:               date,
		ExercisesCompleted: exerciseSet(exercises),
		Duration:           duration,
		CaloriesBurned:     calories,
	}
}

func exerciseSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Milestone is a named achievement inside a module.
type Milestone struct {
	Name         string    `json:"name"`
	Completed    bool      `json:"completed"`
	DateAchieved time.Time `json:"dateAchieved"`
}

// ModuleProgress is a user's progress through one module.
type ModuleProgress struct {
	ModuleID           string    `json:"moduleId"`
	CompletedSessions  int       `json:"completedSessions"`
	TotalCreditsEarned int       `json:"totalCreditsEarned"`
	Streak             int       `json:"streak"`
	LastSessionDate    time.Time `json:"lastSessionDate"`

	// OverallProgress is the completion percentage, 0 to 100.
	OverallProgress int `json:"overallProgress"`

	// BestAssessmentScore is nil until an assessment has been reported.
	BestAssessmentScore *float64 `json:"bestAssessmentScore,omitempty"`

	TrainingLogs []TrainingLog `json:"trainingLogs"`
	Milestones   []Milestone   `json:"milestones"`
}

// NewModuleProgress returns a zeroed record for a module.
func NewModuleProgress(moduleID string) *ModuleProgress {
	return &ModuleProgress{
		ModuleID:     moduleID,
		TrainingLogs: []TrainingLog{},
		Milestones:   []Milestone{},
	}
}

// AppendLog appends a training log entry.
func (m *ModuleProgress) AppendLog(log TrainingLog) {
	m.TrainingLogs = append(m.TrainingLogs, log)
}

// HasMilestone reports whether the named milestone was achieved.
func (m *ModuleProgress) HasMilestone(name string) bool {
	for _, ms := range m.Milestones {
		if ms.Name == name {
			return true
		}
	}
	return false
}

// AchieveMilestone records a milestone once. It returns false when it was
// already present.
func (m *ModuleProgress) AchieveMilestone(name string, at time.Time) bool {
	if name == "" || m.HasMilestone(name) {
		return false
	}
	m.Milestones = append(m.Milestones, Milestone{Name: name, Completed: true, DateAchieved: at})
	return true
}

// RecordAssessment keeps the best assessment score seen.
func (m *ModuleProgress) RecordAssessment(score float64) {
	if m.BestAssessmentScore == nil || score > *m.BestAssessmentScore {
		s := score
		m.BestAssessmentScore = &s
	}
}

// MarkSession moves LastSessionDate forward; it never moves it back.
func (m *ModuleProgress) MarkSession(at time.Time) {
	if at.After(m.LastSessionDate) {
		m.LastSessionDate = at
	}
}

func (m *ModuleProgress) validate() error {
	if m.ModuleID == "" {
		return fmt.Errorf("module progress without module id")
	}
	if m.CompletedSessions < 0 || m.TotalCreditsEarned < 0 || m.Streak < 0 {
		return fmt.Errorf("module %s: counters cannot be negative", m.ModuleID)
	}
	if m.OverallProgress < 0 || m.OverallProgress > 100 {
		return fmt.Errorf("module %s: overall progress %d outside 0-100", m.ModuleID, m.OverallProgress)
	}
	seen := make(map[string]struct{}, len(m.Milestones))
	for _, ms := range m.Milestones {
		if _, dup := seen[ms.Name]; dup {
			return fmt.Errorf("module %s: milestone %q duplicated", m.ModuleID, ms.Name)
		}
		seen[ms.Name] = struct{}{}
	}
	return nil
}

func (m *ModuleProgress) clone() *ModuleProgress {
	c := *m
	c.TrainingLogs = make([]TrainingLog, len(m.TrainingLogs))
	for i, l := range m.TrainingLogs {
		l.ExercisesCompleted = append([]string(nil), l.ExercisesCompleted...)
		c.TrainingLogs[i] = l
	}
	c.Milestones = append([]Milestone{}, m.Milestones...)
	if m.BestAssessmentScore != nil {
		s := *m.BestAssessmentScore
		c.BestAssessmentScore = &s
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Certification is issued once per user and module.
type Certification struct {
	Name          string    `json:"name"`
	ModuleID      string    `json:"moduleId"`
	EarnedDate    time.Time `json:"earnedDate"`
	ExpiryDate    time.Time `json:"expiryDate"`
	Level         string    `json:"level"`
	CreditsEarned int       `json:"creditsEarned"`
}

// IsExpired reports whether the certification has lapsed at now.
func (c Certification) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiryDate)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress is the per-user aggregate. Only the session lifecycle and the
// certification evaluator mutate it.
type UserProgress struct {
	UserID           string            `json:"userId"`
	ModuleProgress   []*ModuleProgress `json:"moduleProgress"`
	Credits          Credits           `json:"credits"`
	Certifications   []Certification   `json:"certifications"`
	LeaderboardScore int               `json:"leaderboardScore"`

	// Version is the optimistic-lock counter. Zero means never persisted.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns an empty progress record with zeroed counters.
func New(userID string, now time.Time) *UserProgress {
	return &UserProgress{
		UserID:         userID,
		ModuleProgress: []*ModuleProgress{},
		Credits:        Credits{Breakdown: map[string]int{}},
		Certifications: []Certification{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Module returns the progress for a module if present.
func (p *UserProgress) Module(moduleID string) (*ModuleProgress, bool) {
	for _, m := range p.ModuleProgress {
		if m.ModuleID == moduleID {
			return m, true
		}
	}
	return nil, false
}

// GetOrCreateModuleProgress returns the module's record, appending a zeroed
// one in first-encountered order when absent. The caller persists.
func (p *UserProgress) GetOrCreateModuleProgress(moduleID string) *ModuleProgress {
	if m, ok := p.Module(moduleID); ok {
		return m
	}
	m := NewModuleProgress(moduleID)
	p.ModuleProgress = append(p.ModuleProgress, m)
	return m
}

// AwardCredits adds credits to the total and the category bucket together.
func (p *UserProgress) AwardCredits(category string, amount int) error {
	return p.Credits.Award(category, amount)
}

// Certification returns the certification issued for a module, if any.
func (p *UserProgress) Certification(moduleID string) (Certification, bool) {
	for _, c := range p.Certifications {
		if c.ModuleID == moduleID {
			return c, true
		}
	}
	return Certification{}, false
}

// AddCertification appends a certification unless one exists for the module.
func (p *UserProgress) AddCertification(c Certification) error {
	if _, exists := p.Certification(c.ModuleID); exists {
		return shared.ErrCertificationExists
	}
	p.Certifications = append(p.Certifications, c)
	return nil
}

// ScoreFunc computes a leaderboard score from module progress.
type ScoreFunc func(modules []*ModuleProgress) int

// RecomputeScore replaces the leaderboard score with a fresh computation and
// returns the previous and new values. The score has no other setter.
func (p *UserProgress) RecomputeScore(compute ScoreFunc) (oldScore, newScore int) {
	oldScore = p.LeaderboardScore
	p.LeaderboardScore = compute(p.ModuleProgress)
	return oldScore, p.LeaderboardScore
}

// Validate checks every invariant that must hold before a save.
func (p *UserProgress) Validate() error {
	if p.UserID == "" {
		return shared.ErrInvalidUserID
	}
	if !p.Credits.Balanced() {
		return shared.WrapError("progress", "Validate", shared.ErrPersistence,
			"credits total does not match breakdown",
			fmt.Errorf("total=%d breakdown=%d", p.Credits.Total, p.Credits.BreakdownSum()))
	}
	if p.Credits.Total < 0 {
		return shared.WrapError("progress", "Validate", shared.ErrPersistence, "credits cannot be negative", shared.ErrNegativeValue)
	}
	for cat, v := range p.Credits.Breakdown {
		if v < 0 {
			return shared.WrapError("progress", "Validate", shared.ErrPersistence,
				fmt.Sprintf("credit bucket %q is negative", cat), shared.ErrNegativeValue)
		}
	}
	if p.LeaderboardScore < 0 {
		return shared.WrapError("progress", "Validate", shared.ErrPersistence, "leaderboard score cannot be negative", shared.ErrNegativeValue)
	}

	modules := make(map[string]struct{}, len(p.ModuleProgress))
	for _, m := range p.ModuleProgress {
		if m == nil {
			return shared.WrapError("progress", "Validate", shared.ErrPersistence, "nil module progress", shared.ErrInvariantViolation)
		}
		if _, dup := modules[m.ModuleID]; dup {
			return shared.WrapError("progress", "Validate", shared.ErrPersistence, "duplicate module progress", shared.ErrDuplicateModule)
		}
		modules[m.ModuleID] = struct{}{}
		if err := m.validate(); err != nil {
			return shared.WrapError("progress", "Validate", shared.ErrPersistence, "invalid module progress", err)
		}
	}

	certs := make(map[string]struct{}, len(p.Certifications))
	for _, c := range p.Certifications {
		if _, dup := certs[c.ModuleID]; dup {
			return shared.WrapError("progress", "Validate", shared.ErrPersistence, "duplicate certification", shared.ErrCertificationExists)
		}
		certs[c.ModuleID] = struct{}{}
	}

	return nil
}

// Clone returns a deep copy.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.ModuleProgress = make([]*ModuleProgress, len(p.ModuleProgress))
	for i, m := range p.ModuleProgress {
		c.ModuleProgress[i] = m.clone()
	}
	c.Credits.Breakdown = make(map[string]int, len(p.Credits.Breakdown))
	for k, v := range p.Credits.Breakdown {
		c.Credits.Breakdown[k] = v
	}
	c.Certifications = append([]Certification{}, p.Certifications...)
	return &c
}
