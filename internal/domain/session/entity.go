// Package session models one attempt at a training module, from scheduling
// to completion or abandonment.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusScheduled:
		return to == StatusInProgress || to == StatusAbandoned
	case StatusInProgress:
		return to == StatusCompleted || to == StatusAbandoned
	}
	return false
}

// Metrics maps exercise IDs to metric name/value pairs.
type Metrics map[string]map[string]float64

// Clone returns a deep copy.
func (m Metrics) Clone() Metrics {
	out := make(Metrics, len(m))
	for ex, vals := range m {
		c := make(map[string]float64, len(vals))
		for k, v := range vals {
			c[k] = v
		}
		out[ex] = c
	}
	return out
}

// Exercises returns the exercise IDs that have metrics.
func (m Metrics) Exercises() []string {
	out := make([]string, 0, len(m))
	for ex := range m {
		out = append(out, ex)
	}
	return out
}

// Session is a single training attempt. Once completed or abandoned it is
// never changed again.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	ModuleID     string     `json:"moduleId"`
	Status       Status     `json:"status"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Metrics      Metrics    `json:"metrics"`

	// CreditsEarned is set when the session completes.
	CreditsEarned int `json:"creditsEarned"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewInProgress returns a session that starts immediately.
func NewInProgress(userID, moduleID string, now time.Time) *Session {
	start := now
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ModuleID:  moduleID,
		Status:    StatusInProgress,
		StartTime: &start,
		Metrics:   Metrics{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewScheduled returns a session booked for a later start.
func NewScheduled(userID, moduleID string, at, now time.Time) *Session {
	when := at
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		ModuleID:     moduleID,
		Status:       StatusScheduled,
		ScheduledFor: &when,
		Metrics:      Metrics{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Authorize returns shared.ErrSessionForbidden unless callerID owns s.
func (s *Session) Authorize(callerID string) error {
	if s.UserID != callerID {
		return shared.ErrSessionForbidden
	}
	return nil
}

// Elapsed returns the time between start and end, or zero when the session
// never started.
func (s *Session) Elapsed(end time.Time) time.Duration {
	if s.StartTime == nil || end.Before(*s.StartTime) {
		return 0
	}
	return end.Sub(*s.StartTime)
}

// Transition describes a status change applied atomically by the repository.
type Transition struct {
	To            Status
	At            time.Time
	CreditsEarned int
}

// Apply performs the transition on s, checking the current status first.
// Repositories call it while holding whatever lock guards s.
func (s *Session) Apply(from Status, t Transition) error {
	if s.Status != from {
		if s.Status.IsTerminal() {
			return shared.ErrSessionTerminal
		}
		if s.Status == StatusScheduled {
			return shared.ErrSessionNotStarted
		}
		return shared.NewDomainError("session", "Transition", shared.ErrInvalidState,
			"session is "+string(s.Status)+", expected "+string(from))
	}
	if !from.CanTransitionTo(t.To) {
		if from.IsTerminal() {
			return shared.ErrSessionTerminal
		}
		return shared.NewDomainError("session", "Transition", shared.ErrInvalidState,
			"cannot move from "+string(from)+" to "+string(t.To))
	}

	at := t.At
	s.Status = t.To
	s.UpdatedAt = at
	switch t.To {
	case StatusInProgress:
		s.StartTime = &at
	case StatusCompleted:
		s.CompletedAt = &at
		s.CreditsEarned = t.CreditsEarned
	}
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Metrics = s.Metrics.Clone()
	c.ScheduledFor = cloneTime(s.ScheduledFor)
	c.StartTime = cloneTime(s.StartTime)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
