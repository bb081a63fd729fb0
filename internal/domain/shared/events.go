// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventSessionAbandoned EventType = "session.abandoned"

	EventCreditsAwarded          EventType = "progress.credits_awarded"
	EventLeaderboardScoreChanged EventType = "progress.score_changed"

	EventCertificationEarned EventType = "certification.earned"
)

// Event is something that happened to a session or a user's progress.
// Concrete events are plain structs and marshal to JSON as they are.
type Event interface {
	EventID() string
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the session ID for session events and the user ID otherwise.
	AggregateID() string
}

// Envelope carries the fields every event shares.
type Envelope struct {
	ID        string    `json:"event_id"`
	Type      EventType `json:"event_type"`
	Aggregate string    `json:"aggregate_id"`
	At        time.Time `json:"occurred_at"`
}

func newEnvelope(t EventType, aggregateID string) Envelope {
	return Envelope{ID: uuid.NewString(), Type: t, Aggregate: aggregateID, At: time.Now().UTC()}
}

func (e Envelope) EventID() string       { return e.ID }
func (e Envelope) EventType() EventType  { return e.Type }
func (e Envelope) OccurredAt() time.Time { return e.At }
func (e Envelope) AggregateID() string   { return e.Aggregate }

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a training session enters in-progress.
type SessionStartedEvent struct {
	Envelope
	UserID   string `json:"user_id"`
	ModuleID string `json:"module_id"`
}

func NewSessionStartedEvent(sessionID, userID, moduleID string) SessionStartedEvent {
	return SessionStartedEvent{
		Envelope: newEnvelope(EventSessionStarted, sessionID),
		UserID:   userID,
		ModuleID: moduleID,
	}
}

// SessionCompletedEvent is emitted after a completed session has been applied to progress.
type SessionCompletedEvent struct {
	Envelope
	UserID            string    `json:"user_id"`
	ModuleID          string    `json:"module_id"`
	CreditsEarned     int       `json:"credits_earned"`
	CompletedSessions int       `json:"completed_sessions"`
	Streak            int       `json:"streak"`
	CompletedAt       time.Time `json:"completed_at"`
}

func NewSessionCompletedEvent(sessionID, userID, moduleID string, credits, sessions, streak int, at time.Time) SessionCompletedEvent {
	return SessionCompletedEvent{
		Envelope:          newEnvelope(EventSessionCompleted, sessionID),
		UserID:            userID,
		ModuleID:          moduleID,
		CreditsEarned:     credits,
		CompletedSessions: sessions,
		Streak:            streak,
		CompletedAt:       at,
	}
}

// SessionAbandonedEvent is emitted when a session is abandoned by its owner or the reaper.
type SessionAbandonedEvent struct {
	Envelope
	UserID   string `json:"user_id"`
	ModuleID string `json:"module_id"`
	Reason   string `json:"reason"`
}

func NewSessionAbandonedEvent(sessionID, userID, moduleID, reason string) SessionAbandonedEvent {
	return SessionAbandonedEvent{
		Envelope: newEnvelope(EventSessionAbandoned, sessionID),
		UserID:   userID,
		ModuleID: moduleID,
		Reason:   reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// CreditsAwardedEvent is emitted whenever credits are added to a user.
type CreditsAwardedEvent struct {
	Envelope
	UserID   string `json:"user_id"`
	Category string `json:"category"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
}

func NewCreditsAwardedEvent(userID, category string, amount, newTotal int) CreditsAwardedEvent {
	return CreditsAwardedEvent{
		Envelope: newEnvelope(EventCreditsAwarded, userID),
		UserID:   userID,
		Category: category,
		Amount:   amount,
		NewTotal: newTotal,
	}
}

// LeaderboardScoreChangedEvent is emitted after a score recompute.
type LeaderboardScoreChangedEvent struct {
	Envelope
	UserID   string `json:"user_id"`
	OldScore int    `json:"old_score"`
	NewScore int    `json:"new_score"`

	// Version is the progress record version that holds NewScore. Consumers
	// use it to drop events that arrive out of order.
	Version int64 `json:"version"`
}

// Delta returns the score change.
func (e LeaderboardScoreChangedEvent) Delta() int {
	return e.NewScore - e.OldScore
}

func NewLeaderboardScoreChangedEvent(userID string, oldScore, newScore int, version int64) LeaderboardScoreChangedEvent {
	return LeaderboardScoreChangedEvent{
		Envelope: newEnvelope(EventLeaderboardScoreChanged, userID),
		UserID:   userID,
		OldScore: oldScore,
		NewScore: newScore,
		Version:  version,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Certification Events
// ═══════════════════════════════════════════════════════════════════════════

// CertificationEarnedEvent is emitted once per user/module certification.
type CertificationEarnedEvent struct {
	Envelope
	UserID        string    `json:"user_id"`
	ModuleID      string    `json:"module_id"`
	Name          string    `json:"name"`
	Level         string    `json:"level"`
	CreditsEarned int       `json:"credits_earned"`
	ExpiryDate    time.Time `json:"expiry_date"`
}

func NewCertificationEarnedEvent(userID, moduleID, name, level string, credits int, expiry time.Time) CertificationEarnedEvent {
	return CertificationEarnedEvent{
		Envelope:      newEnvelope(EventCertificationEarned, userID),
		UserID:        userID,
		ModuleID:      moduleID,
		Name:          name,
		Level:         level,
		CreditsEarned: credits,
		ExpiryDate:    expiry,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler reacts to one event. Errors are logged by the bus.
type EventHandler func(event Event) error

// EventPublisher is what the lifecycle manager emits through.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}
