package session

import (
	"context"
	"time"
)

// Repository stores sessions. Every state change goes through a conditional
// write so two writers can never both move the same session.
type Repository interface {
	// Create persists a new session. It returns shared.ErrSessionAlreadyActive
	// when s is in progress and the user already has an in-progress session
	// for the same module.
	Create(ctx context.Context, s *Session) error

	// Get returns shared.ErrSessionNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Session, error)

	// RecordMetrics overwrites the metrics of one exercise, but only while the
	// session is in progress. It returns shared.ErrSessionNotActive otherwise.
	RecordMetrics(ctx context.Context, id, exerciseID string, metrics map[string]float64, at time.Time) (*Session, error)

	// Transition moves the session from one status to another in a single
	// conditional write and returns the updated session.
	Transition(ctx context.Context, id string, from Status, t Transition) (*Session, error)

	// FindActive returns the user's in-progress session for a module, or
	// shared.ErrSessionNotFound.
	FindActive(ctx context.Context, userID, moduleID string) (*Session, error)

	// ListStale returns in-progress sessions started before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// ListByUser returns the user's sessions, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)
}
