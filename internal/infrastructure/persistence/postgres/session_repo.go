package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository for PostgreSQL.
// The one-active-session rule is a partial unique index, and every status
// change is an UPDATE guarded by the expected status.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

const sessionColumns = `
	id, user_id, module_id, status, scheduled_for, start_time, completed_at,
	metrics, credits_earned, created_at, updated_at
`

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	metrics, err := json.Marshal(s.Metrics)
	if err != nil {
		return storageError("session", "Create", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO training_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		s.ID,
		s.UserID,
		s.ModuleID,
		string(s.Status),
		s.ScheduledFor,
		s.StartTime,
		s.CompletedAt,
		metrics,
		s.CreditsEarned,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrSessionAlreadyActive
		}
		return storageError("session", "Create", err)
	}
	return nil
}

// Get returns a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	if !validSessionID(id) {
		return nil, shared.ErrSessionNotFound
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	s, err := scanSession(r.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM training_sessions WHERE id = $1`, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, storageError("session", "Get", err)
	}
	return s, nil
}

// RecordMetrics replaces one exercise's metrics while the session is in progress.
func (r *SessionRepository) RecordMetrics(ctx context.Context, id, exerciseID string, metrics map[string]float64, at time.Time) (*session.Session, error) {
	if !validSessionID(id) {
		return nil, shared.ErrSessionNotFound
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(metrics)
	if err != nil {
		return nil, storageError("session", "RecordMetrics", err)
	}

	s, err := scanSession(r.conn.QueryRow(ctx, `
		UPDATE training_sessions SET
			metrics = jsonb_set(metrics, ARRAY[$2::text], $3::jsonb, true),
			updated_at = $4
		WHERE id = $1 AND status = 'in-progress'
		RETURNING `+sessionColumns,
		id, exerciseID, payload, at,
	))
	if err == nil {
		return s, nil
	}
	if !IsNoRows(err) {
		return nil, storageError("session", "RecordMetrics", err)
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, shared.ErrSessionNotActive
}

// Transition applies a status change with a compare-and-set on status.
func (r *SessionRepository) Transition(ctx context.Context, id string, from session.Status, t session.Transition) (*session.Session, error) {
	if !validSessionID(id) {
		return nil, shared.ErrSessionNotFound
	}
	if !from.CanTransitionTo(t.To) {
		if from.IsTerminal() {
			return nil, shared.ErrSessionTerminal
		}
		return nil, shared.NewDomainError("session", "Transition", shared.ErrInvalidState,
			"cannot move from "+string(from)+" to "+string(t.To))
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	s, err := scanSession(r.conn.QueryRow(ctx, `
		UPDATE training_sessions SET
			status = $3,
			start_time = CASE WHEN $3 = 'in-progress' THEN $4 ELSE start_time END,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
			credits_earned = CASE WHEN $3 = 'completed' THEN $5 ELSE credits_earned END,
			updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns,
		id, string(from), string(t.To), t.At, t.CreditsEarned,
	))
	if err == nil {
		return s, nil
	}
	if !IsNoRows(err) {
		if IsUniqueViolation(err) {
			return nil, shared.ErrSessionAlreadyActive
		}
		return nil, storageError("session", "Transition", err)
	}

	// Lost the race or wrong starting state: report what the row says.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if err := current.Apply(from, t); err != nil {
		return nil, err
	}
	return nil, shared.NewDomainError("session", "Transition", shared.ErrConcurrentModification,
		"session changed during transition")
}

// FindActive returns the in-progress session for a user and module.
func (r *SessionRepository) FindActive(ctx context.Context, userID, moduleID string) (*session.Session, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	s, err := scanSession(r.conn.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM training_sessions
		WHERE user_id = $1 AND module_id = $2 AND status = 'in-progress'
	`, userID, moduleID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, storageError("session", "FindActive", err)
	}
	return s, nil
}

// ListStale returns in-progress sessions that started before the cutoff.
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	return r.list(ctx, "ListStale", `
		SELECT `+sessionColumns+` FROM training_sessions
		WHERE status = 'in-progress' AND start_time < $1
		ORDER BY start_time ASC
		LIMIT $2
	`, before, limit)
}

// ListByUser returns the user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	return r.list(ctx, "ListByUser", `
		SELECT `+sessionColumns+` FROM training_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *SessionRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*session.Session, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("session", op, err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storageError("session", op, err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("session", op, err)
	}
	return sessions, nil
}

// validSessionID keeps malformed IDs away from the uuid column.
func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		s       session.Session
		status  string
		metrics []byte
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ModuleID,
		&status,
		&s.ScheduledFor,
		&s.StartTime,
		&s.CompletedAt,
		&metrics,
		&s.CreditsEarned,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = session.Status(status)
	s.Metrics = session.Metrics{}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &s.Metrics); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
