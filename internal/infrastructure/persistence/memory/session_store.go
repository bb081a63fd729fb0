package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// SessionStore implements session.Repository.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	// active indexes in-progress sessions by user and module.
	active map[activeKey]string
}

type activeKey struct {
	userID   string
	moduleID string
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session.Session),
		active:   make(map[activeKey]string),
	}
}

// Create implements session.Repository.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return shared.NewDomainError("session", "Create", shared.ErrAlreadyExists, "session ID already used")
	}

	key := activeKey{sess.UserID, sess.ModuleID}
	if sess.Status == session.StatusInProgress {
		if _, busy := s.active[key]; busy {
			return shared.ErrSessionAlreadyActive
		}
		s.active[key] = sess.ID
	}

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get implements session.Repository.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// RecordMetrics implements session.Repository.
func (s *SessionStore) RecordMetrics(ctx context.Context, id, exerciseID string, metrics map[string]float64, at time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	if sess.Status != session.StatusInProgress {
		return nil, shared.ErrSessionNotActive
	}

	values := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		values[k] = v
	}
	sess.Metrics[exerciseID] = values
	sess.UpdatedAt = at
	return sess.Clone(), nil
}

// Transition implements session.Repository.
func (s *SessionStore) Transition(ctx context.Context, id string, from session.Status, t session.Transition) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}

	key := activeKey{sess.UserID, sess.ModuleID}
	if t.To == session.StatusInProgress {
		if other, busy := s.active[key]; busy && other != id {
			return nil, shared.ErrSessionAlreadyActive
		}
	}

	next := sess.Clone()
	if err := next.Apply(from, t); err != nil {
		return nil, err
	}

	switch {
	case next.Status == session.StatusInProgress:
		s.active[key] = id
	case next.Status.IsTerminal() && s.active[key] == id:
		delete(s.active, key)
	}

	s.sessions[id] = next
	return next.Clone(), nil
}

// FindActive implements session.Repository.
func (s *SessionStore) FindActive(ctx context.Context, userID, moduleID string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[activeKey{userID, moduleID}]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

// ListStale implements session.Repository.
func (s *SessionStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	return s.list(ctx, limit, func(a, b *session.Session) bool {
		return a.StartTime.Before(*b.StartTime)
	}, func(sess *session.Session) bool {
		return sess.Status == session.StatusInProgress && sess.StartTime != nil && sess.StartTime.Before(before)
	})
}

// ListByUser implements session.Repository.
func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	return s.list(ctx, limit, func(a, b *session.Session) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, func(sess *session.Session) bool {
		return sess.UserID == userID
	})
}

func (s *SessionStore) list(ctx context.Context, limit int, less func(a, b *session.Session) bool, keep func(*session.Session) bool) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, sess.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
