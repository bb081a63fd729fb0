// Package lifecycle runs training sessions from start to completion and
// applies their results to the learner's progress.
package lifecycle

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/scoring"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains lifecycle settings.
type Config struct {
	// CompleteTimeout bounds a whole Complete call.
	CompleteTimeout time.Duration

	// GuidanceTimeout bounds the guidance step. It is clamped below
	// CompleteTimeout.
	GuidanceTimeout time.Duration

	// Location defines calendar days for streaks.
	Location *time.Location

	// Policy sets the credit amounts.
	Policy scoring.Policy

	// ReapBatchSize caps how many stale sessions one ReapStale call handles.
	ReapBatchSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CompleteTimeout: 15 * time.Second,
		GuidanceTimeout: 5 * time.Second,
		Location:        time.UTC,
		Policy:          scoring.DefaultPolicy(),
		ReapBatchSize:   500,
	}
}

// minGuidanceHeadroom is kept between the guidance deadline and Complete's
// own deadline so the result can still be returned.
const minGuidanceHeadroom = 100 * time.Millisecond

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.CompleteTimeout <= 0 {
		c.CompleteTimeout = def.CompleteTimeout
	}
	if c.GuidanceTimeout <= 0 {
		c.GuidanceTimeout = def.GuidanceTimeout
	}
	if limit := c.CompleteTimeout - minGuidanceHeadroom; c.GuidanceTimeout > limit {
		c.GuidanceTimeout = limit
		if c.GuidanceTimeout <= 0 {
			c.GuidanceTimeout = c.CompleteTimeout / 2
		}
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = def.ReapBatchSize
	}
	return c
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Sessions session.Repository
	Progress progress.Repository
	Catalog  module.Catalog

	// Guidance defaults to guidance.NoOpAdapter.
	Guidance guidance.Adapter

	// Events may be nil.
	Events shared.EventPublisher

	Logger *logger.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// Retrier for progress updates; defaults to retry.ProgressUpdateRetrier.
	Retrier *retry.Retrier
}

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// Manager owns the session state machine. It is safe for concurrent use;
// all coordination happens in the repositories.
type Manager struct {
	sessions session.Repository
	progress progress.Repository
	catalog  module.Catalog
	guidance guidance.Adapter
	events   shared.EventPublisher
	log      *logger.Logger
	now      func() time.Time
	retrier  *retry.Retrier
	cfg      Config
}

// NewManager creates a Manager.
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Guidance == nil {
		deps.Guidance = guidance.NoOpAdapter{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Retrier == nil {
		deps.Retrier = retry.ProgressUpdateRetrier(shared.IsConflict)
	}

	return &Manager{
		sessions: deps.Sessions,
		progress: deps.Progress,
		catalog:  deps.Catalog,
		guidance: deps.Guidance,
		events:   deps.Events,
		log:      deps.Logger.With(logger.Component("lifecycle")),
		now:      deps.Now,
		retrier:  deps.Retrier,
		cfg:      cfg.normalized(),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// publish sends events after state is committed. Failures are logged only.
func (m *Manager) publish(events ...shared.Event) {
	if m.events == nil {
		return
	}
	for _, e := range events {
		if err := m.events.Publish(e); err != nil {
			m.log.Warn("publish event failed",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}

// loadOwned fetches a session and checks that callerID owns it.
func (m *Manager) loadOwned(ctx context.Context, callerID, sessionID string) (*session.Session, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Authorize(callerID); err != nil {
		return nil, err
	}
	return sess, nil
}

// ensureModuleProgress creates the user's progress record and the module
// entry when either is missing.
func (m *Manager) ensureModuleProgress(ctx context.Context, userID, moduleID string) error {
	p, err := m.progress.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := p.Module(moduleID); ok {
		return nil
	}
	_, err = progress.Update(ctx, m.progress, m.retrier, userID, func(p *progress.UserProgress) error {
		p.GetOrCreateModuleProgress(moduleID)
		p.UpdatedAt = m.clock()
		return nil
	})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// START / SCHEDULE / BEGIN
// ══════════════════════════════════════════════════════════════════════════════

// Start opens an in-progress session. It returns shared.ErrModuleNotFound for
// unknown modules and shared.ErrSessionAlreadyActive when the user already
// has one running for the module.
func (m *Manager) Start(ctx context.Context, userID, moduleID string) (*session.Session, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	if _, err := m.catalog.Get(moduleID); err != nil {
		return nil, err
	}
	if err := m.ensureModuleProgress(ctx, userID, moduleID); err != nil {
		return nil, err
	}

	sess := session.NewInProgress(userID, moduleID, m.clock())
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	m.log.Info("session started",
		logger.SessionID(sess.ID),
		logger.UserID(userID),
		logger.ModuleID(moduleID),
	)
	m.publish(shared.NewSessionStartedEvent(sess.ID, userID, moduleID))
	return sess, nil
}

// Schedule books a session for later. Scheduled sessions do not count
// against the one-active-session rule until they begin.
func (m *Manager) Schedule(ctx context.Context, userID, moduleID string, at time.Time) (*session.Session, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	if _, err := m.catalog.Get(moduleID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, shared.NewDomainError("session", "Schedule", shared.ErrInvalidInput, "scheduled time is required")
	}

	sess := session.NewScheduled(userID, moduleID, at.UTC(), m.clock())
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	m.log.Info("session scheduled",
		logger.SessionID(sess.ID),
		logger.UserID(userID),
		logger.ModuleID(moduleID),
		logger.Time("scheduled_for", at),
	)
	return sess, nil
}

// Begin moves a scheduled session to in-progress.
func (m *Manager) Begin(ctx context.Context, callerID, sessionID string) (*session.Session, error) {
	sess, err := m.loadOwned(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusScheduled {
		if sess.Status.IsTerminal() {
			return nil, shared.ErrSessionTerminal
		}
		return nil, shared.NewDomainError("session", "Begin", shared.ErrInvalidState, "session has already begun")
	}
	if err := m.ensureModuleProgress(ctx, sess.UserID, sess.ModuleID); err != nil {
		return nil, err
	}

	updated, err := m.sessions.Transition(ctx, sessionID, session.StatusScheduled, session.Transition{
		To: session.StatusInProgress,
		At: m.clock(),
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("session begun", logger.SessionID(sessionID), logger.UserID(callerID))
	m.publish(shared.NewSessionStartedEvent(updated.ID, updated.UserID, updated.ModuleID))
	return updated, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// RecordMetrics stores the latest metrics for one exercise. Later calls for
// the same exercise replace earlier ones.
func (m *Manager) RecordMetrics(ctx context.Context, callerID, sessionID, exerciseID string, metrics map[string]float64) (*session.Session, error) {
	if exerciseID == "" {
		return nil, shared.ErrInvalidExerciseID
	}

	sess, err := m.loadOwned(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusInProgress {
		return nil, shared.ErrSessionNotActive
	}

	copied := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}
	return m.sessions.RecordMetrics(ctx, sessionID, exerciseID, copied, m.clock())
}

// GetSession returns a session owned by callerID.
func (m *Manager) GetSession(ctx context.Context, callerID, sessionID string) (*session.Session, error) {
	return m.loadOwned(ctx, callerID, sessionID)
}

// ListSessions returns the caller's most recent sessions.
func (m *Manager) ListSessions(ctx context.Context, callerID string, limit int) ([]*session.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.sessions.ListByUser(ctx, callerID, limit)
}

// ══════════════════════════════════════════════════════════════════════════════
// ABANDON / REAP
// ══════════════════════════════════════════════════════════════════════════════

// Abandon ends a scheduled or in-progress session without touching progress.
func (m *Manager) Abandon(ctx context.Context, callerID, sessionID string) (*session.Session, error) {
	sess, err := m.loadOwned(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, shared.ErrSessionTerminal
	}

	updated, err := m.sessions.Transition(ctx, sessionID, sess.Status, session.Transition{
		To: session.StatusAbandoned,
		At: m.clock(),
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("session abandoned", logger.SessionID(sessionID), logger.UserID(callerID))
	m.publish(shared.NewSessionAbandonedEvent(sessionID, updated.UserID, updated.ModuleID, "user"))
	return updated, nil
}

// ReapStale abandons in-progress sessions that started before now-olderThan.
// Sessions that finish concurrently are skipped. It returns how many were
// abandoned.
func (m *Manager) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, shared.NewDomainError("session", "ReapStale", shared.ErrInvalidInput, "stale age must be positive")
	}
	cutoff := m.clock().Add(-olderThan)

	stale, err := m.sessions.ListStale(ctx, cutoff, m.cfg.ReapBatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sess := range stale {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		_, err := m.sessions.Transition(ctx, sess.ID, session.StatusInProgress, session.Transition{
			To: session.StatusAbandoned,
			At: m.clock(),
		})
		if err != nil {
			if shared.IsInvalidState(err) {
				continue
			}
			return reaped, err
		}
		reaped++
		m.publish(shared.NewSessionAbandonedEvent(sess.ID, sess.UserID, sess.ModuleID, "stale"))
	}

	if reaped > 0 {
		m.log.Info("stale sessions abandoned", logger.Int("count", reaped), logger.Time("cutoff", cutoff))
	}
	return reaped, nil
}
