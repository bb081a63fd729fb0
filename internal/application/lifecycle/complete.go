package lifecycle

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/certification"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/scoring"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SESSION
// ══════════════════════════════════════════════════════════════════════════════

// CompleteResult is what a learner gets back after finishing a session.
type CompleteResult struct {
	Session *session.Session `json:"session"`

	Credits scoring.CreditAward `json:"credits"`

	// Progress is the committed record; Module points into it.
	Progress *progress.UserProgress  `json:"-"`
	Module   *progress.ModuleProgress `json:"moduleProgress"`

	CreditsTotal     int `json:"creditsTotal"`
	LeaderboardScore int `json:"leaderboardScore"`

	// Certification is set when this session earned one.
	Certification *progress.Certification `json:"certification,omitempty"`

	NewMilestones []string `json:"newMilestones,omitempty"`

	Guidance guidance.Guidance `json:"guidance"`
}

// completion collects what one run of the progress mutation changed. The
// mutation may run more than once, so it is reset at the start of each run.
type completion struct {
	oldScore   int
	newScore   int
	cert       *progress.Certification
	milestones []string
}

// Complete finishes an in-progress session and applies it to the user's
// progress:
//
//  1. the session moves to completed with its credits (compare-and-set)
//  2. a training log is appended
//  3. completed sessions are counted
//  4. the streak is updated in the configured time zone
//  5. credits go to the total and the module's bucket
//  6. the leaderboard score is recomputed from scratch
//  7. the certification is granted once the module is complete
//  8. guidance is requested, falling back to the static answer
//
// Steps 2 to 7 are one optimistic read-modify-write whose conflicts are
// retried until the Complete deadline. When it still fails after step 1 the
// session stays completed and a persistence error is returned.
func (m *Manager) Complete(ctx context.Context, callerID, sessionID string, perf scoring.Performance) (*CompleteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CompleteTimeout)
	defer cancel()
	started := time.Now()

	if err := validatePerformance(perf); err != nil {
		return nil, err
	}

	sess, err := m.loadOwned(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status.IsTerminal():
		return nil, shared.ErrSessionTerminal
	case sess.Status == session.StatusScheduled:
		return nil, shared.ErrSessionNotStarted
	}

	def, err := m.catalog.Get(sess.ModuleID)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	perf = normalizePerformance(perf, sess, def, now)
	award := m.cfg.Policy.ComputeCredits(perf)

	completed, err := m.sessions.Transition(ctx, sessionID, session.StatusInProgress, session.Transition{
		To:            session.StatusCompleted,
		At:            now,
		CreditsEarned: award.TotalEarned,
	})
	if err != nil {
		return nil, err
	}

	exercises := append(append([]string(nil), perf.ExercisesCompleted...), completed.Metrics.Exercises()...)

	var out completion
	updated, err := progress.Update(ctx, m.progress, m.retrier, completed.UserID, func(p *progress.UserProgress) error {
		out = completion{}
		mp := p.GetOrCreateModuleProgress(def.ID)

		mp.AppendLog(progress.NewTrainingLog(now, exercises, perf.DurationMinutes, perf.CaloriesBurned))
		mp.CompletedSessions++
		mp.Streak = scoring.UpdateStreak(mp.Streak, mp.LastSessionDate, now, m.cfg.Location)
		mp.MarkSession(now)

		if err := p.AwardCredits(def.CreditCategory(), award.TotalEarned); err != nil {
			return err
		}
		mp.TotalCreditsEarned += award.TotalEarned

		for _, name := range perf.Milestones {
			if mp.AchieveMilestone(name, now) {
				out.milestones = append(out.milestones, name)
			}
		}
		if perf.AssessmentScore != nil {
			mp.RecordAssessment(*perf.AssessmentScore)
		}
		mp.OverallProgress = scoring.ModuleCompletion(mp.CompletedSessions, def.RequiredSessions)

		out.oldScore, out.newScore = p.RecomputeScore(scoring.ComputeLeaderboardScore)

		if _, held := p.Certification(def.ID); !held && certification.CheckEligibility(mp, def) {
			cert, err := certification.Grant(p, def, now)
			switch {
			case err == nil:
				out.cert = &cert
			case !shared.IsAlreadyCertified(err):
				return err
			}
		}

		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		m.log.Error("session completed but progress was not updated",
			logger.SessionID(sessionID),
			logger.UserID(completed.UserID),
			logger.ModuleID(completed.ModuleID),
			logger.Err(err),
		)
		if !shared.IsPersistence(err) {
			err = shared.WrapError("progress", "Complete", shared.ErrPersistence, "progress update failed", err)
		}
		return nil, err
	}

	mp, _ := updated.Module(def.ID)
	m.publishCompletion(completed, def, mp, updated, award, out)

	result := &CompleteResult{
		Session:          completed,
		Credits:          award,
		Progress:         updated,
		Module:           mp,
		CreditsTotal:     updated.Credits.Total,
		LeaderboardScore: updated.LeaderboardScore,
		Certification:    out.cert,
		NewMilestones:    out.milestones,
	}

	result.Guidance = m.requestGuidance(ctx, completed.UserID, guidance.Context{
		ModuleID:          def.ID,
		ModuleTitle:       def.Title,
		Metrics:           completed.Metrics.Clone(),
		CompletedSessions: mp.CompletedSessions,
		Streak:            mp.Streak,
		OverallProgress:   mp.OverallProgress,
		CreditsEarned:     award.TotalEarned,
		DurationMinutes:   perf.DurationMinutes,
		Certified:         out.cert != nil,
	})

	m.log.Info("session completed",
		logger.SessionID(sessionID),
		logger.UserID(completed.UserID),
		logger.ModuleID(def.ID),
		logger.Credits(award.TotalEarned),
		logger.Score(updated.LeaderboardScore),
		logger.Bool("certified", out.cert != nil),
		logger.Bool("guidance_fallback", result.Guidance.Fallback),
		logger.Latency(time.Since(started)),
	)
	return result, nil
}

func (m *Manager) publishCompletion(
	sess *session.Session,
	def module.Definition,
	mp *progress.ModuleProgress,
	p *progress.UserProgress,
	award scoring.CreditAward,
	out completion,
) {
	events := []shared.Event{
		shared.NewSessionCompletedEvent(sess.ID, sess.UserID, def.ID, award.TotalEarned, mp.CompletedSessions, mp.Streak, *sess.CompletedAt),
		shared.NewCreditsAwardedEvent(sess.UserID, def.CreditCategory(), award.TotalEarned, p.Credits.Total),
	}
	if out.cert != nil {
		events = append(events, shared.NewCertificationEarnedEvent(
			sess.UserID, def.ID, out.cert.Name, out.cert.Level, out.cert.CreditsEarned, out.cert.ExpiryDate))
	}
	if out.oldScore != out.newScore {
		events = append(events, shared.NewLeaderboardScoreChangedEvent(sess.UserID, out.oldScore, out.newScore, p.Version))
	}
	m.publish(events...)
}

// guidanceBudget is GuidanceTimeout, cut so that guidance ends at least
// minGuidanceHeadroom before ctx does.
func (m *Manager) guidanceBudget(ctx context.Context) time.Duration {
	budget := m.cfg.GuidanceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(deadline)-minGuidanceHeadroom)
	}
	return max(budget, 0)
}

// requestGuidance calls the adapter under its own deadline. An adapter that
// overruns the deadline is abandoned and the fallback is used.
func (m *Manager) requestGuidance(ctx context.Context, userID string, gctx guidance.Context) guidance.Guidance {
	budget := m.guidanceBudget(ctx)
	if budget == 0 {
		m.log.Warn("no time left for guidance, using fallback", logger.UserID(userID), logger.ModuleID(gctx.ModuleID))
		return guidance.Fallback()
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan guidance.Guidance, 1)
	go func() {
		done <- m.guidance.GetGuidance(ctx, userID, gctx)
	}()

	select {
	case g := <-done:
		return g
	case <-ctx.Done():
		m.log.Warn("guidance deadline exceeded, using fallback", logger.UserID(userID), logger.ModuleID(gctx.ModuleID))
		return guidance.Fallback()
	}
}

func validatePerformance(perf scoring.Performance) error {
	if perf.AssessmentScore != nil && (*perf.AssessmentScore < 0 || *perf.AssessmentScore > 100) {
		return shared.NewDomainError("session", "Complete", shared.ErrInvalidInput, "assessment score must be within 0-100")
	}
	for _, name := range perf.Milestones {
		if name == "" {
			return shared.NewDomainError("session", "Complete", shared.ErrInvalidInput, "milestone names cannot be empty")
		}
	}
	return nil
}

// normalizePerformance fills in what the client left out: the duration from
// the session clock and the target from the module definition.
func normalizePerformance(perf scoring.Performance, sess *session.Session, def module.Definition, now time.Time) scoring.Performance {
	if perf.DurationMinutes <= 0 {
		perf.DurationMinutes = sess.Elapsed(now).Minutes()
	}
	if perf.TargetMinutes <= 0 {
		perf.TargetMinutes = def.TargetDurationMinutes
	}
	if perf.CaloriesBurned < 0 {
		perf.CaloriesBurned = 0
	}
	if perf.BonusChallenges < 0 {
		perf.BonusChallenges = 0
	}
	return perf
}
