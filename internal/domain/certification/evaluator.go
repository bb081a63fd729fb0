// Package certification decides when a learner has finished a module and
// issues the module's certificate.
package certification

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/retry"
)

// ValidityDays is how long a certification stays valid.
const ValidityDays = 365

// Eligibility explains a CheckEligibility result.
type Eligibility struct {
	Eligible          bool     `json:"eligible"`
	ProgressComplete  bool     `json:"progressComplete"`
	MissingMilestones []string `json:"missingMilestones,omitempty"`
	AssessmentMet     bool     `json:"assessmentMet"`
}

// Evaluate reports each requirement of def against mp.
func Evaluate(mp *progress.ModuleProgress, def module.Definition) Eligibility {
	e := Eligibility{AssessmentMet: true}
	if mp == nil {
		e.AssessmentMet = def.MinAssessmentScore == nil
		e.MissingMilestones = append([]string(nil), def.RequiredMilestones...)
		return e
	}

	e.ProgressComplete = mp.OverallProgress >= 100
	for _, name := range def.RequiredMilestones {
		if !mp.HasMilestone(name) {
			e.MissingMilestones = append(e.MissingMilestones, name)
		}
	}
	if def.MinAssessmentScore != nil {
		e.AssessmentMet = mp.BestAssessmentScore != nil && *mp.BestAssessmentScore >= *def.MinAssessmentScore
	}

	e.Eligible = e.ProgressComplete && len(e.MissingMilestones) == 0 && e.AssessmentMet
	return e
}

// CheckEligibility is true when progress is 100%, every required milestone is
// achieved and the assessment minimum, if any, is met.
func CheckEligibility(mp *progress.ModuleProgress, def module.Definition) bool {
	return Evaluate(mp, def).Eligible
}

// Grant adds the module's certification to p and credits its value to the
// completion bucket. It does not check eligibility.
func Grant(p *progress.UserProgress, def module.Definition, now time.Time) (progress.Certification, error) {
	cert := progress.Certification{
		Name:          def.Certification.Name,
		ModuleID:      def.ID,
		EarnedDate:    now,
		ExpiryDate:    now.AddDate(0, 0, ValidityDays),
		Level:         def.Certification.Level,
		CreditsEarned: def.Certification.CreditValue,
	}

	if err := p.AddCertification(cert); err != nil {
		return progress.Certification{}, err
	}
	if err := p.AwardCredits(progress.CategoryCompletion, cert.CreditsEarned); err != nil {
		return progress.Certification{}, err
	}
	return cert, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator awards certifications against the progress store.
type Evaluator struct {
	repo    progress.Repository
	retrier *retry.Retrier
	now     func() time.Time
}

// NewEvaluator creates an Evaluator. A nil clock means time.Now.
func NewEvaluator(repo progress.Repository, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		repo:    repo,
		retrier: retry.ProgressUpdateRetrier(shared.IsConflict),
		now:     now,
	}
}

// Award issues the certification for def to userID. It returns
// shared.ErrCertificationExists when the user already holds it and leaves
// the stored record untouched in that case.
func (e *Evaluator) Award(ctx context.Context, userID, moduleID string, def module.Definition) (progress.Certification, error) {
	if def.ID != moduleID {
		return progress.Certification{}, shared.NewDomainError("certification", "Award", shared.ErrInvalidInput,
			"module definition does not match module ID")
	}

	var cert progress.Certification
	_, err := progress.Update(ctx, e.repo, e.retrier, userID, func(p *progress.UserProgress) error {
		var err error
		cert, err = Grant(p, def, e.now())
		return err
	})
	if err != nil {
		return progress.Certification{}, err
	}
	return cert, nil
}
