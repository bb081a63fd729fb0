package query

import (
	"context"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/certification"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ModuleProgressDTO is a module entry with its certification requirements.
type ModuleProgressDTO struct {
	*progress.ModuleProgress

	// Eligibility is omitted for modules no longer in the catalog.
	Eligibility *certification.Eligibility `json:"eligibility,omitempty"`
}

// ProgressDTO is a learner's progress.
type ProgressDTO struct {
	UserID           string                   `json:"userId"`
	ModuleProgress   []ModuleProgressDTO      `json:"moduleProgress"`
	Credits          progress.Credits         `json:"credits"`
	Certifications   []progress.Certification `json:"certifications"`
	LeaderboardScore int                      `json:"leaderboardScore"`
}

// GetProgressHandler returns a learner's progress.
type GetProgressHandler struct {
	store   progress.Repository
	catalog module.Catalog
}

// NewGetProgressHandler creates a handler.
func NewGetProgressHandler(store progress.Repository, catalog module.Catalog) *GetProgressHandler {
	return &GetProgressHandler{store: store, catalog: catalog}
}

// Handle returns shared.ErrProgressNotFound for users without a record.
func (h *GetProgressHandler) Handle(ctx context.Context, userID string) (*ProgressDTO, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	p, err := h.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	dto := &ProgressDTO{
		UserID:           p.UserID,
		ModuleProgress:   make([]ModuleProgressDTO, 0, len(p.ModuleProgress)),
		Credits:          p.Credits,
		Certifications:   p.Certifications,
		LeaderboardScore: p.LeaderboardScore,
	}
	for _, mp := range p.ModuleProgress {
		entry := ModuleProgressDTO{ModuleProgress: mp}
		if def, err := h.catalog.Get(mp.ModuleID); err == nil {
			e := certification.Evaluate(mp, def)
			entry.Eligibility = &e
		}
		dto.ModuleProgress = append(dto.ModuleProgress, entry)
	}
	return dto, nil
}
