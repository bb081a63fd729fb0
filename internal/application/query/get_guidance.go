package query

import (
	"context"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GUIDANCE QUERY
// Guidance on demand, built from the learner's stored module progress.
// ══════════════════════════════════════════════════════════════════════════════

// GetGuidanceHandler asks the adapter for guidance outside a completion.
type GetGuidanceHandler struct {
	store   progress.Repository
	catalog module.Catalog
	adapter guidance.Adapter
}

// NewGetGuidanceHandler creates a handler. A nil adapter always falls back.
func NewGetGuidanceHandler(store progress.Repository, catalog module.Catalog, adapter guidance.Adapter) *GetGuidanceHandler {
	if adapter == nil {
		adapter = guidance.NoOpAdapter{}
	}
	return &GetGuidanceHandler{store: store, catalog: catalog, adapter: adapter}
}

// Handle returns guidance for one module. Unknown modules are NotFound; a
// learner who has not trained the module yet gets guidance for a fresh start.
func (h *GetGuidanceHandler) Handle(ctx context.Context, userID, moduleID string) (guidance.Guidance, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return guidance.Guidance{}, err
	}
	def, err := h.catalog.Get(moduleID)
	if err != nil {
		return guidance.Guidance{}, err
	}

	gctx := guidance.Context{ModuleID: def.ID, ModuleTitle: def.Title}

	p, err := h.store.Get(ctx, userID)
	switch {
	case err == nil:
		if mp, ok := p.Module(moduleID); ok {
			gctx.CompletedSessions = mp.CompletedSessions
			gctx.Streak = mp.Streak
			gctx.OverallProgress = mp.OverallProgress
			if n := len(mp.TrainingLogs); n > 0 {
				gctx.DurationMinutes = mp.TrainingLogs[n-1].Duration
			}
			_, gctx.Certified = p.Certification(moduleID)
		}
	case !shared.IsNotFound(err):
		return guidance.Guidance{}, err
	}

	return h.adapter.GetGuidance(ctx, userID, gctx), nil
}
