package query

import (
	"context"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CERTIFICATIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// CertificationDTO adds the expiry status to a certification.
type CertificationDTO struct {
	progress.Certification
	Expired bool `json:"expired"`
}

// GetCertificationsHandler lists a learner's certifications.
type GetCertificationsHandler struct {
	store progress.Repository
	now   func() time.Time
}

// NewGetCertificationsHandler creates a handler. A nil clock means time.Now.
func NewGetCertificationsHandler(store progress.Repository, now func() time.Time) *GetCertificationsHandler {
	if now == nil {
		now = time.Now
	}
	return &GetCertificationsHandler{store: store, now: now}
}

// Handle returns certifications in the order they were earned.
func (h *GetCertificationsHandler) Handle(ctx context.Context, userID string) ([]CertificationDTO, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	p, err := h.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := h.now()
	out := make([]CertificationDTO, len(p.Certifications))
	for i, c := range p.Certifications {
		out[i] = CertificationDTO{Certification: c, Expired: c.IsExpired(now)}
	}
	return out, nil
}
