package eventhandler

import (
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// AuditHandler writes every event to the log.
type AuditHandler struct {
	log *logger.Logger
}

// NewAuditHandler creates the handler.
func NewAuditHandler(log *logger.Logger) *AuditHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditHandler{log: log.Named("audit")}
}

// Handle implements shared.EventHandler.
func (h *AuditHandler) Handle(event shared.Event) error {
	fields := []logger.Field{
		logger.String("event_id", event.EventID()),
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
		logger.Any("event", event),
	}

	switch event.EventType() {
	case shared.EventCertificationEarned, shared.EventSessionAbandoned:
		h.log.Info("academy event", fields...)
	default:
		h.log.Debug("academy event", fields...)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ═══════════════════════════════════════════════════════════════════════════

// Register subscribes the handlers to bus. scores may be nil when the
// leaderboard cache is disabled.
func Register(bus shared.EventSubscriber, scores ScoreWriter, log *logger.Logger) error {
	if err := bus.SubscribeAll(NewAuditHandler(log).Handle); err != nil {
		return err
	}
	if scores == nil {
		return nil
	}
	return bus.Subscribe(shared.EventLeaderboardScoreChanged, NewOnScoreChangedHandler(scores, 0, log).Handle)
}
