// Package textgen implements guidance.TextGenerator for hosted language
// models. Clients classify failures into shared error kinds so the guidance
// adapter can decide what to retry; they never retry themselves.
package textgen

import (
	"context"
	"errors"
	"net/http"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/circuitbreaker"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// classifyStatus maps an HTTP status from a provider to an error kind.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return shared.ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return shared.ErrTimeout
	case status >= 500:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrExternalService
	}
}

// classifyTransport maps a transport-level failure to an error kind.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.ErrTimeout
	case errors.Is(err, context.Canceled):
		return shared.ErrExternalService
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		// An open breaker is not retryable.
		return shared.ErrExternalService
	default:
		return shared.ErrServiceUnavailable
	}
}

func breakerLogger(log *logger.Logger) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		log.Warn("text generation breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
}
