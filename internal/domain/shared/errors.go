package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// State errors
	ErrInvalidState       = errors.New("invalid state")
	ErrAlreadyCertified   = errors.New("already certified")
	ErrInvariantViolation = errors.New("invariant violation")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Storage errors
	ErrPersistence            = errors.New("persistence failure")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrMalformedResponse  = errors.New("malformed response")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "session", "certification"
	Op      string // Operation that failed, e.g., "Save", "Complete"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrProgressNotFound     = NewDomainError("progress", "Find", ErrNotFound, "user progress not found")
	ErrCreditsOutOfBalance  = NewDomainError("progress", "Save", ErrPersistence, "credits total does not match breakdown")
	ErrProgressConflict     = NewDomainError("progress", "Update", ErrConcurrentModification, "progress was modified concurrently")
	ErrInvalidUserID        = NewDomainError("progress", "Validate", ErrInvalidID, "invalid user ID")
	ErrDuplicateModule      = NewDomainError("progress", "Validate", ErrInvariantViolation, "module progress must be unique per module")
	ErrNegativeCreditAmount = NewDomainError("progress", "AwardCredits", ErrNegativeValue, "credit amount cannot be negative")
	ErrProgressForbidden    = NewDomainError("progress", "Authorize", ErrForbidden, "progress record does not belong to the requesting identity")
)

// Module catalog errors
var (
	ErrModuleNotFound = NewDomainError("module", "Find", ErrNotFound, "module not found")
	ErrInvalidModule  = NewDomainError("module", "Validate", ErrValidation, "invalid module definition")
)

// Session domain errors
var (
	ErrSessionNotFound      = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionNotActive     = NewDomainError("session", "RecordMetrics", ErrNotFound, "session is not in progress")
	ErrSessionAlreadyActive = NewDomainError("session", "Start", ErrInvalidState, "an in-progress session already exists for this module")
	ErrSessionTerminal      = NewDomainError("session", "Transition", ErrInvalidState, "session is already completed or abandoned")
	ErrSessionNotStarted    = NewDomainError("session", "Complete", ErrInvalidState, "session has not been started")
	ErrSessionForbidden     = NewDomainError("session", "Authorize", ErrForbidden, "session belongs to another user")
	ErrInvalidExerciseID    = NewDomainError("session", "RecordMetrics", ErrInvalidInput, "exercise ID cannot be empty")
)

// Certification domain errors
var (
	ErrCertificationExists = NewDomainError("certification", "Award", ErrAlreadyCertified, "certification already awarded for this module")
	ErrNotEligible         = NewDomainError("certification", "Award", ErrInvalidState, "module requirements not met")
)

// Guidance errors
var (
	ErrGeneratorUnavailable = NewDomainError("guidance", "Generate", ErrServiceUnavailable, "text generation is unavailable")
	ErrGuidanceMalformed    = NewDomainError("guidance", "Parse", ErrMalformedResponse, "text generation returned an unusable answer")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsInvalidState checks if the error is a lifecycle state error.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsAlreadyCertified checks if the error is a duplicate certification attempt.
func IsAlreadyCertified(err error) bool {
	return errors.Is(err, ErrAlreadyCertified)
}

// IsPersistence checks if the error is a storage failure or an invariant breach found on save.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsConflict checks if the error is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMalformedResponse)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConcurrentModification)
}
