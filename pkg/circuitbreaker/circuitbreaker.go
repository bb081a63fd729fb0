// Package circuitbreaker stops calling a dependency that keeps failing.
// The text-generation clients wrap every provider call in a breaker so an
// outage costs one fast error instead of a full guidance timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects calls while the cool-down runs.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configures a breaker. Zero fields take the defaults noted.
type Settings struct {
	// TripAfter consecutive failures open the breaker. Default 5.
	TripAfter int
	// CloseAfter consecutive probe successes close it again. Default 1.
	CloseAfter int
	// CoolDown is how long the breaker stays open. Default 30s.
	CoolDown time.Duration
	// Probes is the number of concurrent half-open calls. Default 1.
	Probes int

	// Counts decides whether an error is the dependency's fault.
	// Nil counts every error.
	Counts func(error) bool

	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.CloseAfter <= 0 {
		s.CloseAfter = 1
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// CircuitBreaker guards one dependency.
type CircuitBreaker struct {
	name string
	set  Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(name string, s Settings) *CircuitBreaker {
	return &CircuitBreaker{name: name, set: s.withDefaults()}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current position. An open breaker whose cool-down has
// elapsed still reads as open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.set.Now().Sub(cb.openedAt) < cb.set.CoolDown {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.set.Probes {
			return false, ErrTooManyRequests
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.inFlight > 0 {
		cb.inFlight--
	}
	failed := err != nil && (cb.set.Counts == nil || cb.set.Counts(err))

	switch {
	case failed && cb.state == StateHalfOpen:
		cb.trip()
	case failed:
		cb.successes = 0
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.set.TripAfter {
			cb.trip()
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.set.CloseAfter {
			cb.transition(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.set.Now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures, cb.successes, cb.inFlight = 0, 0, 0
	if cb.set.OnStateChange != nil {
		cb.set.OnStateChange(cb.name, from, to)
	}
}

// TextGenerationBreaker opens after three provider failures and probes again
// after a minute. Caller cancellations are not the provider's fault.
func TextGenerationBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(name, Settings{
		TripAfter:     3,
		CloseAfter:    1,
		CoolDown:      time.Minute,
		Probes:        1,
		OnStateChange: onStateChange,
		Counts: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})
}
