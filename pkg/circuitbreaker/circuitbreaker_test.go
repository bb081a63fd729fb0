package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("provider down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

type transition struct{ from, to State }

func newTestBreaker(now *time.Time, seen *[]transition) *CircuitBreaker {
	return New("test", Settings{
		TripAfter:  2,
		CloseAfter: 2,
		CoolDown:   time.Minute,
		Now:        func() time.Time { return *now },
		OnStateChange: func(_ string, from, to State) {
			*seen = append(*seen, transition{from, to})
		},
	})
}

func TestBreakerLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var seen []transition
	cb := newTestBreaker(&now, &seen)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, seen)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var seen []transition
	cb := newTestBreaker(&now, &seen)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen, "cool-down restarts")
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	now := time.Now()
	var seen []transition
	cb := newTestBreaker(&now, &seen)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Empty(t, seen)
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var seen []transition
	cb := newTestBreaker(&now, &seen)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	now = now.Add(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
	close(release)
	assert.NoError(t, <-done)
}

func TestTextGenerationBreakerIgnoresCancellation(t *testing.T) {
	cb := TextGenerationBreaker("gen", nil)
	ctx := context.Background()

	for range 5 {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())

	for range 3 {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "gen", cb.Name())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
