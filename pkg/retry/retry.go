// Package retry re-runs an operation with capped exponential backoff.
// Progress writes use it to absorb optimistic-lock conflicts and the
// guidance adapter uses it for one extra text-generation attempt.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// permanent stops a retry loop at once.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err so that no further attempt is made. The loop returns
// err itself, not the wrapper.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	// Attempts includes the first call. Zero keeps trying until the
	// context ends.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64

	// ShouldRetry selects retryable errors. Nil retries everything that is
	// not Permanent.
	ShouldRetry func(error) bool
}

// Option adjusts a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.Attempts = n
		}
	}
}

// UntilDone removes the attempt cap; only the context ends the loop.
func UntilDone() Option {
	return func(p *Policy) { p.Attempts = 0 }
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.BaseDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

func WithJitter(f float64) Option {
	return func(p *Policy) {
		if f >= 0 && f <= 1 {
			p.Jitter = f
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.ShouldRetry = fn }
}

// Retrier runs operations under a Policy. It is safe for concurrent use.
type Retrier struct {
	policy Policy
}

// New builds a Retrier: three attempts starting at 100ms, doubling up to 5s.
func New(opts ...Option) *Retrier {
	p := Policy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return &Retrier{policy: p}
}

// Policy returns the effective settings.
func (r *Retrier) Policy() Policy { return r.policy }

// Do calls op until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends. The last operation error wins over ctx.Err().
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	var last error
	for attempt := 0; r.policy.Attempts <= 0 || attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(r.backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return last
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			if last == nil {
				return ctx.Err()
			}
			return last
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var stop permanent
		if errors.As(err, &stop) {
			return stop.err
		}
		last = err
		if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(err) {
			return err
		}
	}
	return last
}

// backoff is the wait before the given retry (1 for the first retry).
func (r *Retrier) backoff(retry int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < retry && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if j := r.policy.Jitter; j > 0 {
		d = time.Duration(float64(d) * (1 + j*(2*rand.Float64()-1)))
	}
	return max(d, 0)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ProgressUpdateRetrier is tuned for version conflicts on a progress
// document: quick attempts with wide jitter so racing writers spread out.
// Conflicts are retried until ctx ends, so callers must bound ctx.
func ProgressUpdateRetrier(retryIf func(error) bool) *Retrier {
	return New(
		UntilDone(),
		WithInitialDelay(5*time.Millisecond),
		WithMaxDelay(200*time.Millisecond),
		WithJitter(0.5),
		WithRetryIf(retryIf),
	)
}

// TextGenerationRetrier allows a single retry so it fits inside the
// guidance deadline.
func TextGenerationRetrier(retryIf func(error) bool) *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(150*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.2),
		WithRetryIf(retryIf),
	)
}
