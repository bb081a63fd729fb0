package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/redis"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released []string
}

func (l *fakeLocker) Lock(_ context.Context, resource, owner string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[resource]; ok {
		return nil, redis.ErrLockHeld
	}
	l.held[resource] = owner
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, resource)
		l.released = append(l.released, resource)
		return nil
	}, nil
}

func TestScheduler_Register(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	assert.ErrorIs(t, s.Register(nil, time.Minute), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, 0), ErrInvalidInterval)
	require.NoError(t, s.Register(&countingJob{name: "a"}, time.Minute))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, time.Minute), ErrJobAlreadyExists)
}

func TestScheduler_RunNow(t *testing.T) {
	locker := &fakeLocker{}
	s := New(Config{Locker: locker})
	defer s.Stop()

	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("db down")}
	panicky := &countingJob{name: "panicky", panic: true}
	for _, j := range []Job{ok, failing, panicky} {
		require.NoError(t, s.Register(j, time.Hour))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), ok.runs.Load())
	assert.Equal(t, []string{"job:ok"}, locker.released)

	_, err = s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "db down")

	_, err = s.RunNow(context.Background(), "panicky")
	assert.ErrorContains(t, err, "job panic")

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["ok"].Runs)
	assert.Equal(t, int64(1), stats["failing"].Failures)
	assert.Equal(t, int64(1), stats["panicky"].Failures)
}

func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{"job:busy": "other-replica"}}
	s := New(Config{Locker: locker})
	defer s.Stop()

	job := &countingJob{name: "busy"}
	require.NoError(t, s.Register(job, time.Hour))

	res, err := s.RunNow(context.Background(), "busy")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, job.runs.Load())
	assert.Equal(t, int64(1), s.Stats()["busy"].Skips)

	locker.err = errors.New("redis unreachable")
	_, err = s.RunNow(context.Background(), "busy")
	assert.ErrorContains(t, err, "acquire lock")
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, 20*time.Millisecond))

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
}
