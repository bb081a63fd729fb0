// Package scheduler runs the academy's periodic maintenance jobs on top of
// gocron. Each run can be guarded by a distributed lock so that several
// worker replicas never run the same job at the same time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/redis"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Locker takes a named lock for ttl. Implementations return
// redis.ErrLockHeld when another owner holds it.
type Locker interface {
	Lock(ctx context.Context, resource, owner string, ttl time.Duration) (release func(context.Context) error, err error)
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName   string        `json:"jobName"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`

	// Skipped is true when another replica held the lock.
	Skipped bool  `json:"skipped"`
	Error   error `json:"-"`
}

// JobStats are counters for one job.
type JobStats struct {
	Runs     int64
	Failures int64
	Skips    int64
	LastRun  *JobResult
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("scheduler: job cannot be nil")
	ErrInvalidInterval         = errors.New("scheduler: interval must be positive")
	ErrJobAlreadyExists        = errors.New("scheduler: job already registered")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger   *logger.Logger
	Timezone *time.Location

	// Locker guards every run. Nil runs jobs without a lock.
	Locker Locker

	// JobTimeout bounds a single run and sets the lock ttl.
	JobTimeout time.Duration
}

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.Mutex

	cron    *gocron.Scheduler
	locker  Locker
	owner   string
	timeout time.Duration
	log     *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	jobs  map[string]Job
	stats map[string]*JobStats
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	cron := gocron.NewScheduler(cfg.Timezone)
	cron.TagsUnique()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron,
		locker:  cfg.Locker,
		owner:   uuid.NewString(),
		timeout: cfg.JobTimeout,
		log:     cfg.Logger.With(logger.Component("scheduler")),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]Job),
		stats:   make(map[string]*JobStats),
	}
}

// Register schedules job every interval. The first run waits one interval.
// Overlapping runs of the same job are skipped.
func (s *Scheduler) Register(job Job, every time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	if every <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	_, err := s.cron.Every(every).
		Tag(name).
		SingletonMode().
		WaitForSchedule().
		Do(func() { s.execute(s.ctx, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.jobs[name] = job
	s.stats[name] = &JobStats{}

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("description", job.Description()),
		logger.Duration("every", every),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.cron.StartAsync()

	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if wasRunning {
		s.cron.Stop()
	}
	s.log.Info("scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow executes a job by name immediately, under the same lock as
// scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobName]
	s.mu.Unlock()

	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result := s.execute(ctx, job)
	return result, result.Error
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobResult {
	name := job.Name()
	result := JobResult{JobName: name, StartedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locker != nil {
		release, err := s.locker.Lock(ctx, "job:"+name, s.owner, s.timeout)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			result.Skipped = true
			result.Success = true
			s.log.Debug("job skipped, lock held elsewhere", logger.String("job", name))
			s.record(result)
			return result
		case err != nil:
			result.Error = fmt.Errorf("acquire lock: %w", err)
			s.log.Error("job lock failed", logger.String("job", name), logger.Err(err))
			s.record(result)
			return result
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer releaseCancel()
			if err := release(releaseCtx); err != nil {
				s.log.Warn("job lock release failed", logger.String("job", name), logger.Err(err))
			}
		}()
	}

	result.Error = s.run(ctx, job)
	result.Duration = time.Since(result.StartedAt)
	result.Success = result.Error == nil

	if result.Error != nil {
		s.log.Error("job failed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
			logger.Err(result.Error),
		)
	} else {
		s.log.Info("job completed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
		)
	}

	s.record(result)
	return result
}

func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) record(result JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[result.JobName]
	if !ok {
		return
	}
	switch {
	case result.Skipped:
		st.Skips++
	case result.Success:
		st.Runs++
	default:
		st.Runs++
		st.Failures++
	}
	r := result
	st.LastRun = &r
}

// Stats returns a copy of the counters for every registered job.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}
