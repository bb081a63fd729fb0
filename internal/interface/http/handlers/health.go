package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker runs the registered dependency checks.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns an error when the dependency is unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Pinger is anything with a Ping, such as the Postgres pool or Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type namedCheck struct {
	name string
	fn   HealthCheckFunc
}

// CompositeHealthChecker runs its checks concurrently, each under Timeout.
type CompositeHealthChecker struct {
	Timeout time.Duration

	mu      sync.RWMutex
	checks  []namedCheck
	started time.Time
	version string
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{Timeout: 3 * time.Second, started: time.Now(), version: version}
}

// AddCheck registers a check. A second check with the same name replaces the first.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = fn
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name, fn})
}

// Check implements HealthChecker.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, chk := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.Timeout)
			defer cancel()

			start := time.Now()
			res := CheckResult{Healthy: true, Message: "OK"}
			if err := chk.fn(cctx); err != nil {
				res = CheckResult{Message: err.Error()}
			}
			res.Duration = time.Since(start).Round(time.Millisecond).String()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	var failed []string
	for i, chk := range checks {
		status.Checks[chk.name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, chk.name)
		}
	}
	slices.Sort(failed)

	switch {
	case len(checks) == 0:
		status.Message = "no checks registered"
	case len(failed) > 0:
		status.Healthy = false
		status.Message = "failing: " + strings.Join(failed, ", ")
	default:
		status.Message = "ok"
	}
	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// Health reports every check and answers 503 when any fails.
func Health(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := checker.Check(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		Respond(c, code, status)
	}
}

// Live answers as long as the process serves requests.
func Live() gin.HandlerFunc {
	return func(c *gin.Context) {
		Respond(c, http.StatusOK, gin.H{"status": "alive"})
	}
}

// Ready answers 503 until every dependency check passes.
func Ready(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := checker.Check(c.Request.Context())
		if !status.Healthy {
			AbortWithError(c, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
		Respond(c, http.StatusOK, gin.H{"status": "ready"})
	}
}
