package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type CheckFunc func(ctx context.Context) (bool, error)

type HealthCheck struct {
	Name     string
	Check    CheckFunc
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s HealthStatus) Healthy() bool { return s.Status == StatusHealthy }

// HealthChecker runs named checks on demand and in the background. The
// background loop keeps the last result of each check, which readiness
// probes read without re-running the checks.
type HealthChecker struct {
	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]string
	lastAt time.Time
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthChecker{
		logger: logger,
		now:    time.Now,
		last:   make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check CheckFunc, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check, Interval: interval, Timeout: timeout})
}

// CheckAll runs every check concurrently and records the results.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	// A failing check is a result, not an error; the group never cancels.
	results := make([]string, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			results[i] = runCheck(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	for i, check := range checks {
		h.store(check.Name, results[i])
	}
	return h.snapshot()
}

// GetReadinessStatus reports the last recorded results, running the checks
// only when nothing has been recorded yet.
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	h.mu.RLock()
	empty := h.lastAt.IsZero()
	h.mu.RUnlock()
	if empty {
		return h.CheckAll(ctx)
	}
	return h.snapshot()
}

// StartBackgroundChecks runs every check on its own interval until ctx ends.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		go h.loop(ctx, check)
	}
}

func (h *HealthChecker) loop(ctx context.Context, check HealthCheck) {
	interval := check.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.store(check.Name, runCheck(ctx, check))
		}
	}
}

func runCheck(ctx context.Context, check HealthCheck) string {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	healthy, err := check.Check(ctx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	default:
		return StatusHealthy
	}
}

// store records a result and logs when a check changes state.
func (h *HealthChecker) store(name, result string) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = result
	h.lastAt = h.now()
	h.mu.Unlock()

	if seen && prev == result {
		return
	}
	if result == StatusHealthy {
		if seen {
			h.logger.Infow("health check recovered", "check", name)
		}
		return
	}
	h.logger.Warnw("health check failed", "check", name, "error", result)
}

func (h *HealthChecker) snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.lastAt,
		Checks:    make(map[string]string, len(h.last)),
	}
	for name, result := range h.last {
		status.Checks[name] = result
		if result != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}
