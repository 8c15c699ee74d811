package services

import (
	"time"

	"livecast/internal/core/ports"

	"go.uber.org/zap"

	"github.com/jonboulle/clockwork"
)

// ReconnectConfig controls publish retries after an unexpected disconnect.
type ReconnectConfig struct {
	Interval   time.Duration
	MaxRetries int
}

// DefaultReconnectConfig retries every 5 s, six times.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{Interval: 5 * time.Second, MaxRetries: 6}
}

// TickResult is what a supervisor tick did.
type TickResult int

const (
	TickIgnored TickResult = iota
	TickRetried
	TickExhausted
)

func (r TickResult) String() string {
	switch r {
	case TickRetried:
		return "retried"
	case TickExhausted:
		return "exhausted"
	default:
		return "ignored"
	}
}

// ReconnectSupervisor re-issues publish on a periodic timer until the
// transport reconnects or the retry ceiling is hit. Owned by the session loop.
type ReconnectSupervisor struct {
	cfg       ReconnectConfig
	clock     clockwork.Clock
	transport ports.MediaTransport
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger

	ticker     clockwork.Ticker
	retryCount int
}

func NewReconnectSupervisor(
	cfg ReconnectConfig,
	clk clockwork.Clock,
	transport ports.MediaTransport,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ReconnectSupervisor {
	return &ReconnectSupervisor{
		cfg:       cfg,
		clock:     clk,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Arm starts the retry timer. It returns false when a timer is already running.
func (r *ReconnectSupervisor) Arm() bool {
	if r.ticker != nil {
		return false
	}
	r.stop()
	r.retryCount = 0
	r.ticker = r.clock.NewTicker(r.cfg.Interval)
	r.logger.Infow("reconnect supervisor armed",
		"interval", r.cfg.Interval,
		"max_retries", r.cfg.MaxRetries,
	)
	return true
}

// Disarm cancels the timer and resets the retry count.
func (r *ReconnectSupervisor) Disarm() {
	if r.ticker != nil {
		r.logger.Debugw("reconnect supervisor disarmed", "retry_count", r.retryCount)
	}
	r.stop()
	r.retryCount = 0
}

// HandleTick runs one retry attempt.
func (r *ReconnectSupervisor) HandleTick() TickResult {
	if r.ticker == nil {
		return TickIgnored
	}

	if r.retryCount >= r.cfg.MaxRetries {
		r.logger.Warnw("max reconnect attempts reached", "retry_count", r.retryCount)
		r.Disarm()
		r.metrics.RecordReconnectExhausted()
		return TickExhausted
	}

	r.retryCount++
	r.metrics.RecordReconnectAttempt()
	if r.transport.Connected() {
		r.logger.Debugw("transport already connected, skipping publish", "retry_count", r.retryCount)
		return TickRetried
	}
	r.logger.Infow("retrying publish", "retry_count", r.retryCount)
	r.transport.Resume()
	return TickRetried
}

// C delivers retry ticks; nil when disarmed.
func (r *ReconnectSupervisor) C() <-chan time.Time {
	if r.ticker == nil {
		return nil
	}
	return r.ticker.Chan()
}

func (r *ReconnectSupervisor) Active() bool {
	return r.ticker != nil
}

func (r *ReconnectSupervisor) RetryCount() int {
	return r.retryCount
}

func (r *ReconnectSupervisor) stop() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}
