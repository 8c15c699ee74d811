package services

import (
	"context"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CommandSender is the part of the signaling channel diagnostics need.
type CommandSender interface {
	Send(ctx context.Context, command domain.SignalingCommand, payload interface{}) error
}

type DiagnosticsConfig struct {
	QueueSize         int
	MessagesPerSecond float64
	Burst             int
	SendTimeout       time.Duration
	Platform          string
	OSVersion         string
	DeviceModel       string
}

func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		QueueSize:         256,
		MessagesPerSecond: 20,
		Burst:             40,
		SendTimeout:       5 * time.Second,
		Platform:          "linux",
	}
}

// DiagnosticsRecord is the v1:logs:new payload.
type DiagnosticsRecord struct {
	Platform    string            `json:"platform"`
	OSVersion   string            `json:"osVersion"`
	DeviceModel string            `json:"deviceModel"`
	LogLevel    domain.LogLevel   `json:"logLevel"`
	Topic       string            `json:"topic"`
	Message     string            `json:"message"`
	Params      map[string]string `json:"params,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// DiagnosticsService ships LogTopics to the remote collector over signaling.
// Report never blocks: topics are dropped when the queue is full and send
// errors are only counted.
type DiagnosticsService struct {
	cfg     DiagnosticsConfig
	sender  CommandSender
	limiter *rate.Limiter
	queue   chan domain.LogTopic
	metrics ports.MetricsRecorder
	clock   clockwork.Clock
	logger  *zap.SugaredLogger

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewDiagnosticsService(
	cfg DiagnosticsConfig,
	sender CommandSender,
	metrics ports.MetricsRecorder,
	clk clockwork.Clock,
	logger *zap.SugaredLogger,
) *DiagnosticsService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &DiagnosticsService{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		queue:   make(chan domain.LogTopic, cfg.QueueSize),
		metrics: metrics,
		clock:   clk,
		logger:  logger,
	}
}

// SetSender attaches the channel used for delivery. Must be called before Run.
func (d *DiagnosticsService) SetSender(sender CommandSender) {
	d.sender = sender
}

func (d *DiagnosticsService) Report(topic domain.LogTopic) {
	select {
	case d.queue <- topic:
	default:
		d.dropped.Add(1)
		d.metrics.RecordDiagnosticsDropped()
	}
}

// Run delivers queued topics until ctx is cancelled.
func (d *DiagnosticsService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case topic := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, topic)
		}
	}
}

func (d *DiagnosticsService) deliver(ctx context.Context, topic domain.LogTopic) {
	if d.sender == nil {
		d.dropped.Add(1)
		d.metrics.RecordDiagnosticsDropped()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, domain.CommandLogsNew, d.record(topic)); err != nil {
		d.failed.Add(1)
		d.logger.Debugw("diagnostics not delivered", "topic", topic.Kind, "error", err)
		return
	}
	d.sent.Add(1)
}

func (d *DiagnosticsService) record(topic domain.LogTopic) DiagnosticsRecord {
	return DiagnosticsRecord{
		Platform:    d.cfg.Platform,
		OSVersion:   d.cfg.OSVersion,
		DeviceModel: d.cfg.DeviceModel,
		LogLevel:    topic.Level,
		Topic:       string(topic.Kind),
		Message:     topic.Message,
		Params:      topic.Params,
		Timestamp:   d.clock.Now().UnixMilli(),
	}
}

// Stats returns sent, dropped and failed counts.
func (d *DiagnosticsService) Stats() (sent, dropped, failed uint64) {
	return d.sent.Load(), d.dropped.Load(), d.failed.Load()
}
