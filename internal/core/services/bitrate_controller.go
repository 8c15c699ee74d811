package services

import (
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"go.uber.org/zap"

	"github.com/jonboulle/clockwork"
)

// BitrateConfig holds the adaptive bitrate tuning.
type BitrateConfig struct {
	Cooldown     time.Duration
	InitialDrop  float64 // optimal -> decreased
	StepDown     float64
	StepUp       float64
	FloorRatio   float64
	FloorPercent float64
}

// DefaultBitrateConfig returns the production tuning: drop to 80%, then 5%
// steps down to a 50% floor, 10% steps back up, 5 s between changes.
func DefaultBitrateConfig() BitrateConfig {
	return BitrateConfig{
		Cooldown:     5 * time.Second,
		InitialDrop:  0.8,
		StepDown:     0.95,
		StepUp:       1.1,
		FloorRatio:   0.5,
		FloorPercent: 50,
	}
}

// Adjust applies the default tuning. See BitrateConfig.Adjust.
func Adjust(state domain.BitrateState, severity domain.CongestionSeverity) (domain.BitrateState, *uint32) {
	return DefaultBitrateConfig().Adjust(state, severity)
}

// Adjust maps a congestion signal and the current level to a new target bitrate.
// It returns nil when the bitrate must not change. It does not look at CooldownActive.
func (c BitrateConfig) Adjust(state domain.BitrateState, severity domain.CongestionSeverity) (domain.BitrateState, *uint32) {
	optimal := state.OptimalBitrate
	floor := uint32(float64(optimal) * c.FloorRatio)
	var next uint32

	switch state.Level {
	case domain.BitrateOptimal:
		if severity == domain.BandwidthSufficient {
			return state, nil
		}
		next = uint32(float64(optimal) * c.InitialDrop)
		state.Level = domain.BitrateDecreased

	case domain.BitrateDecreased:
		if severity == domain.BandwidthInsufficient {
			if state.Percent() <= c.FloorPercent {
				next = floor
				break
			}
			next = uint32(float64(state.CurrentBitrate) * c.StepDown)
			if float64(next)/float64(optimal)*100 < c.FloorPercent {
				next = floor
			}
		} else {
			next = uint32(float64(state.CurrentBitrate) * c.StepUp)
			if next >= optimal {
				next = optimal
				state.Level = domain.BitrateOptimal
			}
		}

	default:
		return state, nil
	}

	if next < floor {
		next = floor
	}
	if next > optimal {
		next = optimal
	}
	state.CurrentBitrate = next
	return state, &next
}

// BitrateController owns BitrateState for one session and debounces changes.
// It is driven from the session event loop and is not safe for concurrent use.
type BitrateController struct {
	cfg         BitrateConfig
	clock       clockwork.Clock
	transport   ports.MediaTransport
	diagnostics ports.DiagnosticsSink
	metrics     ports.MetricsRecorder
	logger      *zap.SugaredLogger

	state    domain.BitrateState
	cooldown clockwork.Timer
}

// NewBitrateController creates a controller bound to a transport.
func NewBitrateController(
	cfg BitrateConfig,
	clk clockwork.Clock,
	transport ports.MediaTransport,
	diagnostics ports.DiagnosticsSink,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *BitrateController {
	return &BitrateController{
		cfg:         cfg,
		clock:       clk,
		transport:   transport,
		diagnostics: diagnostics,
		metrics:     metrics,
		logger:      logger,
	}
}

// Reset starts over at the optimal level and drops any pending cooldown.
func (b *BitrateController) Reset(optimal uint32) {
	b.Cancel()
	b.state = domain.NewBitrateState(optimal)
}

// State returns a copy of the current bitrate state.
func (b *BitrateController) State() domain.BitrateState {
	return b.state
}

// OnCongestion handles a congestion signal. It returns the statistics to
// publish, or nil while the cooldown holds.
func (b *BitrateController) OnCongestion(severity domain.CongestionSeverity) *domain.Statistics {
	if b.state.CooldownActive || b.state.OptimalBitrate == 0 {
		return nil
	}

	current := b.state.CurrentBitrate
	next, newBitrate := b.cfg.Adjust(b.state, severity)
	stats := b.statistics(current, current)
	if newBitrate == nil {
		return &stats
	}

	b.state = next
	stats.NewBitrate = *newBitrate
	b.transport.SetBitrate(*newBitrate)

	b.state.CooldownActive = true
	b.cooldown = b.clock.NewTimer(b.cfg.Cooldown)

	b.logger.Infow("video bitrate adjusted",
		"severity", severity.String(),
		"level", b.state.Level,
		"optimal_bitrate", b.state.OptimalBitrate,
		"previous_bitrate", current,
		"new_bitrate", *newBitrate,
		"out_bytes_per_second", stats.OutBytesPerSecond,
		"in_bytes_per_second", stats.InBytesPerSecond,
	)
	b.diagnostics.Report(domain.BitrateTopic(*newBitrate))
	b.metrics.RecordBitrate(stats)
	return &stats
}

// CooldownC fires when the cooldown expires; nil when no cooldown is running.
func (b *BitrateController) CooldownC() <-chan time.Time {
	if b.cooldown == nil {
		return nil
	}
	return b.cooldown.Chan()
}

// HandleCooldownExpired re-enables adjustments.
func (b *BitrateController) HandleCooldownExpired() {
	b.cooldown = nil
	b.state.CooldownActive = false
}

// Cancel stops the cooldown timer.
func (b *BitrateController) Cancel() {
	if b.cooldown != nil {
		b.cooldown.Stop()
		b.cooldown = nil
	}
	b.state.CooldownActive = false
}

func (b *BitrateController) statistics(current, next uint32) domain.Statistics {
	ts := b.transport.Stats()
	return domain.Statistics{
		OptimalBitrate:      b.state.OptimalBitrate,
		CurrentBitrate:      current,
		NewBitrate:          next,
		OutBytesPerSecond:   ts.OutBytesPerSecond,
		InBytesPerSecond:    ts.InBytesPerSecond,
		TotalBytesPerSecond: ts.OutBytesPerSecond + ts.InBytesPerSecond,
		CaptureFPS:          ts.CaptureFPS,
	}
}
