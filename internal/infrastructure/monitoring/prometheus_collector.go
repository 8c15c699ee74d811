package monitoring

import (
	"livecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	// Session
	sessionState       *prometheus.GaugeVec
	sessionTransitions *prometheus.CounterVec

	// Bitrate
	currentBitrate     prometheus.Gauge
	optimalBitrate     prometheus.Gauge
	outBytesPerSecond  prometheus.Gauge
	captureFPS         prometheus.Gauge
	bitrateAdjustments *prometheus.CounterVec

	// Connectivity
	reconnectAttempts  prometheus.Counter
	reconnectExhausted prometheus.Counter
	signalingMessages  *prometheus.CounterVec
	diagnosticsDropped prometheus.Counter
}

// NewPrometheusCollector registers the collector's metrics with reg; a nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	p := &PrometheusCollector{
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livecast_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_session_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),

		currentBitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_bitrate_current_bps",
			Help: "Current video encoder bitrate in bits per second",
		}),

		optimalBitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_bitrate_optimal_bps",
			Help: "Optimal video bitrate for the configured resolution",
		}),

		outBytesPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_transport_out_bytes_per_second",
			Help: "Outgoing throughput reported by the media transport",
		}),

		captureFPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_capture_fps",
			Help: "Capture frame rate reported by the media transport",
		}),

		bitrateAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_bitrate_adjustments_total",
			Help: "Adaptive bitrate decisions by direction",
		}, []string{"direction"}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_reconnect_attempts_total",
			Help: "Media reconnection attempts",
		}),

		reconnectExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_reconnect_exhausted_total",
			Help: "Sessions failed after exhausting reconnection attempts",
		}),

		signalingMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_signaling_messages_total",
			Help: "Signaling frames by direction and event",
		}, []string{"direction", "event"}),

		diagnosticsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecast_diagnostics_dropped_total",
			Help: "Diagnostics records dropped before delivery",
		}),
	}

	p.setState(domain.StateIdle)
	return p
}

func (p *PrometheusCollector) RecordStateTransition(from, to domain.SessionState) {
	p.sessionTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.setState(to)
}

func (p *PrometheusCollector) setState(current domain.SessionState) {
	for st := domain.StateIdle; st <= domain.StateFailed; st++ {
		v := 0.0
		if st == current {
			v = 1
		}
		p.sessionState.WithLabelValues(st.String()).Set(v)
	}
}

func (p *PrometheusCollector) RecordBitrate(stats domain.Statistics) {
	p.optimalBitrate.Set(float64(stats.OptimalBitrate))
	p.currentBitrate.Set(float64(stats.NewBitrate))
	p.outBytesPerSecond.Set(float64(stats.OutBytesPerSecond))
	p.captureFPS.Set(stats.CaptureFPS)

	direction := "unchanged"
	switch {
	case stats.NewBitrate < stats.CurrentBitrate:
		direction = "down"
	case stats.NewBitrate > stats.CurrentBitrate:
		direction = "up"
	}
	p.bitrateAdjustments.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) RecordReconnectAttempt() {
	p.reconnectAttempts.Inc()
}

func (p *PrometheusCollector) RecordReconnectExhausted() {
	p.reconnectExhausted.Inc()
}

func (p *PrometheusCollector) RecordSignalingMessage(direction, name string) {
	p.signalingMessages.WithLabelValues(direction, name).Inc()
}

func (p *PrometheusCollector) RecordDiagnosticsDropped() {
	p.diagnosticsDropped.Inc()
}
