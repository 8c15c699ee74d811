package ports

import (
	"context"

	"livecast/internal/core/domain"
)

// SignalingChannel is the persistent control connection to the coordination service.
// Reconnection is automatic and only surfaces as ConnectionStatusChanged events.
type SignalingChannel interface {
	Connect(ctx context.Context, campaignID domain.CampaignID) error
	Disconnect() error
	Send(ctx context.Context, command domain.SignalingCommand, payload interface{}) error
	// SubscribeOnce delivers the next occurrence of kind on Events, then unsubscribes.
	SubscribeOnce(kind domain.SignalingEventKind)
	Events() <-chan domain.SignalingEvent
}

// MediaTransport is the command/event boundary of the RTMP publish engine.
// Commands are fire-and-forget; outcomes arrive as TransportEvents.
type MediaTransport interface {
	Configure(cfg domain.TransportConfig) (domain.PreviewHandle, error)
	Publish(url, key string)
	Stop()
	Resume()
	SetBitrate(bitrate uint32)
	Bitrate() uint32
	Mute()
	Unmute()
	SwitchCamera(position domain.CameraPosition)
	SetOrientation(o domain.Orientation)
	SetExposure(value float64) error
	Connected() bool
	Stats() domain.TransportStats
	Events() <-chan domain.TransportEvent
}

// ScheduleClient answers whether a campaign has a scheduled session.
type ScheduleClient interface {
	IsScheduled(ctx context.Context, campaignID domain.CampaignID) (bool, error)
}

// TokenProvider returns the access token used for stream-init.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// DiagnosticsSink receives log topics; Report must never block.
type DiagnosticsSink interface {
	Report(topic domain.LogTopic)
}

// MetricsRecorder receives session-level measurements.
type MetricsRecorder interface {
	RecordStateTransition(from, to domain.SessionState)
	RecordBitrate(stats domain.Statistics)
	RecordReconnectAttempt()
	RecordReconnectExhausted()
	RecordSignalingMessage(direction, name string)
	RecordDiagnosticsDropped()
}
