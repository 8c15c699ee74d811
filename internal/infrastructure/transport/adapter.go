package transport

import (
	"fmt"
	"sync"

	"livecast/internal/core/domain"

	"go.uber.org/zap"
)

// Status codes reported by an RTMP engine.
const (
	CodeConnectSuccess   = "NetConnection.Connect.Success"
	CodeConnectFailed    = "NetConnection.Connect.Failed"
	CodeConnectClosed    = "NetConnection.Connect.Closed"
	CodePublishBadName   = "NetStream.Publish.BadName"
	CodeUnpublishSuccess = "NetStream.Unpublish.Success"
	CodePublishStart     = "NetStream.Publish.Start"
)

// Engine is the RTMP publish engine the adapter drives. Status and
// congestion callbacks may arrive on any goroutine but must not be
// delivered while the engine holds a lock the adapter's calls need.
type Engine interface {
	Attach(video domain.VideoSettings, audio domain.AudioSettings, camera domain.CameraPosition) (domain.PreviewHandle, error)
	ApplyVideoSettings(video domain.VideoSettings)
	Connect(url string)
	Publish(name string)
	Close()
	SetVideoBitrate(bitrate uint32)
	VideoBitrate() uint32
	SetMuted(muted bool)
	SetCamera(position domain.CameraPosition)
	SetExposure(value float64) error
	Connected() bool
	Stats() domain.TransportStats
	OnStatus(fn func(code string))
	OnCongestion(fn func(severity domain.CongestionSeverity))
}

// Adapter implements ports.MediaTransport on top of an Engine.
type Adapter struct {
	engine Engine
	logger *zap.SugaredLogger

	events chan domain.TransportEvent
	done   chan struct{}

	mu         sync.Mutex
	configured bool
	cfg        domain.TransportConfig
	url        string
	key        string
	listening  bool
	published  bool
	closeOnce  sync.Once
}

func NewAdapter(engine Engine, logger *zap.SugaredLogger) *Adapter {
	a := &Adapter{
		engine: engine,
		logger: logger,
		events: make(chan domain.TransportEvent, 64),
		done:   make(chan struct{}),
	}
	engine.OnStatus(a.handleStatus)
	engine.OnCongestion(a.handleCongestion)
	return a
}

// Configure binds capture sources and encoder settings and returns the
// preview handle.
func (a *Adapter) Configure(cfg domain.TransportConfig) (domain.PreviewHandle, error) {
	video := domain.VideoSettingsFor(cfg)
	preview, err := a.engine.Attach(video, domain.DefaultAudioSettings(), cfg.Camera)
	if err != nil {
		return "", fmt.Errorf("failed to attach capture: %w", err)
	}

	a.mu.Lock()
	a.cfg = cfg
	a.configured = true
	a.mu.Unlock()

	a.logger.Infow("transport configured",
		"resolution", cfg.Resolution,
		"orientation", cfg.Orientation,
		"width", video.Width,
		"height", video.Height,
		"bitrate", video.Bitrate,
		"adaptive_bitrate", !cfg.AdaptiveBitrateDisabled,
	)
	return preview, nil
}

// Publish remembers the credentials and connects. The stream itself is
// published once the connection reports success.
func (a *Adapter) Publish(url, key string) {
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		a.logger.Warnw("publish before configure", "error", domain.ErrTransportNotConfigure)
		return
	}
	a.url = url
	a.key = key
	a.listening = true
	a.mu.Unlock()

	a.logger.Infow("transport connecting", "url", url)
	a.engine.Connect(url)
}

// Stop closes the connection and stops reporting engine callbacks until
// the next Publish.
func (a *Adapter) Stop() {
	a.mu.Lock()
	wasListening := a.listening
	a.listening = false
	a.published = false
	a.mu.Unlock()

	if !wasListening {
		return
	}
	a.logger.Infow("transport stopping")
	a.engine.Close()
}

// Resume re-publishes with the remembered credentials when the engine is
// not connected.
func (a *Adapter) Resume() {
	if a.engine.Connected() {
		return
	}
	a.mu.Lock()
	url, key := a.url, a.key
	a.mu.Unlock()
	if url == "" {
		return
	}
	a.Publish(url, key)
}

func (a *Adapter) SetBitrate(bitrate uint32) {
	a.engine.SetVideoBitrate(bitrate)
}

func (a *Adapter) Bitrate() uint32 {
	return a.engine.VideoBitrate()
}

func (a *Adapter) Mute() {
	a.engine.SetMuted(true)
}

func (a *Adapter) Unmute() {
	a.engine.SetMuted(false)
}

func (a *Adapter) SwitchCamera(position domain.CameraPosition) {
	a.mu.Lock()
	a.cfg.Camera = position
	a.mu.Unlock()
	a.engine.SetCamera(position)
}

// SetOrientation re-derives the output dimensions. The current bitrate is
// kept so an adaptive decrease survives a rotation.
func (a *Adapter) SetOrientation(o domain.Orientation) {
	a.mu.Lock()
	a.cfg.Orientation = o
	cfg, configured := a.cfg, a.configured
	a.mu.Unlock()
	if !configured {
		return
	}

	video := domain.VideoSettingsFor(cfg)
	if current := a.engine.VideoBitrate(); current != 0 {
		video.Bitrate = current
	}
	a.engine.ApplyVideoSettings(video)
}

func (a *Adapter) SetExposure(value float64) error {
	return a.engine.SetExposure(value)
}

func (a *Adapter) Connected() bool {
	return a.engine.Connected()
}

func (a *Adapter) Stats() domain.TransportStats {
	return a.engine.Stats()
}

func (a *Adapter) Events() <-chan domain.TransportEvent {
	return a.events
}

// Close releases the event channel consumers. Pending callbacks are dropped.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *Adapter) handleStatus(code string) {
	a.mu.Lock()
	if !a.listening {
		a.mu.Unlock()
		return
	}

	var (
		ev      domain.TransportEvent
		publish string
		stop    bool
	)
	switch code {
	case CodeConnectSuccess:
		if !a.published {
			ev = domain.ConnectSucceeded{}
			publish = a.key
		}
	case CodeConnectFailed:
		ev = domain.ConnectFailed{}
	case CodeConnectClosed:
		a.published = false
		ev = domain.ConnectClosed{}
	case CodePublishBadName:
		ev = domain.PublishRejected{}
		stop = true
	case CodeUnpublishSuccess:
		ev = domain.UnpublishSucceeded{}
	case CodePublishStart:
		a.published = true
		ev = domain.PublishStarted{}
	default:
		a.mu.Unlock()
		a.logger.Debugw("ignoring engine status", "code", code)
		return
	}
	a.mu.Unlock()

	a.logger.Debugw("engine status", "code", code)
	if publish != "" {
		a.engine.Publish(publish)
	}
	if ev != nil {
		a.emit(ev)
	}
	if stop {
		a.Stop()
	}
}

func (a *Adapter) handleCongestion(severity domain.CongestionSeverity) {
	a.mu.Lock()
	forward := a.listening && !a.cfg.AdaptiveBitrateDisabled
	a.mu.Unlock()
	if !forward {
		return
	}
	a.emit(domain.CongestionDetected{Severity: severity})
}

func (a *Adapter) emit(ev domain.TransportEvent) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}
