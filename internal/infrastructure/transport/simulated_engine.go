package transport

import (
	"fmt"
	"sync"
	"time"

	"livecast/internal/core/domain"

	"go.uber.org/zap"
)

type SimulatedConfig struct {
	ConnectDelay time.Duration
	// FailConnect makes every Connect report Connect.Failed.
	FailConnect bool
	// RejectNames lists stream keys answered with Publish.BadName.
	RejectNames []string
}

// SimulatedEngine is an in-process Engine. It answers commands the way an
// RTMP server would and can be scripted with EmitStatus, EmitCongestion and
// Drop. Callbacks are delivered in order from a single goroutine.
type SimulatedEngine struct {
	cfg    SimulatedConfig
	logger *zap.SugaredLogger

	queue chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu           sync.Mutex
	onStatus     func(string)
	onCongestion func(domain.CongestionSeverity)
	commands     []string
	video        domain.VideoSettings
	audio        domain.AudioSettings
	camera       domain.CameraPosition
	attached     bool
	connected    bool
	publishing   bool
	muted        bool
	exposure     float64
	connectSeq   int
	shutdownOnce sync.Once
}

func NewSimulatedEngine(cfg SimulatedConfig, logger *zap.SugaredLogger) *SimulatedEngine {
	e := &SimulatedEngine{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan func(), 64),
		quit:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.dispatch()
	return e
}

func (e *SimulatedEngine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.queue:
			fn()
		case <-e.quit:
			return
		}
	}
}

// Shutdown stops callback delivery.
func (e *SimulatedEngine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.quit)
		e.wg.Wait()
	})
}

func (e *SimulatedEngine) OnStatus(fn func(code string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = fn
}

func (e *SimulatedEngine) OnCongestion(fn func(severity domain.CongestionSeverity)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCongestion = fn
}

func (e *SimulatedEngine) Attach(video domain.VideoSettings, audio domain.AudioSettings, camera domain.CameraPosition) (domain.PreviewHandle, error) {
	if video.Width <= 0 || video.Height <= 0 {
		return "", fmt.Errorf("invalid video size %dx%d", video.Width, video.Height)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video = video
	e.audio = audio
	e.camera = camera
	e.attached = true
	e.record("attach %dx%d@%d %s", video.Width, video.Height, video.Bitrate, camera)
	return domain.PreviewHandle(fmt.Sprintf("simulated-preview-%dx%d", video.Width, video.Height)), nil
}

func (e *SimulatedEngine) ApplyVideoSettings(video domain.VideoSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video = video
	e.record("video %dx%d@%d", video.Width, video.Height, video.Bitrate)
}

func (e *SimulatedEngine) Connect(url string) {
	e.mu.Lock()
	e.connectSeq++
	seq := e.connectSeq
	e.record("connect %s", url)
	e.mu.Unlock()

	answer := func() {
		e.mu.Lock()
		if seq != e.connectSeq {
			e.mu.Unlock()
			return
		}
		code := CodeConnectSuccess
		if e.cfg.FailConnect {
			code = CodeConnectFailed
		} else {
			e.connected = true
		}
		e.mu.Unlock()
		e.notifyStatus(code)
	}

	if e.cfg.ConnectDelay <= 0 {
		e.enqueue(answer)
		return
	}
	time.AfterFunc(e.cfg.ConnectDelay, func() { e.enqueue(answer) })
}

func (e *SimulatedEngine) Publish(name string) {
	e.mu.Lock()
	e.record("publish %s", name)
	rejected := false
	for _, n := range e.cfg.RejectNames {
		if n == name {
			rejected = true
			break
		}
	}
	if !rejected && e.connected {
		e.publishing = true
	}
	connected := e.connected
	e.mu.Unlock()

	switch {
	case !connected:
		return
	case rejected:
		e.enqueue(func() { e.notifyStatus(CodePublishBadName) })
	default:
		e.enqueue(func() { e.notifyStatus(CodePublishStart) })
	}
}

func (e *SimulatedEngine) Close() {
	e.mu.Lock()
	e.connectSeq++
	e.record("close")
	wasPublishing, wasConnected := e.publishing, e.connected
	e.publishing = false
	e.connected = false
	e.mu.Unlock()

	if wasPublishing {
		e.enqueue(func() { e.notifyStatus(CodeUnpublishSuccess) })
	}
	if wasConnected {
		e.enqueue(func() { e.notifyStatus(CodeConnectClosed) })
	}
}

// Drop simulates a network loss: the connection closes without a Close call.
func (e *SimulatedEngine) Drop() {
	e.mu.Lock()
	wasConnected := e.connected
	e.connected = false
	e.publishing = false
	e.record("drop")
	e.mu.Unlock()

	if wasConnected {
		e.enqueue(func() { e.notifyStatus(CodeConnectClosed) })
	}
}

func (e *SimulatedEngine) SetVideoBitrate(bitrate uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video.Bitrate = bitrate
	e.record("bitrate %d", bitrate)
}

func (e *SimulatedEngine) VideoBitrate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video.Bitrate
}

func (e *SimulatedEngine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	e.record("muted %t", muted)
}

func (e *SimulatedEngine) SetCamera(position domain.CameraPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.camera = position
	e.record("camera %s", position)
}

func (e *SimulatedEngine) SetExposure(value float64) error {
	if value < -1 || value > 1 {
		return fmt.Errorf("exposure %v out of range [-1, 1]", value)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exposure = value
	e.record("exposure %.2f", value)
	return nil
}

func (e *SimulatedEngine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Stats reports the configured bitrate as throughput while publishing.
func (e *SimulatedEngine) Stats() domain.TransportStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.publishing {
		return domain.TransportStats{}
	}
	return domain.TransportStats{
		OutBytesPerSecond: int32(e.video.Bitrate / 8),
		InBytesPerSecond:  512,
		CaptureFPS:        e.video.FrameRate,
	}
}

// EmitStatus delivers an arbitrary status code.
func (e *SimulatedEngine) EmitStatus(code string) {
	e.enqueue(func() { e.notifyStatus(code) })
}

// EmitCongestion delivers a congestion callback.
func (e *SimulatedEngine) EmitCongestion(severity domain.CongestionSeverity) {
	e.enqueue(func() {
		e.mu.Lock()
		fn := e.onCongestion
		e.mu.Unlock()
		if fn != nil {
			fn(severity)
		}
	})
}

// Commands returns the recorded command log.
func (e *SimulatedEngine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *SimulatedEngine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *SimulatedEngine) Video() domain.VideoSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video
}

func (e *SimulatedEngine) notifyStatus(code string) {
	e.mu.Lock()
	fn := e.onStatus
	e.mu.Unlock()
	e.logger.Debugw("simulated engine status", "code", code)
	if fn != nil {
		fn(code)
	}
}

func (e *SimulatedEngine) enqueue(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.quit:
	}
}

// record must be called with mu held.
func (e *SimulatedEngine) record(format string, args ...interface{}) {
	e.commands = append(e.commands, fmt.Sprintf(format, args...))
}
