package services

import (
	"context"
	"sync"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

type sentCommand struct {
	command domain.SignalingCommand
	payload interface{}
}

type fakeSignaling struct {
	mu            sync.Mutex
	connects      []domain.CampaignID
	disconnects   int
	sent          []sentCommand
	subscriptions []domain.SignalingEventKind
	sendErr       error
	events        chan domain.SignalingEvent
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{events: make(chan domain.SignalingEvent, 32)}
}

func (f *fakeSignaling) Connect(ctx context.Context, campaignID domain.CampaignID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, campaignID)
	return nil
}

func (f *fakeSignaling) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSignaling) Send(ctx context.Context, command domain.SignalingCommand, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCommand{command: command, payload: payload})
	return nil
}

func (f *fakeSignaling) SubscribeOnce(kind domain.SignalingEventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, kind)
}

func (f *fakeSignaling) Events() <-chan domain.SignalingEvent {
	return f.events
}

func (f *fakeSignaling) count(command domain.SignalingCommand) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.command == command {
			n++
		}
	}
	return n
}

func (f *fakeSignaling) last(command domain.SignalingCommand) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].command == command {
			return f.sent[i].payload, true
		}
	}
	return nil, false
}

func (f *fakeSignaling) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeSignaling) subscribed() []domain.SignalingEventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SignalingEventKind(nil), f.subscriptions...)
}

func (f *fakeSignaling) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

type fakeTransport struct {
	mu          sync.Mutex
	configs     []domain.TransportConfig
	publishes   [][2]string
	stops       int
	resumes     int
	bitrates    []uint32
	bitrate     uint32
	connected   bool
	muted       bool
	camera      domain.CameraPosition
	orientation domain.Orientation
	exposure    float64
	stats       domain.TransportStats
	events      chan domain.TransportEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan domain.TransportEvent, 32)}
}

func (f *fakeTransport) Configure(cfg domain.TransportConfig) (domain.PreviewHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	f.bitrate = cfg.Resolution.OptimalBitrate()
	return domain.PreviewHandle("preview-1"), nil
}

func (f *fakeTransport) Publish(url, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, [2]string{url, key})
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.connected = false
}

func (f *fakeTransport) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakeTransport) SetBitrate(bitrate uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bitrate = bitrate
	f.bitrates = append(f.bitrates, bitrate)
}

func (f *fakeTransport) Bitrate() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitrate
}

func (f *fakeTransport) Mute() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = true
}

func (f *fakeTransport) Unmute() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = false
}

func (f *fakeTransport) SwitchCamera(position domain.CameraPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.camera = position
}

func (f *fakeTransport) SetOrientation(o domain.Orientation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orientation = o
}

func (f *fakeTransport) SetExposure(value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exposure = value
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Stats() domain.TransportStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeTransport) Events() <-chan domain.TransportEvent {
	return f.events
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes
}

func (f *fakeTransport) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeTransport) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishes)
}

func (f *fakeTransport) lastBitrates() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.bitrates...)
}

// MockScheduleClient mocks ports.ScheduleClient
type MockScheduleClient struct {
	mock.Mock
}

func (m *MockScheduleClient) IsScheduled(ctx context.Context, campaignID domain.CampaignID) (bool, error) {
	args := m.Called(ctx, campaignID)
	return args.Bool(0), args.Error(1)
}

// MockMetricsRecorder mocks ports.MetricsRecorder
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordStateTransition(from, to domain.SessionState) {
	m.Called(from, to)
}

func (m *MockMetricsRecorder) RecordBitrate(stats domain.Statistics) {
	m.Called(stats)
}

func (m *MockMetricsRecorder) RecordReconnectAttempt() {
	m.Called()
}

func (m *MockMetricsRecorder) RecordReconnectExhausted() {
	m.Called()
}

func (m *MockMetricsRecorder) RecordSignalingMessage(direction, name string) {
	m.Called(direction, name)
}

func (m *MockMetricsRecorder) RecordDiagnosticsDropped() {
	m.Called()
}

type recordingDiagnostics struct {
	mu     sync.Mutex
	topics []domain.LogTopic
}

func (r *recordingDiagnostics) Report(topic domain.LogTopic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *recordingDiagnostics) kinds() []domain.LogTopicKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.LogTopicKind, 0, len(r.topics))
	for _, t := range r.topics {
		kinds = append(kinds, t.Kind)
	}
	return kinds
}

func (r *recordingDiagnostics) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := make([]string, 0, len(r.topics))
	for _, t := range r.topics {
		msgs = append(msgs, t.Message)
	}
	return msgs
}
