package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"
	"livecast/pkg/validation"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jonboulle/clockwork"
)

// SessionConfig holds the session timing and tuning.
type SessionConfig struct {
	PreparationTicks        int
	PreparationTickInterval time.Duration
	BackgroundResumeLimit   time.Duration
	LeaveTimeout            time.Duration
	ScheduleCheckTimeout    time.Duration
	PersistTimeout          time.Duration
	AdaptiveBitrateDisabled bool
	Bitrate                 BitrateConfig
	Reconnect               ReconnectConfig
}

// DefaultSessionConfig returns the production timings: a 3 minute
// preparation window in 1 s ticks and a 30 s background allowance.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		PreparationTicks:        180,
		PreparationTickInterval: time.Second,
		BackgroundResumeLimit:   30 * time.Second,
		LeaveTimeout:            10 * time.Second,
		ScheduleCheckTimeout:    10 * time.Second,
		PersistTimeout:          2 * time.Second,
		Bitrate:                 DefaultBitrateConfig(),
		Reconnect:               DefaultReconnectConfig(),
	}
}

// SessionDeps are the collaborators of a SessionController.
type SessionDeps struct {
	Signaling   ports.SignalingChannel
	Transport   ports.MediaTransport
	Schedule    ports.ScheduleClient
	Tokens      ports.TokenProvider
	Repository  ports.SessionRepository
	Diagnostics ports.DiagnosticsSink
	Metrics     ports.MetricsRecorder
	Clock       clockwork.Clock
}

// CampaignRequest selects the campaign a session will broadcast to.
type CampaignRequest struct {
	CampaignID    domain.CampaignID
	PageID        domain.PageID
	Resolution    domain.Resolution
	Stabilization domain.StabilizationMode
}

type intent struct {
	name  string
	apply func(ctx context.Context) error
	reply chan error
}

// SessionController drives one broadcast session. Every input (user intents,
// signaling and transport events, timers) is serialized onto the Run goroutine,
// which is the only writer of the session, bitrate and reconnect state.
type SessionController struct {
	cfg         SessionConfig
	signaling   ports.SignalingChannel
	transport   ports.MediaTransport
	schedule    ports.ScheduleClient
	tokens      ports.TokenProvider
	repo        ports.SessionRepository
	diagnostics ports.DiagnosticsSink
	metrics     ports.MetricsRecorder
	clock       clockwork.Clock
	logger      *zap.SugaredLogger

	intents  chan intent
	results  chan func(ctx context.Context)
	persistC chan domain.Snapshot
	done     chan struct{}
	running  atomic.Bool

	// loop-owned
	session            *domain.StreamSession
	preview            domain.PreviewHandle
	stats              *domain.Statistics
	signalingConnected bool
	bitrate            *BitrateController
	reconnect          *ReconnectSupervisor
	prepTicker         clockwork.Ticker
	prepTicks          int
	scheduleCancel     context.CancelFunc
	scheduleAttempt    uint64
	span               trace.Span

	snapMu   sync.RWMutex
	snapshot domain.Snapshot
	subs     map[int]chan domain.Snapshot
	nextSub  int
}

// NewSessionController wires a controller. Call Run before issuing intents.
func NewSessionController(cfg SessionConfig, deps SessionDeps, logger *zap.SugaredLogger) *SessionController {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = NopDiagnostics{}
	}

	c := &SessionController{
		cfg:         cfg,
		signaling:   deps.Signaling,
		transport:   deps.Transport,
		schedule:    deps.Schedule,
		tokens:      deps.Tokens,
		repo:        deps.Repository,
		diagnostics: deps.Diagnostics,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		logger:      logger,
		intents:     make(chan intent),
		results:     make(chan func(ctx context.Context), 8),
		persistC:    make(chan domain.Snapshot, 1),
		done:        make(chan struct{}),
		subs:        make(map[int]chan domain.Snapshot),
	}
	c.bitrate = NewBitrateController(cfg.Bitrate, deps.Clock, deps.Transport, deps.Diagnostics, deps.Metrics, logger)
	c.reconnect = NewReconnectSupervisor(cfg.Reconnect, deps.Clock, deps.Transport, deps.Metrics, logger)
	c.snapshot = c.buildSnapshot()
	return c
}

// Run processes inputs until ctx is cancelled. An active session is left
// before Run returns.
func (c *SessionController) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session controller already running")
	}
	defer close(c.done)

	if c.repo != nil {
		go c.persistLoop()
	}

	signalEvents := c.signaling.Events()
	transportEvents := c.transport.Events()

	c.logger.Infow("session controller started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.logger.Infow("session controller stopped")
			return nil

		case in := <-c.intents:
			err := in.apply(ctx)
			if err != nil {
				c.logger.Debugw("intent rejected", "intent", in.name, "error", err)
			}
			in.reply <- err

		case fn := <-c.results:
			fn(ctx)

		case ev, ok := <-signalEvents:
			if !ok {
				signalEvents = nil
				continue
			}
			c.handleSignaling(ctx, ev)

		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			c.handleTransport(ctx, ev)

		case <-c.preparationC():
			c.handlePreparationTick(ctx)

		case <-c.reconnect.C():
			c.handleReconnectTick(ctx)

		case <-c.bitrate.CooldownC():
			c.bitrate.HandleCooldownExpired()
		}
		c.publish()
	}
}

// Done is closed once Run has returned.
func (c *SessionController) Done() <-chan struct{} {
	return c.done
}

func (c *SessionController) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	in := intent{name: name, apply: fn, reply: make(chan error, 1)}
	select {
	case c.intents <- in:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrSessionClosed
	}
	select {
	case err := <-in.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrSessionClosed
	}
}

func (c *SessionController) post(fn func(ctx context.Context)) {
	select {
	case c.results <- fn:
	case <-c.done:
	}
}

// SetCampaign creates a fresh session for the campaign and connects signaling.
// The session stays Idle.
func (c *SessionController) SetCampaign(ctx context.Context, req CampaignRequest) error {
	return c.do(ctx, "set_campaign", func(ctx context.Context) error {
		if req.CampaignID == "" {
			return fmt.Errorf("%w: empty campaign id", domain.ErrNoCampaign)
		}
		if c.session != nil {
			if c.session.State.IsActive() {
				return domain.ErrSessionActive
			}
			if err := c.signaling.Disconnect(); err != nil {
				c.logger.Warnw("failed to disconnect signaling", "error", err)
			}
			c.endSpan()
		}

		resolution := req.Resolution
		if resolution == "" {
			resolution = domain.Resolution1080p
		}
		s := domain.NewStreamSession(domain.SessionID(utils.GenerateSessionID()), req.CampaignID, req.PageID, resolution)
		s.Stabilization = req.Stabilization
		c.session = s
		c.preview = ""
		c.stats = nil

		c.logger.Infow("campaign selected",
			"session_id", s.ID,
			"campaign_id", s.CampaignID,
			"page_id", s.PageID,
			"resolution", s.Resolution,
		)
		if err := c.signaling.Connect(ctx, s.CampaignID); err != nil {
			return fmt.Errorf("connect signaling: %w", err)
		}
		return nil
	})
}

// Configure prepares the capture pipeline and returns the preview handle.
func (c *SessionController) Configure(ctx context.Context) (domain.PreviewHandle, error) {
	var preview domain.PreviewHandle
	err := c.do(ctx, "configure", func(ctx context.Context) error {
		if err := c.configure(); err != nil {
			return err
		}
		preview = c.preview
		return nil
	})
	return preview, err
}

func (c *SessionController) configure() error {
	s := c.session
	if s == nil {
		return domain.ErrNoCampaign
	}
	if s.State.IsPublishing() {
		return domain.ErrSessionActive
	}
	preview, err := c.transport.Configure(domain.TransportConfig{
		Resolution:              s.Resolution,
		Orientation:             s.Orientation,
		Stabilization:           s.Stabilization,
		Camera:                  s.Camera,
		AdaptiveBitrateDisabled: c.cfg.AdaptiveBitrateDisabled,
	})
	if err != nil {
		return fmt.Errorf("configure transport: %w", err)
	}
	c.preview = preview
	c.bitrate.Reset(s.Resolution.OptimalBitrate())
	return nil
}

// Start begins a broadcast attempt. Only valid from Idle.
func (c *SessionController) Start(ctx context.Context) error {
	return c.do(ctx, "start", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		switch {
		case s.State.IsTerminal():
			return domain.ErrSessionTerminal
		case s.State != domain.StateIdle:
			return domain.ErrSessionActive
		}
		if c.preview == "" {
			if err := c.configure(); err != nil {
				return err
			}
		}

		s.Error = nil
		s.UserInitiatedClose = false
		s.LoadingCredentials = false
		s.IsScheduled = false
		s.StartedAt = nil
		s.ClearCredentials()
		c.stats = nil
		c.bitrate.Reset(s.Resolution.OptimalBitrate())

		c.endSpan()
		_, c.span = tracing.TraceSessionAttempt(context.Background(), string(s.ID), string(s.CampaignID))

		c.diagnostics.Report(domain.UserActionTopic(domain.ActionStartStream, ""))
		c.setState(domain.StateAwaitingScheduleCheck)
		c.checkSchedule(s.CampaignID)
		return nil
	})
}

// Stop is the user leaving the stream. It returns after the leave sequence.
func (c *SessionController) Stop(ctx context.Context) error {
	return c.do(ctx, "stop", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		if !s.State.IsActive() {
			return domain.ErrInvalidTransition
		}
		c.diagnostics.Report(domain.UserActionTopic(domain.ActionCloseStream, ""))
		c.leave(ctx)
		c.setState(domain.StateFinished)
		return nil
	})
}

// ForceClose tears everything down and discards the session.
func (c *SessionController) ForceClose(ctx context.Context) error {
	return c.do(ctx, "force_close", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return nil
		}
		if s.State.IsActive() {
			c.leave(ctx)
		} else {
			c.cancelTimers()
			c.transport.Stop()
			if err := c.signaling.Disconnect(); err != nil {
				c.logger.Warnw("failed to disconnect signaling", "error", err)
			}
		}
		c.endSpan()
		if c.repo != nil {
			if err := c.repo.Delete(ctx, s.ID); err != nil {
				c.logger.Debugw("failed to delete session snapshot", "session_id", s.ID, "error", err)
			}
		}
		c.logger.Infow("session closed", "session_id", s.ID)
		c.session = nil
		c.preview = ""
		c.stats = nil
		return nil
	})
}

// Reset acknowledges a finished, failed or timed out attempt and returns the
// session to Idle with signaling reconnected.
func (c *SessionController) Reset(ctx context.Context) error {
	return c.do(ctx, "reset", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		if s.State.IsActive() {
			return domain.ErrSessionActive
		}
		s.Error = nil
		s.UserInitiatedClose = false
		s.StartedAt = nil
		c.stats = nil
		c.setState(domain.StateIdle)
		if err := c.signaling.Connect(ctx, s.CampaignID); err != nil {
			return fmt.Errorf("connect signaling: %w", err)
		}
		return nil
	})
}

// Terminate runs the leave sequence on app termination, waiting at most
// LeaveTimeout for it to complete.
func (c *SessionController) Terminate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LeaveTimeout)
	defer cancel()
	return c.do(ctx, "terminate", func(ctx context.Context) error {
		s := c.session
		if s == nil || !s.State.IsActive() {
			return nil
		}
		c.logger.Infow("app terminating, leaving stream", "session_id", s.ID, "state", s.State.String())
		c.leave(ctx)
		c.setState(domain.StateFinished)
		return nil
	})
}

func (c *SessionController) SwitchCamera(ctx context.Context) error {
	return c.do(ctx, "switch_camera", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		s.Camera = s.Camera.Toggle()
		c.transport.SwitchCamera(s.Camera)
		c.diagnostics.Report(domain.UserActionTopic(domain.ActionSwitchCamera, string(s.Camera)))
		return nil
	})
}

func (c *SessionController) SetExposure(ctx context.Context, value float64) error {
	return c.do(ctx, "set_exposure", func(ctx context.Context) error {
		if c.session == nil {
			return domain.ErrNoCampaign
		}
		if err := c.transport.SetExposure(value); err != nil {
			return fmt.Errorf("set exposure: %w", err)
		}
		return nil
	})
}

func (c *SessionController) SetOrientation(ctx context.Context, o domain.Orientation) error {
	return c.do(ctx, "set_orientation", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		if s.Orientation == o {
			return nil
		}
		s.Orientation = o
		c.transport.SetOrientation(o)
		c.diagnostics.Report(domain.UserActionTopic(domain.ActionChangeOrientation, string(o)))
		return nil
	})
}

// ToggleMute flips the microphone and returns the new state.
func (c *SessionController) ToggleMute(ctx context.Context) (domain.MicState, error) {
	var mic domain.MicState
	err := c.do(ctx, "toggle_mute", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		c.setMuted(s, s.Mic != domain.MicMuted)
		mic = s.Mic
		return nil
	})
	return mic, err
}

func (c *SessionController) SetMuted(ctx context.Context, muted bool) error {
	return c.do(ctx, "set_muted", func(ctx context.Context) error {
		s := c.session
		if s == nil {
			return domain.ErrNoCampaign
		}
		c.setMuted(s, muted)
		return nil
	})
}

func (c *SessionController) setMuted(s *domain.StreamSession, muted bool) {
	if muted {
		s.Mic = domain.MicMuted
		c.transport.Mute()
	} else {
		s.Mic = domain.MicUnmuted
		c.transport.Unmute()
	}
	c.diagnostics.Report(domain.UserActionTopic(domain.ActionSwitchMic, string(s.Mic)))
}

// EnterBackground records when the app went to the background.
func (c *SessionController) EnterBackground(ctx context.Context) error {
	return c.do(ctx, "enter_background", func(ctx context.Context) error {
		c.diagnostics.Report(domain.UserActionTopic(domain.ActionCollapseApp, ""))
		s := c.session
		if s == nil || s.State == domain.StateIdle || c.repo == nil {
			return nil
		}
		if err := c.repo.MarkBackground(ctx, s.ID, c.clock.Now()); err != nil {
			return fmt.Errorf("mark background: %w", err)
		}
		return nil
	})
}

// ResumeForeground resumes publishing after a short absence and leaves the
// stream after a long one.
func (c *SessionController) ResumeForeground(ctx context.Context) error {
	return c.do(ctx, "resume_foreground", func(ctx context.Context) error {
		c.diagnostics.Report(domain.UserActionTopic(domain.ActionExpandApp, ""))
		s := c.session
		if s == nil || c.repo == nil {
			return nil
		}
		at, ok, err := c.repo.TakeBackground(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("read background mark: %w", err)
		}
		if !ok {
			return nil
		}

		away := c.clock.Now().Sub(at)
		if away < c.cfg.BackgroundResumeLimit {
			if s.State.IsPublishing() {
				c.logger.Infow("resuming publish after background", "session_id", s.ID, "away", away)
				c.transport.Resume()
			}
			return nil
		}
		if !s.State.IsActive() {
			return nil
		}
		c.logger.Infow("app was in background too long, leaving stream",
			"session_id", s.ID,
			"away", away,
			"limit", c.cfg.BackgroundResumeLimit,
		)
		c.leave(ctx)
		c.setState(domain.StateFinished)
		return nil
	})
}

// Snapshot returns the latest published snapshot with Elapsed brought up to date.
func (c *SessionController) Snapshot() domain.Snapshot {
	c.snapMu.RLock()
	snap := c.snapshot
	c.snapMu.RUnlock()
	if snap.StartedAt != nil && snap.State.IsPublishing() {
		snap.Elapsed = c.clock.Now().Sub(*snap.StartedAt)
	}
	return snap
}

// Subscribe returns a channel carrying the newest snapshot. Slow readers
// miss intermediate snapshots. The current snapshot is delivered immediately.
func (c *SessionController) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	c.snapMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot
	c.snapMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.snapMu.Lock()
			delete(c.subs, id)
			c.snapMu.Unlock()
			close(ch)
		})
	}
}

func (c *SessionController) handleSignaling(ctx context.Context, ev domain.SignalingEvent) {
	if e, ok := ev.(domain.ConnectionStatusChanged); ok {
		c.signalingConnected = e.Connected
		c.logger.Infow("signaling connection changed", "connected", e.Connected)
		return
	}

	s := c.session
	if s == nil {
		c.logger.Debugw("signaling event without session", "event", ev.Kind())
		return
	}

	switch e := ev.(type) {
	case domain.NodesReady:
		if s.State != domain.StatePreparing {
			c.ignore(string(ev.Kind()))
			return
		}
		c.loadCredentials(ctx)

	case domain.SessionInitiated:
		s.LoadingCredentials = false
		if s.State != domain.StatePreparing {
			c.ignore(string(ev.Kind()))
			return
		}
		if e.RTMPKey == "" {
			c.logger.Warnw("stream credentials missing", "session_id", s.ID)
			return
		}
		if err := validation.ValidateRTMPURL(e.RTMPURL); err != nil {
			c.logger.Warnw("stream credentials rejected", "session_id", s.ID, "error", err)
			return
		}
		s.RTMPURL = e.RTMPURL
		s.RTMPKey = e.RTMPKey
		c.stopPreparation()
		c.setState(domain.StateConnecting)
		c.transport.Publish(s.RTMPURL, s.RTMPKey)

	case domain.StreamStopped:
		if !s.State.IsActive() || s.UserInitiatedClose {
			c.ignore(string(ev.Kind()))
			return
		}
		c.logger.Infow("stream stopped by service", "session_id", s.ID)
		c.leave(ctx)
		c.setState(domain.StateFinished)

	case domain.RemoteError:
		if !s.State.IsActive() {
			c.logger.Warnw("remote error outside an active stream", "code", int(e.Code), "reason", e.Code.String())
			return
		}
		switch domain.Classify(e.Code) {
		case domain.ActionLeave:
			c.logger.Warnw("remote error, leaving stream", "code", int(e.Code), "reason", e.Code.String())
			c.leave(ctx)
			c.setState(domain.StateFinished)
		default:
			streamErr := domain.NewStreamError(domain.StreamErrorRemote)
			streamErr.Code = e.Code
			c.fail(ctx, streamErr)
		}
	}
}

func (c *SessionController) handleTransport(ctx context.Context, ev domain.TransportEvent) {
	s := c.session
	if s == nil {
		return
	}
	if _, congestion := ev.(domain.CongestionDetected); !congestion {
		c.diagnostics.Report(domain.TransportTopic(ev))
	}

	switch e := ev.(type) {
	case domain.ConnectSucceeded:
		if !s.State.IsPublishing() {
			c.ignore(ev.String())
			return
		}
		s.MarkStarted(c.clock.Now())
		c.reconnect.Disarm()
		c.stopPreparation()
		c.setState(domain.StateStarted)

	case domain.ConnectFailed:
		if !s.State.IsActive() || s.UserInitiatedClose {
			c.ignore(ev.String())
			return
		}
		if c.reconnect.Active() {
			c.logger.Debugw("publish retry failed", "retry_count", c.reconnect.RetryCount())
			return
		}
		c.fail(ctx, domain.NewStreamError(domain.StreamErrorConnectionFailed))

	case domain.ConnectClosed:
		if !s.State.IsPublishing() || s.UserInitiatedClose {
			c.ignore(ev.String())
			return
		}
		c.setState(domain.StateWaiting)
		if c.reconnect.Arm() {
			c.handleReconnectTick(ctx)
		}

	case domain.PublishRejected:
		if !s.State.IsActive() {
			c.ignore(ev.String())
			return
		}
		c.logger.Errorw("publish rejected", "session_id", s.ID)
		c.cancelTimers()
		s.UserInitiatedClose = true
		s.LoadingCredentials = false
		c.transport.Stop()
		if err := c.signaling.Send(ctx, domain.CommandStreamStop, struct{}{}); err != nil {
			c.logger.Warnw("failed to send stream stop", "session_id", s.ID, "error", err)
		}
		s.ClearCredentials()
		s.Error = domain.NewStreamError(domain.StreamErrorBadStreamName)
		c.setState(domain.StateIdle)

	case domain.PublishStarted:
		c.reconnect.Disarm()

	case domain.UnpublishSucceeded:
		c.logger.Debugw("unpublished", "session_id", s.ID)

	case domain.CongestionDetected:
		if s.State != domain.StateStarted || c.cfg.AdaptiveBitrateDisabled {
			return
		}
		if stats := c.bitrate.OnCongestion(e.Severity); stats != nil {
			c.stats = stats
			if stats.NewBitrate != stats.CurrentBitrate {
				tracing.AddBitrateChange(c.span, stats.CurrentBitrate, stats.NewBitrate)
			}
		}
	}
}

func (c *SessionController) checkSchedule(campaignID domain.CampaignID) {
	c.scheduleAttempt++
	attempt := c.scheduleAttempt
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ScheduleCheckTimeout)
	c.scheduleCancel = cancel
	go func() {
		defer cancel()
		scheduled, err := c.schedule.IsScheduled(ctx, campaignID)
		c.post(func(ctx context.Context) {
			c.onScheduleChecked(ctx, attempt, scheduled, err)
		})
	}()
}

// onScheduleChecked drops results from any check but the latest.
func (c *SessionController) onScheduleChecked(ctx context.Context, attempt uint64, scheduled bool, err error) {
	s := c.session
	if s == nil || attempt != c.scheduleAttempt || s.State != domain.StateAwaitingScheduleCheck {
		c.ignore("schedule_checked")
		return
	}
	c.scheduleCancel = nil
	if err != nil {
		c.logger.Warnw("schedule check failed, continuing", "campaign_id", s.CampaignID, "error", err)
	}
	s.IsScheduled = err == nil && scheduled
	if !s.IsScheduled {
		s.Error = domain.NewStreamError(domain.StreamErrorNotScheduled)
	}
	c.diagnostics.Report(domain.CampaignReadyTopic(s.CampaignID, s.IsScheduled))

	c.setState(domain.StatePreparing)
	c.prepTicks = 0
	c.prepTicker = c.clock.NewTicker(c.cfg.PreparationTickInterval)
	c.signaling.SubscribeOnce(domain.SignalNodesReady)
	c.signaling.SubscribeOnce(domain.SignalSessionInitiated)
	c.signaling.SubscribeOnce(domain.SignalStreamStopped)
	if err := c.signaling.Send(ctx, domain.CommandNodesUp, struct{}{}); err != nil {
		c.logger.Warnw("failed to request nodes", "session_id", s.ID, "error", err)
	}
}

func (c *SessionController) loadCredentials(ctx context.Context) {
	s := c.session
	if s.LoadingCredentials {
		c.logger.Debugw("credentials already requested", "session_id", s.ID)
		return
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Errorw("cannot request stream credentials", "session_id", s.ID, "error", err)
		return
	}
	width, height := s.Resolution.Dimensions(s.Orientation)
	s.LoadingCredentials = true
	err = c.signaling.Send(ctx, domain.CommandStreamInit, domain.StreamInitPayload{
		Width:  width,
		Height: height,
		Token:  token,
		PageID: s.PageID,
	})
	if err != nil {
		s.LoadingCredentials = false
		c.logger.Warnw("failed to request stream credentials", "session_id", s.ID, "error", err)
	}
}

func (c *SessionController) handlePreparationTick(ctx context.Context) {
	s := c.session
	if s == nil || s.State != domain.StatePreparing {
		c.stopPreparation()
		return
	}
	c.prepTicks++
	if c.prepTicks < c.cfg.PreparationTicks {
		return
	}

	c.stopPreparation()
	c.logger.Warnw("stream preparation timed out", "session_id", s.ID, "ticks", c.prepTicks)
	s.LoadingCredentials = false
	if err := c.signaling.Send(ctx, domain.CommandStreamStop, struct{}{}); err != nil {
		c.logger.Warnw("failed to send stream stop", "session_id", s.ID, "error", err)
	}
	s.Error = domain.NewStreamError(domain.StreamErrorWaitingTimeout)
	c.setState(domain.StateIdle)
}

func (c *SessionController) handleReconnectTick(ctx context.Context) {
	s := c.session
	if s == nil || s.State != domain.StateWaiting {
		c.reconnect.Disarm()
		return
	}
	if c.reconnect.HandleTick() == TickExhausted {
		c.fail(ctx, domain.NewStreamError(domain.StreamErrorMaxReconnect))
		return
	}
	tracing.AddReconnectAttempt(c.span, c.reconnect.RetryCount())
}

func (c *SessionController) preparationC() <-chan time.Time {
	if c.prepTicker == nil {
		return nil
	}
	return c.prepTicker.Chan()
}

func (c *SessionController) stopPreparation() {
	if c.prepTicker != nil {
		c.prepTicker.Stop()
		c.prepTicker = nil
	}
}

func (c *SessionController) cancelTimers() {
	c.stopPreparation()
	c.reconnect.Disarm()
	c.bitrate.Cancel()
	if c.scheduleCancel != nil {
		c.scheduleCancel()
		c.scheduleCancel = nil
	}
	c.scheduleAttempt++
}

// leave cancels all timers, closes the transport and tells the service the
// stream is over.
func (c *SessionController) leave(ctx context.Context) {
	s := c.session
	c.cancelTimers()
	s.UserInitiatedClose = true
	s.LoadingCredentials = false
	c.transport.Stop()
	if err := c.signaling.Send(ctx, domain.CommandStreamStop, struct{}{}); err != nil {
		c.logger.Warnw("failed to send stream stop", "session_id", s.ID, "error", err)
	}
	if err := c.signaling.Disconnect(); err != nil {
		c.logger.Warnw("failed to disconnect signaling", "session_id", s.ID, "error", err)
	}
	s.ClearCredentials()
}

func (c *SessionController) fail(ctx context.Context, streamErr *domain.StreamError) {
	s := c.session
	c.logger.Errorw("stream failed",
		"session_id", s.ID,
		"state", s.State.String(),
		"reason", streamErr.Kind,
		"code", int(streamErr.Code),
	)
	if c.span != nil {
		c.span.RecordError(streamErr)
	}
	c.leave(ctx)
	s.Error = streamErr
	c.setState(domain.StateFailed)
}

func (c *SessionController) setState(to domain.SessionState) {
	s := c.session
	from := s.State
	if from == to {
		return
	}
	s.State = to
	c.logger.Infow("session state changed",
		"session_id", s.ID,
		"campaign_id", s.CampaignID,
		"from", from.String(),
		"to", to.String(),
	)
	c.metrics.RecordStateTransition(from, to)
	tracing.AddStateTransition(c.span, from.String(), to.String())
	if to.IsTerminal() && s.StartedAt != nil {
		c.logger.Infow("broadcast ended",
			"session_id", s.ID,
			"state", to.String(),
			"duration", utils.FormatDuration(c.clock.Now().Sub(*s.StartedAt)),
		)
	}
	if !to.IsActive() {
		c.endSpan()
	}
}

func (c *SessionController) endSpan() {
	if c.span != nil {
		c.span.End()
		c.span = nil
	}
}

func (c *SessionController) ignore(event string) {
	state := domain.StateIdle
	if c.session != nil {
		state = c.session.State
	}
	c.logger.Debugw("event ignored in current state", "event", event, "state", state.String())
}

func (c *SessionController) shutdown() {
	s := c.session
	if s != nil && s.State.IsActive() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LeaveTimeout)
		c.leave(ctx)
		cancel()
		c.setState(domain.StateFinished)
	}
	c.cancelTimers()
	c.endSpan()
	c.publish()
}

func (c *SessionController) buildSnapshot() domain.Snapshot {
	now := c.clock.Now()
	snap := domain.Snapshot{
		State:              domain.StateIdle,
		Preview:            c.preview,
		Mic:                domain.MicUnmuted,
		Camera:             domain.CameraFront,
		Orientation:        domain.OrientationPortrait,
		SignalingConnected: c.signalingConnected,
		ReconnectAttempts:  c.reconnect.RetryCount(),
		UpdatedAt:          now,
	}
	if c.stats != nil {
		stats := *c.stats
		snap.Statistics = &stats
	}
	s := c.session
	if s == nil {
		return snap
	}
	snap.SessionID = s.ID
	snap.CampaignID = s.CampaignID
	snap.PageID = s.PageID
	snap.State = s.State
	snap.Mic = s.Mic
	snap.Camera = s.Camera
	snap.Orientation = s.Orientation
	if s.Error != nil {
		streamErr := *s.Error
		snap.Error = &streamErr
	}
	if s.StartedAt != nil {
		started := *s.StartedAt
		snap.StartedAt = &started
		if s.State.IsPublishing() {
			snap.Elapsed = now.Sub(started)
		}
	}
	return snap
}

func (c *SessionController) publish() {
	snap := c.buildSnapshot()

	c.snapMu.Lock()
	c.snapshot = snap
	for _, ch := range c.subs {
		offerLatest(ch, snap)
	}
	c.snapMu.Unlock()

	if c.repo != nil && snap.SessionID != "" {
		offerLatest(c.persistC, snap)
	}
}

// offerLatest replaces whatever is buffered in ch with snap. Only one goroutine
// may send on ch.
func offerLatest(ch chan domain.Snapshot, snap domain.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func (c *SessionController) persistLoop() {
	for {
		select {
		case snap := <-c.persistC:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
			if err := c.repo.SaveSnapshot(ctx, snap); err != nil {
				c.logger.Debugw("failed to persist snapshot", "session_id", snap.SessionID, "error", err)
			}
			cancel()
		case <-c.done:
			return
		}
	}
}
