package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/internal/core/services"
	"livecast/pkg/tracing"
	"livecast/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameSize = 64 * 1024

// ClientConfig configures the signaling connection.
type ClientConfig struct {
	URL                   string
	PingInterval          time.Duration
	PongTimeout           time.Duration
	WriteTimeout          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	EventBuffer           int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:                   "ws://localhost:8081/ws",
		PingInterval:          25 * time.Second,
		PongTimeout:           60 * time.Second,
		WriteTimeout:          10 * time.Second,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     30 * time.Second,
		EventBuffer:           64,
	}
}

// Client is the websocket side of the signaling channel. Once connected it
// reconnects on its own until Disconnect; callers only see
// ConnectionStatusChanged events. Commands sent while the socket is down are
// queued and written after the next successful dial. Diagnostics records
// have their own queue and are written only when no command is pending.
type Client struct {
	cfg         ClientConfig
	dialer      *websocket.Dialer
	diagnostics ports.DiagnosticsSink
	metrics     ports.MetricsRecorder
	logger      *zap.SugaredLogger

	events chan domain.SignalingEvent
	out    chan Frame
	logs   chan Frame

	mu        sync.Mutex
	active    bool
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
	once      map[domain.SignalingEventKind]int
}

func NewClient(cfg ClientConfig, diagnostics ports.DiagnosticsSink, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Client {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if diagnostics == nil {
		diagnostics = services.NopDiagnostics{}
	}
	if metrics == nil {
		metrics = services.NopMetrics{}
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WriteTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		diagnostics: diagnostics,
		metrics:     metrics,
		logger:      logger,
		events:      make(chan domain.SignalingEvent, cfg.EventBuffer),
		out:         make(chan Frame, cfg.EventBuffer),
		logs:        make(chan Frame, cfg.EventBuffer),
		once:        make(map[domain.SignalingEventKind]int),
	}
}

// SetDiagnostics attaches the diagnostics sink. Must be called before Connect.
func (c *Client) SetDiagnostics(diagnostics ports.DiagnosticsSink) {
	c.diagnostics = diagnostics
}

// Connect starts the connection loop for a campaign. It returns once the
// loop is running; a client that is already active is left alone.
func (c *Client) Connect(ctx context.Context, campaignID domain.CampaignID) error {
	target, err := c.endpoint(campaignID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}

	c.discardOutbound()
	runCtx, cancel := context.WithCancel(context.Background())
	c.active = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, target, c.done)

	c.logger.Infow("signaling connecting", "campaign_id", campaignID, "url", c.cfg.URL)
	return nil
}

// Disconnect flushes queued commands, closes the socket and stops reconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.once = make(map[domain.SignalingEventKind]int)
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * c.cfg.WriteTimeout):
		c.logger.Warnw("signaling connection did not close in time")
	}
	c.logger.Infow("signaling disconnected")
	return nil
}

// Send queues a command for the socket. It fails only when the client is not
// active or the command's queue is full; a full diagnostics queue never
// affects commands.
func (c *Client) Send(ctx context.Context, command domain.SignalingCommand, payload interface{}) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return domain.ErrNotConnected
	}

	frame, err := NewFrame(string(command), payload)
	if err != nil {
		return err
	}

	_, span := tracing.TraceSignalingMessage(ctx, "out", string(command))
	defer span.End()

	queue, name := c.out, "signaling send"
	if command == domain.CommandLogsNew {
		queue, name = c.logs, "diagnostics"
	}
	select {
	case queue <- frame:
	default:
		return fmt.Errorf("%s queue full, %s dropped", name, command)
	}

	c.metrics.RecordSignalingMessage("out", string(command))
	// Diagnostics travel over this channel themselves.
	if command != domain.CommandLogsNew {
		c.diagnostics.Report(domain.SocketOutputTopic(string(command), outputParams(payload)))
	}
	return nil
}

// SubscribeOnce lets exactly one more occurrence of kind through to Events.
func (c *Client) SubscribeOnce(kind domain.SignalingEventKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once[kind]++
}

func (c *Client) Events() <-chan domain.SignalingEvent {
	return c.events
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) endpoint(campaignID domain.CampaignID) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid signaling url: %w", err)
	}
	q := u.Query()
	q.Set("campaignId", string(campaignID))
	q.Set("userUid", utils.GenerateConnectionUID())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) run(ctx context.Context, target string, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitialDelay
	b.MaxInterval = c.cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(b, ctx)

	for {
		var conn *websocket.Conn
		dial := func() error {
			cn, _, err := c.dialer.DialContext(ctx, target, nil)
			if err != nil {
				return err
			}
			conn = cn
			return nil
		}
		notify := func(err error, next time.Duration) {
			c.logger.Warnw("signaling dial failed", "error", err, "retry_in", next)
		}
		if err := backoff.RetryNotify(dial, policy, notify); err != nil {
			return
		}

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInitialDelay):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	c.setConnected(true)
	c.logger.Infow("signaling connected")
	c.emit(ctx, domain.ConnectionStatusChanged{Connected: true})

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	readErr := make(chan error, 1)
	go c.readLoop(ctx, conn, readErr)

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case f := <-c.out:
			if err := c.write(conn, f); err != nil {
				c.logger.Warnw("signaling write failed", "event", f.Event, "error", err)
				c.lost(ctx)
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			c.flush(conn)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			c.setConnected(false)
			c.offer(domain.ConnectionStatusChanged{Connected: false})
			return

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnw("signaling connection lost", "error", err)
			} else {
				c.logger.Infow("signaling connection closed", "error", err)
			}
			c.lost(ctx)
			return

		case f := <-c.out:
			if err := c.write(conn, f); err != nil {
				c.logger.Warnw("signaling write failed", "event", f.Event, "error", err)
				c.lost(ctx)
				return
			}

		case f := <-c.logs:
			if err := c.write(conn, f); err != nil {
				c.logger.Warnw("signaling write failed", "event", f.Event, "error", err)
				c.lost(ctx)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warnw("signaling ping failed", "error", err)
				c.lost(ctx)
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, errc chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warnw("invalid signaling frame", "error", err, "frame", utils.TruncateString(string(data), 256))
			continue
		}
		c.handleFrame(ctx, f)
	}
}

func (c *Client) handleFrame(ctx context.Context, f Frame) {
	_, span := tracing.TraceSignalingMessage(ctx, "in", f.Event)
	defer span.End()

	c.metrics.RecordSignalingMessage("in", f.Event)
	c.diagnostics.Report(domain.SocketInputTopic(f.Event))

	ev, err := DecodeEvent(f)
	if err != nil {
		c.logger.Warnw("failed to decode signaling event", "event", f.Event, "error", err)
		return
	}
	if ev == nil {
		c.logger.Debugw("unknown signaling event", "event", f.Event)
		return
	}
	if gated(ev.Kind()) && !c.consume(ev.Kind()) {
		c.logger.Debugw("signaling event without subscriber", "event", f.Event)
		return
	}
	c.logger.Debugw("signaling event received", "event", f.Event)
	c.emit(ctx, ev)
}

// consume uses up one SubscribeOnce registration for kind.
func (c *Client) consume(kind domain.SignalingEventKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.once[kind] == 0 {
		return false
	}
	c.once[kind]--
	return true
}

func (c *Client) emit(ctx context.Context, ev domain.SignalingEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// offer delivers ev only if there is room; used once the loop is shutting down.
func (c *Client) offer(ev domain.SignalingEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) lost(ctx context.Context) {
	c.setConnected(false)
	c.emit(ctx, domain.ConnectionStatusChanged{Connected: false})
}

func (c *Client) write(conn *websocket.Conn, f Frame) error {
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(f)
}

// flush writes whatever is queued, commands first, best effort.
func (c *Client) flush(conn *websocket.Conn) {
	for _, queue := range []chan Frame{c.out, c.logs} {
		if err := c.drain(queue, func(f Frame) error { return c.write(conn, f) }); err != nil {
			c.logger.Debugw("dropping queued signaling frames", "error", err)
			return
		}
	}
}

func (c *Client) discardOutbound() {
	for _, queue := range []chan Frame{c.out, c.logs} {
		c.drain(queue, func(Frame) error { return nil })
	}
}

func (c *Client) drain(queue chan Frame, fn func(Frame) error) error {
	for {
		select {
		case f := <-queue:
			if err := fn(f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func outputParams(payload interface{}) map[string]string {
	p, ok := payload.(domain.StreamInitPayload)
	if !ok {
		return nil
	}
	return map[string]string{
		"width":  strconv.Itoa(p.Width),
		"height": strconv.Itoa(p.Height),
		"pageId": string(p.PageID),
	}
}
