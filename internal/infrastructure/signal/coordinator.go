package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CoordinatorConfig configures the development coordination server.
type CoordinatorConfig struct {
	RTMPURL        string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		RTMPURL:      "rtmp://localhost:1935/live",
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Coordinator plays the session-coordination service for local runs and
// tests: it answers nodes-up, stream-init and stream-stop and can inject
// remote errors and service-side stops.
type Coordinator struct {
	cfg      CoordinatorConfig
	upgrader websocket.Upgrader

	connections map[string]*peerConn
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

type peerConn struct {
	conn       *websocket.Conn
	campaignID domain.CampaignID
	userUID    string
	writeMu    sync.Mutex
}

func NewCoordinator(cfg CoordinatorConfig, logger *zap.SugaredLogger) *Coordinator {
	s := &Coordinator{
		cfg:         cfg,
		connections: make(map[string]*peerConn),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Coordinator) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Coordinator) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	campaignID := domain.CampaignID(r.URL.Query().Get("campaignId"))
	userUID := r.URL.Query().Get("userUid")
	if campaignID == "" || userUID == "" {
		http.Error(w, "campaignId and userUid are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pc := &peerConn{conn: conn, campaignID: campaignID, userUID: userUID}

	s.mu.Lock()
	existing, isReconnect := s.connections[userUID]
	if isReconnect && existing != nil {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting client", "user_uid", userUID)
	}
	s.connections[userUID] = pc
	s.mu.Unlock()

	s.logger.Infow("client connected", "campaign_id", campaignID, "user_uid", userUID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	frames := make(chan Frame, 10)
	errc := make(chan error, 1)

	go func() {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				errc <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			frames <- f
		}
	}()

loop:
	for {
		select {
		case f := <-frames:
			if err := s.handleFrame(r.Context(), pc, f); err != nil {
				s.logger.Infow("error handling frame", "user_uid", userUID, "event", f.Event, "error", err)
				s.sendRemoteError(pc, domain.RemoteBadRequest)
			}

		case <-pingTicker.C:
			pc.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			pc.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_uid", userUID, "error", err)
				break loop
			}

		case err := <-errc:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading frame", "user_uid", userUID, "error", err)
			}
			break loop
		}
	}

	s.mu.Lock()
	if s.connections[userUID] == pc {
		delete(s.connections, userUID)
	}
	s.mu.Unlock()

	s.logger.Infow("client disconnected", "campaign_id", campaignID, "user_uid", userUID)
}

func (s *Coordinator) handleFrame(ctx context.Context, pc *peerConn, f Frame) error {
	if f.Event == "" {
		return fmt.Errorf("event is required")
	}

	switch domain.SignalingCommand(f.Event) {
	case domain.CommandNodesUp:
		s.logger.Infow("nodes requested", "campaign_id", pc.campaignID)
		return s.send(pc, string(domain.SignalNodesReady), nil)

	case domain.CommandStreamInit:
		return s.handleStreamInit(pc, f)

	case domain.CommandStreamStop:
		s.logger.Infow("stream stop requested", "campaign_id", pc.campaignID)
		return s.send(pc, string(domain.SignalStreamStopped), nil)

	case domain.CommandLogsNew:
		var record struct {
			LogLevel string `json:"logLevel"`
			Topic    string `json:"topic"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(f.Data, &record); err != nil {
			return fmt.Errorf("invalid logs payload: %w", err)
		}
		s.logger.Debugw("client diagnostics",
			"campaign_id", pc.campaignID,
			"level", record.LogLevel,
			"topic", record.Topic,
			"message", record.Message,
		)
		return nil

	default:
		return fmt.Errorf("unknown event: %s", f.Event)
	}
}

func (s *Coordinator) handleStreamInit(pc *peerConn, f Frame) error {
	var payload domain.StreamInitPayload
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		return fmt.Errorf("invalid stream init payload: %w", err)
	}
	if payload.Token == "" {
		s.logger.Warnw("stream init without token", "campaign_id", pc.campaignID)
		return s.sendRemoteError(pc, domain.RemoteInitAuthError)
	}
	if payload.Width <= 0 || payload.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", payload.Width, payload.Height)
	}

	key := fmt.Sprintf("%s_%s", pc.campaignID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	s.logger.Infow("stream initiated",
		"campaign_id", pc.campaignID,
		"page_id", payload.PageID,
		"width", payload.Width,
		"height", payload.Height,
	)
	return s.send(pc, string(domain.SignalSessionInitiated), domain.SessionInitiated{
		RTMPURL: s.cfg.RTMPURL,
		RTMPKey: key,
	})
}

func (s *Coordinator) send(pc *peerConn, event string, payload interface{}) error {
	f, err := NewFrame(event, payload)
	if err != nil {
		return err
	}
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	pc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return pc.conn.WriteJSON(f)
}

func (s *Coordinator) sendRemoteError(pc *peerConn, code domain.RemoteErrorCode) error {
	return s.send(pc, string(domain.SignalRemoteError), domain.RemoteError{Code: code})
}

// InjectError sends v1:error with code to every client of the campaign and
// returns how many were notified.
func (s *Coordinator) InjectError(campaignID domain.CampaignID, code domain.RemoteErrorCode) int {
	return s.broadcast(campaignID, string(domain.SignalRemoteError), domain.RemoteError{Code: code})
}

// StopStream simulates the service ending the stream on its side.
func (s *Coordinator) StopStream(campaignID domain.CampaignID) int {
	return s.broadcast(campaignID, string(domain.SignalStreamStopped), nil)
}

// DropConnections closes every client socket without a close handshake.
func (s *Coordinator) DropConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pc := range s.connections {
		pc.conn.Close()
	}
	return len(s.connections)
}

func (s *Coordinator) broadcast(campaignID domain.CampaignID, event string, payload interface{}) int {
	s.mu.RLock()
	targets := make([]*peerConn, 0, len(s.connections))
	for _, pc := range s.connections {
		if pc.campaignID == campaignID {
			targets = append(targets, pc)
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, pc := range targets {
		if err := s.send(pc, event, payload); err != nil {
			s.logger.Infow("failed to send to client", "user_uid", pc.userUID, "event", event, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// ConnectionCount returns the number of connected clients.
func (s *Coordinator) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Coordinator) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
