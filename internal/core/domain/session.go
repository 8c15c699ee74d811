package domain

import "time"

type SessionID string
type CampaignID string
type PageID string

// SessionState is the broadcast session lifecycle state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingScheduleCheck
	StatePreparing
	StateConnecting
	StateStarted
	StateWaiting
	StateFinished
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingScheduleCheck:
		return "awaiting_schedule_check"
	case StatePreparing:
		return "preparing"
	case StateConnecting:
		return "connecting"
	case StateStarted:
		return "started"
	case StateWaiting:
		return "waiting"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name so snapshots stay readable.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *SessionState) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	*s = StateIdle
	return nil
}

// IsActive reports whether a broadcast attempt is in flight.
func (s SessionState) IsActive() bool {
	switch s {
	case StateAwaitingScheduleCheck, StatePreparing, StateConnecting, StateStarted, StateWaiting:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the session must be reset before starting again.
func (s SessionState) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}

// IsPublishing covers the states in which the transport owns a publish attempt.
func (s SessionState) IsPublishing() bool {
	return s == StateConnecting || s == StateStarted || s == StateWaiting
}

type MicState string

const (
	MicUnmuted MicState = "unmuted"
	MicMuted   MicState = "muted"
)

// StreamSession is the aggregate root for one broadcast attempt.
// It is mutated only by the session controller's event loop.
type StreamSession struct {
	ID         SessionID
	CampaignID CampaignID
	PageID     PageID

	State SessionState

	RTMPURL string
	RTMPKey string

	// StartedAt is set the first time a publish succeeds and survives reconnects.
	StartedAt *time.Time

	UserInitiatedClose bool
	LoadingCredentials bool
	IsScheduled        bool

	Resolution    Resolution
	Stabilization StabilizationMode
	Orientation   Orientation
	Camera        CameraPosition
	Mic           MicState

	Error *StreamError

	SignalingConnected bool
}

// NewStreamSession creates an idle session for the given campaign.
func NewStreamSession(id SessionID, campaignID CampaignID, pageID PageID, resolution Resolution) *StreamSession {
	return &StreamSession{
		ID:          id,
		CampaignID:  campaignID,
		PageID:      pageID,
		State:       StateIdle,
		Resolution:  resolution,
		Orientation: OrientationPortrait,
		Camera:      CameraFront,
		Mic:         MicUnmuted,
	}
}

// HasCredentials reports whether the signaling service supplied publish credentials.
func (s *StreamSession) HasCredentials() bool {
	return s.RTMPURL != "" && s.RTMPKey != ""
}

// ClearCredentials drops the RTMP url and key.
func (s *StreamSession) ClearCredentials() {
	s.RTMPURL = ""
	s.RTMPKey = ""
}

// MarkStarted sets StartedAt once and returns the stable value.
func (s *StreamSession) MarkStarted(now time.Time) time.Time {
	if s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}
	return *s.StartedAt
}

// Snapshot is the consolidated, read-only view of a session for the UI layer.
type Snapshot struct {
	SessionID          SessionID      `json:"session_id,omitempty"`
	CampaignID         CampaignID     `json:"campaign_id,omitempty"`
	PageID             PageID         `json:"page_id,omitempty"`
	State              SessionState   `json:"state"`
	Preview            PreviewHandle  `json:"preview,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	Elapsed            time.Duration  `json:"elapsed"`
	Error              *StreamError   `json:"error,omitempty"`
	Statistics         *Statistics    `json:"statistics,omitempty"`
	Mic                MicState       `json:"mic"`
	Camera             CameraPosition `json:"camera"`
	Orientation        Orientation    `json:"orientation"`
	SignalingConnected bool           `json:"signaling_connected"`
	ReconnectAttempts  int            `json:"reconnect_attempts"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
