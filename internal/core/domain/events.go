package domain

// SignalingEvent is an inbound event from the session-coordination service.
type SignalingEvent interface {
	signalingEvent()
	Kind() SignalingEventKind
}

type SignalingEventKind string

const (
	SignalNodesReady              SignalingEventKind = "v1:nodes:ready"
	SignalSessionInitiated        SignalingEventKind = "v1:streaming:inited"
	SignalStreamStopped           SignalingEventKind = "v1:streaming:stopped"
	SignalConnectionStatusChanged SignalingEventKind = "statusChange"
	SignalRemoteError             SignalingEventKind = "v1:error"
)

type NodesReady struct{}

type SessionInitiated struct {
	RTMPURL string `json:"rtmpUrl"`
	RTMPKey string `json:"rtmpKey"`
}

type StreamStopped struct{}

type ConnectionStatusChanged struct {
	Connected bool
}

type RemoteError struct {
	Code RemoteErrorCode `json:"code"`
}

func (NodesReady) signalingEvent()              {}
func (SessionInitiated) signalingEvent()        {}
func (StreamStopped) signalingEvent()           {}
func (ConnectionStatusChanged) signalingEvent() {}
func (RemoteError) signalingEvent()             {}

func (NodesReady) Kind() SignalingEventKind              { return SignalNodesReady }
func (SessionInitiated) Kind() SignalingEventKind        { return SignalSessionInitiated }
func (StreamStopped) Kind() SignalingEventKind           { return SignalStreamStopped }
func (ConnectionStatusChanged) Kind() SignalingEventKind { return SignalConnectionStatusChanged }
func (RemoteError) Kind() SignalingEventKind             { return SignalRemoteError }

// SignalingCommand is an outbound control message name.
type SignalingCommand string

const (
	CommandStreamInit SignalingCommand = "v1:streaming:init"
	CommandNodesUp    SignalingCommand = "v1:nodes:up"
	CommandStreamStop SignalingCommand = "v1:streaming:stop"
	CommandLogsNew    SignalingCommand = "v1:logs:new"
)

// StreamInitPayload is sent with CommandStreamInit.
type StreamInitPayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Token  string `json:"token"`
	PageID PageID `json:"pageId"`
}

// TransportEvent is an asynchronous callback from the media transport.
type TransportEvent interface {
	transportEvent()
	String() string
}

type ConnectSucceeded struct{}
type ConnectFailed struct{}
type ConnectClosed struct{}
type PublishRejected struct{}
type UnpublishSucceeded struct{}
type PublishStarted struct{}

type CongestionDetected struct {
	Severity CongestionSeverity
}

func (ConnectSucceeded) transportEvent()   {}
func (ConnectFailed) transportEvent()      {}
func (ConnectClosed) transportEvent()      {}
func (PublishRejected) transportEvent()    {}
func (UnpublishSucceeded) transportEvent() {}
func (PublishStarted) transportEvent()     {}
func (CongestionDetected) transportEvent() {}

func (ConnectSucceeded) String() string   { return "connect_success" }
func (ConnectFailed) String() string      { return "connect_failed" }
func (ConnectClosed) String() string      { return "connect_closed" }
func (PublishRejected) String() string    { return "publish_bad_name" }
func (UnpublishSucceeded) String() string { return "unpublish_success" }
func (PublishStarted) String() string     { return "publish_start" }
func (e CongestionDetected) String() string {
	return "congestion_" + e.Severity.String()
}
