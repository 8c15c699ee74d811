package domain

import "errors"

var (
	ErrNoCampaign            = errors.New("no campaign selected")
	ErrSessionActive         = errors.New("session already active")
	ErrSessionTerminal       = errors.New("session finished, reset required")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrSessionClosed         = errors.New("session controller closed")
	ErrNotConnected          = errors.New("signaling channel not connected")
	ErrMaxReconnectAttempts  = errors.New("max reconnect attempts reached")
	ErrPreparationTimeout    = errors.New("stream preparation timed out")
	ErrBadStreamName         = errors.New("publish rejected: bad stream name")
	ErrTokenMissing          = errors.New("access token missing")
	ErrTokenExpired          = errors.New("access token expired")
	ErrSessionNotFound       = errors.New("session not found")
	ErrTransportNotConfigure = errors.New("media transport not configured")
)

// StreamErrorKind is the closed set of user-visible session outcomes.
type StreamErrorKind string

const (
	StreamErrorNotScheduled     StreamErrorKind = "not_scheduled"
	StreamErrorWaitingTimeout   StreamErrorKind = "waiting_timeout"
	StreamErrorBadStreamName    StreamErrorKind = "bad_stream_name"
	StreamErrorConnectionFailed StreamErrorKind = "connection_failed"
	StreamErrorMaxReconnect     StreamErrorKind = "max_reconnect_attempts"
	StreamErrorRemote           StreamErrorKind = "remote_error"
)

// StreamError is surfaced once in the session snapshot.
type StreamError struct {
	Kind    StreamErrorKind `json:"kind"`
	Message string          `json:"message"`
	Code    RemoteErrorCode `json:"code,omitempty"`
	// Advisory errors do not stop the session.
	Advisory bool `json:"advisory,omitempty"`
}

func (e *StreamError) Error() string {
	return e.Message
}

// NewStreamError builds a StreamError with its standard message.
func NewStreamError(kind StreamErrorKind) *StreamError {
	e := &StreamError{Kind: kind}
	switch kind {
	case StreamErrorNotScheduled:
		e.Message = "This stream wasn't scheduled and might take up to 3 minutes to start"
		e.Advisory = true
	case StreamErrorWaitingTimeout:
		e.Message = "Unable to start the stream"
	case StreamErrorBadStreamName:
		e.Message = "The stream was rejected by the media server"
	case StreamErrorConnectionFailed:
		e.Message = "Unable to connect to the media server"
	case StreamErrorMaxReconnect:
		e.Message = "Connection lost and could not be restored"
	case StreamErrorRemote:
		e.Message = "The streaming service reported an error"
	default:
		e.Message = string(kind)
	}
	return e
}

// RemoteErrorCode is the numeric error code sent by the coordination service.
type RemoteErrorCode int

const (
	RemoteBadRequest              RemoteErrorCode = 1
	RemoteInternalServerError     RemoteErrorCode = 2
	RemoteInstanceCreateError     RemoteErrorCode = 3
	RemoteStreamingInitError      RemoteErrorCode = 4
	RemoteStreamingStopError      RemoteErrorCode = 5
	RemoteStreamingStopForbidden  RemoteErrorCode = 6
	RemoteStreamAlreadyProcessing RemoteErrorCode = 7
	RemoteInitAuthError           RemoteErrorCode = 8
	RemoteUnexpectedStop          RemoteErrorCode = 9
	RemoteStreamingStartError     RemoteErrorCode = 10
)

func (c RemoteErrorCode) String() string {
	switch c {
	case RemoteBadRequest:
		return "bad_request"
	case RemoteInternalServerError:
		return "internal_server_error"
	case RemoteInstanceCreateError:
		return "instance_create_error"
	case RemoteStreamingInitError:
		return "streaming_init_error"
	case RemoteStreamingStopError:
		return "streaming_stop_error"
	case RemoteStreamingStopForbidden:
		return "streaming_stop_forbidden"
	case RemoteStreamAlreadyProcessing:
		return "stream_already_processing"
	case RemoteInitAuthError:
		return "init_auth_error"
	case RemoteUnexpectedStop:
		return "unexpected_stop"
	case RemoteStreamingStartError:
		return "streaming_start_error"
	default:
		return "unknown"
	}
}

type RemoteErrorAction int

const (
	// ActionFail moves the session to Failed without retry.
	ActionFail RemoteErrorAction = iota
	// ActionLeave runs the leave sequence and finishes the session.
	ActionLeave
)

// Classify maps a remote error code to the controller reaction.
// Unmapped codes fail.
func Classify(code RemoteErrorCode) RemoteErrorAction {
	switch code {
	case RemoteBadRequest, RemoteInternalServerError, RemoteInstanceCreateError, RemoteInitAuthError:
		return ActionFail
	case RemoteUnexpectedStop:
		return ActionLeave
	default:
		return ActionFail
	}
}
