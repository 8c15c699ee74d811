package domain

import "fmt"

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

type LogTopicKind string

const (
	TopicBitrate         LogTopicKind = "bitrate"
	TopicSocketInput     LogTopicKind = "socket_input"
	TopicSocketOutput    LogTopicKind = "socket_output"
	TopicStreamState     LogTopicKind = "stream_state"
	TopicConnectionState LogTopicKind = "stream_connection_state"
	TopicCampaignReady   LogTopicKind = "campaign_ready"
	TopicUserAction      LogTopicKind = "user_action"
)

// LogTopic is one diagnostics record reported to the remote log collector.
type LogTopic struct {
	Kind    LogTopicKind      `json:"kind"`
	Level   LogLevel          `json:"level"`
	Message string            `json:"message"`
	Params  map[string]string `json:"params,omitempty"`
}

// BitrateTopic reports a bitrate change in mbit/s with two decimals.
func BitrateTopic(bitrate uint32) LogTopic {
	mbit := float64(bitrate) / (1024 * 1024)
	return LogTopic{
		Kind:    TopicBitrate,
		Level:   LogLevelInfo,
		Message: fmt.Sprintf("Dynamic video bitrate updated to %.2f mbit/s", mbit),
	}
}

func SocketInputTopic(event string) LogTopic {
	return LogTopic{
		Kind:    TopicSocketInput,
		Level:   LogLevelInfo,
		Message: event + " socket message received",
	}
}

func SocketOutputTopic(command string, params map[string]string) LogTopic {
	return LogTopic{
		Kind:    TopicSocketOutput,
		Level:   LogLevelInfo,
		Message: command + " socket message emitted",
		Params:  params,
	}
}

// TransportTopic reports a transport callback at the level it deserves.
func TransportTopic(ev TransportEvent) LogTopic {
	t := LogTopic{Level: LogLevelInfo}
	switch ev.(type) {
	case ConnectSucceeded, ConnectFailed, ConnectClosed:
		t.Kind = TopicConnectionState
		t.Message = "Stream connection state: " + ev.String()
	default:
		t.Kind = TopicStreamState
		t.Message = "Stream state: " + ev.String()
	}
	switch ev.(type) {
	case ConnectFailed, PublishRejected:
		t.Level = LogLevelError
	case ConnectClosed:
		t.Level = LogLevelWarning
	}
	return t
}

func CampaignReadyTopic(id CampaignID, scheduled bool) LogTopic {
	return LogTopic{
		Kind:    TopicCampaignReady,
		Level:   LogLevelInfo,
		Message: fmt.Sprintf("Campaign %s, preparedness checked: result = %t", id, scheduled),
	}
}

type UserAction string

const (
	ActionStartStream       UserAction = "start_stream"
	ActionCloseStream       UserAction = "close_stream"
	ActionCollapseApp       UserAction = "collapse_app"
	ActionExpandApp         UserAction = "expand_app"
	ActionChangeOrientation UserAction = "change_orientation"
	ActionSwitchCamera      UserAction = "switch_camera"
	ActionSwitchMic         UserAction = "switch_mic"
)

// UserActionTopic reports a UI intent; detail is the optional argument (camera, orientation, mic).
func UserActionTopic(action UserAction, detail string) LogTopic {
	msg := "User action: " + string(action)
	if detail != "" {
		msg += " " + detail
	}
	return LogTopic{Kind: TopicUserAction, Level: LogLevelInfo, Message: msg}
}
