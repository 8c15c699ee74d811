package signal

import (
	"encoding/json"
	"fmt"

	"livecast/internal/core/domain"
)

// Frame is the wire envelope used in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload as the frame data. A nil payload sends an empty object.
func NewFrame(event string, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Event: event, Data: json.RawMessage("{}")}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// DecodeEvent maps an inbound frame to a signaling event. Unknown event
// names return (nil, nil).
func DecodeEvent(f Frame) (domain.SignalingEvent, error) {
	switch domain.SignalingEventKind(f.Event) {
	case domain.SignalNodesReady:
		return domain.NodesReady{}, nil

	case domain.SignalSessionInitiated:
		var ev domain.SessionInitiated
		if err := unmarshalData(f, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case domain.SignalStreamStopped:
		return domain.StreamStopped{}, nil

	case domain.SignalRemoteError:
		var ev domain.RemoteError
		if err := unmarshalData(f, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	default:
		return nil, nil
	}
}

// gated reports whether delivery of kind requires a SubscribeOnce registration.
func gated(kind domain.SignalingEventKind) bool {
	switch kind {
	case domain.SignalNodesReady, domain.SignalSessionInitiated, domain.SignalStreamStopped:
		return true
	default:
		return false
	}
}

func unmarshalData(f Frame, v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: missing data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: invalid data: %w", f.Event, err)
	}
	return nil
}
