package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livecast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "livecast:events"

// EventType represents the type of event
type EventType string

const (
	EventStateChanged  EventType = "session.state_changed"
	EventSessionFailed EventType = "session.failed"
)

// Event is a session lifecycle notification shared between broadcaster
// instances and external observers.
type Event struct {
	Type       EventType           `json:"type"`
	InstanceID string              `json:"instance_id"`
	Timestamp  time.Time           `json:"timestamp"`
	SessionID  domain.SessionID    `json:"session_id,omitempty"`
	CampaignID domain.CampaignID   `json:"campaign_id,omitempty"`
	From       string              `json:"from,omitempty"`
	To         string              `json:"to"`
	Error      *domain.StreamError `json:"error,omitempty"`
	Snapshot   *domain.Snapshot    `json:"snapshot,omitempty"`
}

// Publisher is the sending half of the event bus.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventBus publishes and consumes session events over Redis pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish stamps the event with this instance and the current time.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"session_id", event.SessionID,
		"to", event.To,
	)
	return nil
}

// Subscribe calls handler for each event from other instances until ctx is
// done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// RelayStates publishes an event whenever the session or its state changes
// in the snapshot stream. Snapshots that only carry new statistics are not
// relayed. Returns when ctx is done or snapshots is closed.
func RelayStates(ctx context.Context, snapshots <-chan domain.Snapshot, pub Publisher, logger *zap.SugaredLogger) {
	var (
		lastID    domain.SessionID
		lastState domain.SessionState
		seen      bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if seen && snap.SessionID == lastID && snap.State == lastState {
				continue
			}

			event := &Event{
				Type:       EventStateChanged,
				SessionID:  snap.SessionID,
				CampaignID: snap.CampaignID,
				To:         snap.State.String(),
				Snapshot:   &snap,
			}
			if seen && snap.SessionID == lastID {
				event.From = lastState.String()
			}
			if snap.State == domain.StateFailed {
				event.Type = EventSessionFailed
				event.Error = snap.Error
			}

			if err := pub.Publish(ctx, event); err != nil {
				logger.Warnw("failed to relay session event", "error", err, "to", event.To)
			}
			lastID, lastState, seen = snap.SessionID, snap.State, true
		}
	}
}
