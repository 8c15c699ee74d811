package distributed

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Event(nil), p.events...)
}

func TestRelayStates(t *testing.T) {
	snapshots := make(chan domain.Snapshot, 8)
	pub := &recordingPublisher{}

	snapshots <- domain.Snapshot{State: domain.StateIdle}
	snapshots <- domain.Snapshot{SessionID: "s1", CampaignID: "camp-1", State: domain.StateAwaitingScheduleCheck}
	snapshots <- domain.Snapshot{SessionID: "s1", CampaignID: "camp-1", State: domain.StateAwaitingScheduleCheck, ReconnectAttempts: 1}
	snapshots <- domain.Snapshot{SessionID: "s1", CampaignID: "camp-1", State: domain.StateFailed, Error: domain.NewStreamError(domain.StreamErrorNotScheduled)}
	close(snapshots)

	RelayStates(context.Background(), snapshots, pub, zaptest.NewLogger(t).Sugar())

	events := pub.snapshot()
	require.Len(t, events, 3)

	assert.Equal(t, EventStateChanged, events[0].Type)
	assert.Equal(t, "idle", events[0].To)
	assert.Empty(t, events[0].From)

	assert.Equal(t, domain.SessionID("s1"), events[1].SessionID)
	assert.Empty(t, events[1].From, "a new session has no previous state")

	assert.Equal(t, EventSessionFailed, events[2].Type)
	assert.Equal(t, "awaiting_schedule_check", events[2].From)
	assert.Equal(t, "failed", events[2].To)
	require.NotNil(t, events[2].Error)
	assert.Equal(t, domain.StreamErrorNotScheduled, events[2].Error.Kind)
}

func TestRelayStates_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RelayStates(ctx, make(chan domain.Snapshot), &recordingPublisher{}, zaptest.NewLogger(t).Sugar())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

// Requires a reachable Redis; set LIVECAST_TEST_REDIS_ADDR to run.
func TestEventBus_PublishSubscribe(t *testing.T) {
	addr := os.Getenv("LIVECAST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVECAST_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })

	logger := zaptest.NewLogger(t).Sugar()
	channel := "livecast:test:" + time.Now().Format("150405.000000000")
	sender := NewEventBus(client, "instance-a", channel, logger)
	receiver := NewEventBus(client, "instance-b", channel, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Event, 1)
	go receiver.Subscribe(ctx, func(e *Event) error {
		received <- e
		return nil
	})

	// Publish until the subscription is live.
	require.Eventually(t, func() bool {
		require.NoError(t, sender.Publish(ctx, &Event{Type: EventStateChanged, SessionID: "s1", To: "started"}))
		select {
		case e := <-received:
			assert.Equal(t, "instance-a", e.InstanceID)
			assert.Equal(t, "started", e.To)
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 4*time.Second, 100*time.Millisecond)
}
