package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errUpstream = errors.New("upstream unavailable")
	errRejected = errors.New("credential rejected")
)

func newTestBreaker(threshold int) (*CircuitBreaker, clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	cb := New(Config{
		Name:                "schedule-api",
		FailureThreshold:    threshold,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 1,
		IsCallerError:       func(err error) bool { return errors.Is(err, errRejected) },
		Clock:               clk,
	})
	return cb, clk
}

func fail(ctx context.Context) error    { return errUpstream }
func succeed(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "schedule-api")
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, fail))

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return errRejected })
		assert.ErrorIs(t, err, errRejected)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())

	err := cb.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())

	err = cb.Execute(ctx, func(ctx context.Context) error {
		t.Error("must not run with a canceled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.GetState())

	clk.Advance(9 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)

	clk.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clk.Advance(10 * time.Second)

	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	cb, clk := newTestBreaker(1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clk.Advance(10 * time.Second)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(ctx context.Context) error {
			close(inFlight)
			<-release
			return nil
		})
	}()

	<-inFlight
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)
	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_ExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx := context.Background()

	got, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ExecuteWithResult(ctx, cb, func(ctx context.Context) (bool, error) { return true, errUpstream })
	assert.ErrorIs(t, err, errUpstream)
	assert.False(t, got)

	_, err = ExecuteWithResult(ctx, cb, func(ctx context.Context) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clk := newTestBreaker(1)
	ctx := context.Background()

	var mu sync.Mutex
	var changes []string
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, from.String()+"->"+to.String())
	})

	require.Error(t, cb.Execute(ctx, fail))
	clk.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, fail))
	cb.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->closed",
		"closed->open",
		"open->closed",
	}, changes)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(ctx, fail)
			} else {
				_ = cb.Execute(ctx, succeed)
			}
			_ = cb.GetStats()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{Timeout: time.Second})
	stats := cb.GetStats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, DefaultConfig().FailureThreshold, cb.config.FailureThreshold)
	assert.Equal(t, 1, cb.config.MaxRequestsHalfOpen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
