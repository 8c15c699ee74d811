package monitoring

import (
	"context"
	"errors"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
)

const probeSessionID domain.SessionID = "health-probe"

// AddStorageCheck adds a check backed by a ping function, such as the
// repository factory's Redis ping.
func (h *HealthChecker) AddStorageCheck(ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck("storage", func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck reads a probe snapshot; not-found counts as healthy.
func (h *HealthChecker) AddRepositoryCheck(repo ports.SessionRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		_, err := repo.GetSnapshot(ctx, probeSessionID)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddControllerCheck fails once the session controller's loop has exited.
func (h *HealthChecker) AddControllerCheck(done <-chan struct{}, interval, timeout time.Duration) {
	h.AddCheck("session_controller", func(ctx context.Context) (bool, error) {
		select {
		case <-done:
			return false, domain.ErrSessionClosed
		default:
			return true, nil
		}
	}, interval, timeout)
}
