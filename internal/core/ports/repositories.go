package ports

import (
	"context"
	"time"

	"livecast/internal/core/domain"
)

// SessionRepository persists session snapshots and the backgrounding mark.
type SessionRepository interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	GetSnapshot(ctx context.Context, id domain.SessionID) (*domain.Snapshot, error)
	Delete(ctx context.Context, id domain.SessionID) error
	MarkBackground(ctx context.Context, id domain.SessionID, at time.Time) error
	// TakeBackground returns and clears the mark; ok is false when none was set.
	TakeBackground(ctx context.Context, id domain.SessionID) (at time.Time, ok bool, err error)
}
