package memory

import (
	"context"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
)

type MemorySessionRepository struct {
	snapshots  map[domain.SessionID]domain.Snapshot
	background map[domain.SessionID]time.Time
	mu         sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		snapshots:  make(map[domain.SessionID]domain.Snapshot),
		background: make(map[domain.SessionID]time.Time),
	}
}

func (r *MemorySessionRepository) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[snap.SessionID] = snap
	return nil
}

func (r *MemorySessionRepository) GetSnapshot(ctx context.Context, id domain.SessionID) (*domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, exists := r.snapshots[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return &snap, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.snapshots, id)
	delete(r.background, id)
	return nil
}

func (r *MemorySessionRepository) MarkBackground(ctx context.Context, id domain.SessionID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.background[id] = at
	return nil
}

func (r *MemorySessionRepository) TakeBackground(ctx context.Context, id domain.SessionID) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, exists := r.background[id]
	if !exists {
		return time.Time{}, false, nil
	}
	delete(r.background, id)
	return at, true, nil
}
