package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const sessionIndexKey = "livecast:session:index"

type RedisSessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionRepository stores snapshots as JSON under
// livecast:session:{id} and background marks under livecast:background:{id}.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "livecast:",
		ttl:    ttl,
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + "session:" + string(id)
}

func (r *RedisSessionRepository) backgroundKey(id domain.SessionID) string {
	return r.prefix + "background:" + string(id)
}

func (r *RedisSessionRepository) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(snap.SessionID), data, r.ttl)
	pipe.SAdd(ctx, sessionIndexKey, string(snap.SessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetSnapshot(ctx context.Context, id domain.SessionID) (*domain.Snapshot, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id), r.backgroundKey(id))
	pipe.SRem(ctx, sessionIndexKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) MarkBackground(ctx context.Context, id domain.SessionID, at time.Time) error {
	if err := r.client.Set(ctx, r.backgroundKey(id), at.UnixNano(), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark background in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) TakeBackground(ctx context.Context, id domain.SessionID) (time.Time, bool, error) {
	nanos, err := r.client.GetDel(ctx, r.backgroundKey(id)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read background mark from Redis: %w", err)
	}
	return time.Unix(0, nanos), true, nil
}
