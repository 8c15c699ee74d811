package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey  = "livecast:schema:version"
	sessionKeyPattern = "livecast:session:*"
	scanBatch         = 256
)

type migration struct {
	version     int
	description string
	up          func(ctx context.Context, client *redis.Client) error
}

var migrations = []migration{
	{1, "index existing session snapshots", backfillSessionIndex},
	{2, "drop index entries for expired snapshots", pruneSessionIndex},
}

func latestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies every migration newer than the stored schema version,
// recording the version after each step.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	current, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current >= latestSchemaVersion() {
		logger.Debugw("redis schema up to date", "version", current)
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("applying redis migration", "version", m.version, "description", m.description)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
	}
	return nil
}

func backfillSessionIndex(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, sessionKeyPattern, scanBatch).Iterator()
	var ids []interface{}
	for iter.Next(ctx) {
		key := iter.Val()
		if key == sessionIndexKey {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, "livecast:session:"))
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return client.SAdd(ctx, sessionIndexKey, ids...).Err()
}

func pruneSessionIndex(ctx context.Context, client *redis.Client) error {
	members, err := client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return err
	}
	var stale []interface{}
	for _, id := range members {
		n, err := client.Exists(ctx, "livecast:session:"+id).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return client.SRem(ctx, sessionIndexKey, stale...).Err()
}
