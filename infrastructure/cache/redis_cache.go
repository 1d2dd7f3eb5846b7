// Package cache provides the soft snapshot cache backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"graphsync/domain/core/aggregates"
)

// DefaultKey is the single key the last accepted snapshot is stored under.
const DefaultKey = "graphsync:snapshot"

// RedisSnapshotCache keeps the last accepted snapshot in one Redis key.
type RedisSnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSnapshotCache connects to redisURL and checks the connection.
// A zero ttl keeps the entry until it is replaced.
func NewRedisSnapshotCache(redisURL, key string, ttl time.Duration, logger *zap.Logger) (*RedisSnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSnapshotCacheWithClient(client, key, ttl, logger), nil
}

// NewRedisSnapshotCacheWithClient creates a cache from an existing client.
func NewRedisSnapshotCacheWithClient(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisSnapshotCache {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSnapshotCache{client: client, key: key, ttl: ttl, logger: logger}
}

// Load returns the cached snapshot, or nil when nothing is cached.
func (c *RedisSnapshotCache) Load(ctx context.Context) (*aggregates.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached snapshot: %w", err)
	}

	var snap aggregates.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("Discarding unreadable cached snapshot", zap.String("key", c.key), zap.Error(err))
		_ = c.client.Del(ctx, c.key).Err()
		return nil, nil
	}
	return &snap, nil
}

// Save replaces the cached snapshot.
func (c *RedisSnapshotCache) Save(ctx context.Context, snapshot *aggregates.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save cached snapshot: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}
