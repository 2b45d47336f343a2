package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/workflow"
)

// RedisStore persists snapshots in Redis. Suitable for deployments that
// already run shared infrastructure; the snapshot lives under a single key
// so save and load stay atomic.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed snapshot store and verifies the
// connection.
func NewRedisStore(config StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "taskflow:"
	}

	return &RedisStore{
		client: client,
		key:    keyPrefix + "snapshot",
		logger: logger.With(zap.String("component", "redis_store")),
	}, nil
}

// SaveSnapshot stores the serialized snapshot under the snapshot key.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *workflow.Snapshot) error {
	if snap == nil {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	s.logger.Debug("snapshot stored", zap.Int("bytes", len(data)))
	return nil
}

// LoadSnapshot fetches and decodes the snapshot; a missing key yields nil, nil.
func (s *RedisStore) LoadSnapshot(ctx context.Context) (*workflow.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	var snap workflow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
