package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the snapshot store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// RedisSnapshotter mirrors cache entries to redis so the stale fallback
// survives a restart.
type RedisSnapshotter[T any] struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisSnapshotter connects to redis and verifies the connection.
func NewRedisSnapshotter[T any](ctx context.Context, cfg RedisConfig) (*RedisSnapshotter[T], error) {
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "hazard:cache"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis snapshot store: %w", err)
	}

	return NewRedisSnapshotterWithClient[T](client, cfg.KeyPrefix, cfg.Retention), nil
}

// NewRedisSnapshotterWithClient wraps an existing client.
func NewRedisSnapshotterWithClient[T any](client *redis.Client, prefix string, retention time.Duration) *RedisSnapshotter[T] {
	return &RedisSnapshotter[T]{client: client, prefix: prefix, retention: retention}
}

// Save writes entry under key.
func (s *RedisSnapshotter[T]) Save(ctx context.Context, key string, entry Entry[T]) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), b, s.retention).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// Load reads the snapshot for key. The boolean is false when none exists.
func (s *RedisSnapshotter[T]) Load(ctx context.Context, key string) (Entry[T], bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry[T]{}, false, nil
	}
	if err != nil {
		return Entry[T]{}, false, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	var entry Entry[T]
	if err := json.Unmarshal(b, &entry); err != nil {
		return Entry[T]{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return entry, true, nil
}

// Close releases the redis connection pool.
func (s *RedisSnapshotter[T]) Close() error {
	return s.client.Close()
}

func (s *RedisSnapshotter[T]) key(k string) string {
	return s.prefix + ":" + k
}
