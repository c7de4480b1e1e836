package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the default key used to store the snapshot in Redis.
	DefaultRedisKey = "llmgate:ratelimits"

	// DefaultRedisTTL bounds how long a stale snapshot survives if every
	// instance stops updating it. Backoff windows are short, so an hour is
	// already generous.
	DefaultRedisTTL = 1 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// Key is the Redis key for the snapshot (defaults to "llmgate:ratelimits").
	Key string

	// TTL is the time-to-live for the stored snapshot.
	TTL time.Duration
}

// RedisStore implements Store using Redis, letting multiple gateway instances
// behind a load balancer share observed backoff state.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}

	slog.Info("redis snapshot store connected", "key", key, "ttl", ttl)

	return &RedisStore{client: client, key: key, ttl: ttl}, nil
}

// Get retrieves the snapshot from Redis.
func (s *RedisStore) Get(ctx context.Context) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // No snapshot yet, not an error
		}
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot from redis: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, nil
	}

	return &snap, nil
}

// Set stores the snapshot in Redis.
func (s *RedisStore) Set(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
