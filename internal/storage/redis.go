package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// RedisBackend implements Backend on top of Redis.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
// The initial ping is retried with fibonacci backoff so a slow-starting
// Redis container does not fail the whole process.
func NewRedisBackend(ctx context.Context, cfg Config) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// Get retrieves a value, ErrNotFound when missing.
func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return val, nil
}

// Set stores a value with an optional TTL (0 = no expiry).
func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// RedisQueueStore implements QueueStore using a sorted set scored by
// enqueue time plus per-record keys, so records replay in FIFO order
// and expire on their own if nothing drains them.
type RedisQueueStore struct {
	rdb  *redis.Client
	name string
	ttl  time.Duration
}

// NewRedisQueueStore creates a queue store under the given namespace.
func NewRedisQueueStore(backend *RedisBackend, name string, ttl time.Duration) *RedisQueueStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueueStore{rdb: backend.rdb, name: name, ttl: ttl}
}

func (s *RedisQueueStore) queueKey() string {
	return fmt.Sprintf("aegis:queue:%s", s.name)
}

func (s *RedisQueueStore) recordKey(id string) string {
	return fmt.Sprintf("aegis:queue:%s:record:%s", s.name, id)
}

// Add persists a record and indexes it by enqueue time.
func (s *RedisQueueStore) Add(ctx context.Context, id string, enqueuedAt time.Time, data string) error {
	if err := s.rdb.Set(ctx, s.recordKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	err := s.rdb.ZAdd(ctx, s.queueKey(), redis.Z{
		Score:  float64(enqueuedAt.UnixNano()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}
	return nil
}

// IDs returns record IDs in FIFO order.
func (s *RedisQueueStore) IDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, s.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	return ids, nil
}

// Get retrieves a record's payload. An ID whose record expired is
// pruned from the index and reported as missing.
func (s *RedisQueueStore) Get(ctx context.Context, id string) (string, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Result()
	if err == redis.Nil {
		s.rdb.ZRem(ctx, s.queueKey(), id)
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get record: %w", err)
	}
	return data, nil
}

// Update rewrites a record's payload, refreshing its TTL.
func (s *RedisQueueStore) Update(ctx context.Context, id string, data string) error {
	if err := s.rdb.Set(ctx, s.recordKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Remove deletes a record and its index entry.
func (s *RedisQueueStore) Remove(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, s.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := s.rdb.Del(ctx, s.recordKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Len returns the number of queued records.
func (s *RedisQueueStore) Len(ctx context.Context) (int, error) {
	count, err := s.rdb.ZCard(ctx, s.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
