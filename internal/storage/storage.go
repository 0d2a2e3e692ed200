// Package storage provides the scoped key/value adapter and queue
// persistence used by the resilience layer. The underlying store is
// unreliable: it may be unreachable, quota-limited, or disabled in
// restricted environments, so every caller goes through a defensive
// adapter instead of touching a backend directly.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by backends when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a fallible key/value store. Implementations may fail or
// panic; callers are expected to go through Scoped.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// QueueStore persists ordered action records for later replay.
// Records are returned in enqueue order.
type QueueStore interface {
	Add(ctx context.Context, id string, enqueuedAt time.Time, data string) error
	IDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (string, error)
	Update(ctx context.Context, id string, data string) error
	Remove(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}
