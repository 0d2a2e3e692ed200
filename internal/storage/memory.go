package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend used in tests and as the
// degraded mode when Redis is not configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return "", ErrNotFound
	}
	return e.value, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// MemoryQueueStore is an in-process QueueStore. It backs the deferred
// queue's degraded mode for the current process lifetime.
type MemoryQueueStore struct {
	mu      sync.Mutex
	records map[string]string
	order   map[string]int64 // id -> enqueue time (unix nanos)
}

// NewMemoryQueueStore creates an empty in-memory queue store.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		records: make(map[string]string),
		order:   make(map[string]int64),
	}
}

func (s *MemoryQueueStore) Add(ctx context.Context, id string, enqueuedAt time.Time, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = data
	s.order[id] = enqueuedAt.UnixNano()
	return nil
}

func (s *MemoryQueueStore) IDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.order))
	for id := range s.order {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.order[ids[i]] == s.order[ids[j]] {
			return ids[i] < ids[j]
		}
		return s.order[ids[i]] < s.order[ids[j]]
	})
	return ids, nil
}

func (s *MemoryQueueStore) Get(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.records[id]
	if !ok {
		return "", ErrNotFound
	}
	return data, nil
}

func (s *MemoryQueueStore) Update(ctx context.Context, id string, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	s.records[id] = data
	return nil
}

func (s *MemoryQueueStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	delete(s.order, id)
	return nil
}

func (s *MemoryQueueStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), nil
}
