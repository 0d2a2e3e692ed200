package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/aegis/internal/metrics"
)

// Scoped is the defensive key/value adapter handed to resilience
// components. Every access is namespaced under the scope name and every
// backend failure — error or panic — is swallowed and converted into a
// "not found" / "not stored" result. The backend is documented to fail
// under common real-world conditions (quota limits, restricted
// contexts), so propagating its errors would crash callers that are
// themselves in the middle of handling a failure.
type Scoped struct {
	scope   string
	backend Backend
	ttl     time.Duration
	log     *slog.Logger
}

// NewScoped creates a scoped adapter over a backend. A nil backend
// yields an adapter whose reads miss and whose writes are dropped.
func NewScoped(scope string, backend Backend, ttl time.Duration, log *slog.Logger) *Scoped {
	if log == nil {
		log = slog.Default()
	}
	return &Scoped{scope: scope, backend: backend, ttl: ttl, log: log}
}

// Scope returns the adapter's namespace.
func (s *Scoped) Scope() string {
	return s.scope
}

func (s *Scoped) key(key string) string {
	return fmt.Sprintf("aegis:%s:%s", s.scope, key)
}

// TryGet reads a value. Returns ("", false) on any backend failure.
func (s *Scoped) TryGet(ctx context.Context, key string) (value string, ok bool) {
	if s.backend == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.StorageFallbacks.WithLabelValues(s.scope, "get").Inc()
			s.log.Debug("storage get panicked", "scope", s.scope, "key", key, "panic", r)
			value, ok = "", false
		}
	}()

	v, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		if err != ErrNotFound {
			metrics.StorageFallbacks.WithLabelValues(s.scope, "get").Inc()
			s.log.Debug("storage get failed", "scope", s.scope, "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

// TrySet writes a value. Returns false on any backend failure.
func (s *Scoped) TrySet(ctx context.Context, key, value string) (ok bool) {
	if s.backend == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.StorageFallbacks.WithLabelValues(s.scope, "set").Inc()
			s.log.Debug("storage set panicked", "scope", s.scope, "key", key, "panic", r)
			ok = false
		}
	}()

	if err := s.backend.Set(ctx, s.key(key), value, s.ttl); err != nil {
		metrics.StorageFallbacks.WithLabelValues(s.scope, "set").Inc()
		s.log.Debug("storage set failed", "scope", s.scope, "key", key, "error", err)
		return false
	}
	return true
}

// TryDelete removes a value, best effort.
func (s *Scoped) TryDelete(ctx context.Context, key string) (ok bool) {
	if s.backend == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.StorageFallbacks.WithLabelValues(s.scope, "delete").Inc()
			ok = false
		}
	}()

	if err := s.backend.Delete(ctx, s.key(key)); err != nil {
		metrics.StorageFallbacks.WithLabelValues(s.scope, "delete").Inc()
		return false
	}
	return true
}
