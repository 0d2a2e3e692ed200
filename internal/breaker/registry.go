package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aegis/internal/queue"
	"github.com/vietddude/aegis/internal/report"
	"github.com/vietddude/aegis/internal/storage"
)

// Registry owns one breaker per protected dependency. Breakers are
// created on first lookup and live for the process lifetime; the
// registry is the only place breakers come from, so there is exactly
// one state machine per dependency name.
type Registry struct {
	defaults  Config
	overrides map[string]Config

	backend     storage.Backend
	queueStore  func(name string) storage.QueueStore
	sink        report.Sink
	log         *slog.Logger
	cacheTTL    time.Duration
	maxAttempts int

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOptions configures breaker construction.
type RegistryOptions struct {
	Defaults  Config
	Overrides map[string]Config

	// Backend backs the per-breaker response cache. May be nil.
	Backend storage.Backend

	// QueueStore builds the persistent store for a breaker's deferred
	// queue. May be nil; queues then run memory-only.
	QueueStore func(name string) storage.QueueStore

	// Sink receives discard reports from breaker queues.
	Sink report.Sink

	// QueueMaxAttempts bounds replay attempts before a deferred action
	// is discarded. Zero means the queue default.
	QueueMaxAttempts int

	// CacheTTL bounds how long a cached response may serve fallbacks.
	CacheTTL time.Duration

	Log *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Hour
	}
	return &Registry{
		defaults:    opts.Defaults.normalized(),
		overrides:   opts.Overrides,
		backend:     opts.Backend,
		queueStore:  opts.QueueStore,
		sink:        opts.Sink,
		log:         opts.Log,
		cacheTTL:    opts.CacheTTL,
		maxAttempts: opts.QueueMaxAttempts,
		breakers:    make(map[string]*Breaker),
	}
}

// Lookup returns the breaker for a dependency, creating it on first use.
func (r *Registry) Lookup(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg := r.defaults
	if override, ok := r.overrides[name]; ok {
		cfg = override.normalized()
	}

	scoped := storage.NewScoped("breaker:"+name, r.backend, r.cacheTTL, r.log)

	var q *queue.Queue
	if cfg.Fallback == FallbackQueue {
		var qs storage.QueueStore
		if r.queueStore != nil {
			qs = r.queueStore(name)
		}
		q = queue.New(queue.Config{Name: name, MaxAttempts: r.maxAttempts}, qs, r.sink, r.log)
	}

	b := New(name, cfg, scoped, q, r.log)
	r.breakers[name] = b
	return b
}

// States snapshots every breaker's state, for health reporting.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Queues returns the deferred queues owned by breakers, keyed by
// dependency name. Used by the drain worker.
func (r *Registry) Queues() map[string]*queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*queue.Queue)
	for name, b := range r.breakers {
		if b.queue != nil {
			out[name] = b.queue
		}
	}
	return out
}
