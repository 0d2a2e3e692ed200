// Package control assembles the resilience layer from configuration
// and manages its lifecycle: storage backends, reporting sinks, the
// breaker registry, the retry engine, the global capture hook, the
// deferred queue drain worker, and the health server.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/aegis/internal/boundary"
	"github.com/vietddude/aegis/internal/breaker"
	"github.com/vietddude/aegis/internal/capture"
	"github.com/vietddude/aegis/internal/core/config"
	"github.com/vietddude/aegis/internal/health"
	"github.com/vietddude/aegis/internal/queue"
	"github.com/vietddude/aegis/internal/report"
	"github.com/vietddude/aegis/internal/retry"
	"github.com/vietddude/aegis/internal/storage"
)

// Replayer replays one deferred action once its dependency recovers.
type Replayer func(context.Context, *queue.Action) error

// Config holds the supervisor's configuration.
type Config struct {
	Port          int
	Debug         bool
	Redis         storage.Config
	Database      report.DBConfig
	MigrationsDir string
	Breakers      config.BreakersConfig
	Policies      []config.PolicyConfig
	Queue         config.QueueConfig
}

// Supervisor owns the resilience layer for the process lifetime.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	redis    *storage.RedisBackend
	pgSink   *report.PostgresSink
	sink     report.Sink
	registry *breaker.Registry
	engine   *retry.Engine
	hook     *capture.Hook
	monitor  *health.Monitor
	server   *health.Server

	mu        sync.Mutex
	replayers map[string]Replayer

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the supervisor. Redis and Postgres are both optional:
// a failed connection degrades the layer (memory-only queues, log-only
// reporting) instead of failing startup — this subsystem exists to
// survive exactly that kind of outage.
func New(ctx context.Context, cfg Config) (*Supervisor, error) {
	log := slog.Default()

	s := &Supervisor{
		cfg:       cfg,
		log:       log,
		replayers: make(map[string]Replayer),
		done:      make(chan struct{}),
	}

	// 1. Reporting sinks
	sinks := []report.Sink{report.NewLogSink(log)}
	if cfg.Database.URL != "" {
		pg, err := report.NewPostgresSink(ctx, cfg.Database, cfg.MigrationsDir, log)
		if err != nil {
			log.Warn("fault report store unavailable, reporting to logs only", "error", err)
		} else {
			s.pgSink = pg
			sinks = append(sinks, pg)
			log.Info("Using PostgreSQL fault report store")
		}
	}
	s.sink = report.NewMultiSink(sinks...)

	// 2. Storage backend
	if cfg.Redis.URL != "" {
		rb, err := storage.NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, queues and response caches run in memory", "error", err)
		} else {
			s.redis = rb
			log.Info("Using Redis storage")
		}
	}

	// 3. Breaker registry
	var backend storage.Backend
	var queueStores func(name string) storage.QueueStore
	if s.redis != nil {
		backend = s.redis
		queueStores = func(name string) storage.QueueStore {
			return storage.NewRedisQueueStore(s.redis, name, cfg.Queue.RecordTTL)
		}
	} else {
		backend = storage.NewMemoryBackend()
	}
	s.registry = breaker.NewRegistry(breaker.RegistryOptions{
		Defaults:         cfg.Breakers.Defaults,
		Overrides:        cfg.Breakers.Dependencies,
		Backend:          backend,
		QueueStore:       queueStores,
		Sink:             s.sink,
		QueueMaxAttempts: cfg.Queue.MaxAttempts,
		Log:              log,
	})

	// 4. Retry engine
	policies := make([]retry.Policy, 0, len(cfg.Policies))
	for _, p := range cfg.Policies {
		policies = append(policies, retry.Policy{
			Name:        p.Name,
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseDelay,
			MaxDelay:    p.MaxDelay,
			Multiplier:  p.Multiplier,
			Jitter:      p.Jitter,
		})
	}
	s.engine = retry.NewEngine(log, policies...)

	// 5. Global capture hook + health server
	s.hook = capture.Install(s.sink, log)
	s.monitor = health.NewMonitor(s.registry, s.engine)
	s.server = health.NewServer(s.monitor, cfg.Port)

	return s, nil
}

// Start launches the health server and the drain worker.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server failed", "error", err)
		}
	}()
	s.log.Info("Health server started", "port", s.cfg.Port)

	go s.drainLoop(runCtx)

	return nil
}

// Stop shuts everything down.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	var firstErr error
	if err := s.server.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("failed to stop health server: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close redis: %w", err)
		}
	}
	if s.pgSink != nil {
		if err := s.pgSink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close report store: %w", err)
		}
	}
	return firstErr
}

// drainLoop periodically replays deferred actions for dependencies
// that have a registered replayer.
func (s *Supervisor) drainLoop(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.Queue.DrainInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

func (s *Supervisor) drainOnce(ctx context.Context) {
	for name, q := range s.registry.Queues() {
		// Only drain while the dependency is reachable again.
		if s.registry.Lookup(name).State() == breaker.StateOpen {
			continue
		}
		replay := s.replayer(name)
		if replay == nil {
			continue
		}
		result := q.Drain(ctx, replay)
		if result.Processed+result.Failed+result.Discarded > 0 {
			s.log.Info("drained deferred actions",
				"dependency", name,
				"processed", result.Processed,
				"failed", result.Failed,
				"discarded", result.Discarded)
		}
	}
}

// OnReplay registers the replayer for one dependency's deferred queue.
func (s *Supervisor) OnReplay(dependency string, replay Replayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayers[dependency] = replay
}

func (s *Supervisor) replayer(dependency string) Replayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayers[dependency]
}

// Breaker returns the circuit breaker guarding a dependency.
func (s *Supervisor) Breaker(dependency string) *breaker.Breaker {
	return s.registry.Lookup(dependency)
}

// Engine returns the retry policy engine.
func (s *Supervisor) Engine() *retry.Engine {
	return s.engine
}

// Hook returns the global capture hook.
func (s *Supervisor) Hook() *capture.Hook {
	return s.hook
}

// Sink returns the combined observer sink.
func (s *Supervisor) Sink() report.Sink {
	return s.sink
}

// NewBoundary creates a fault isolation boundary wired to the
// supervisor's sink and debug mode. The caller owns its lifecycle and
// must Close it on teardown.
func (s *Supervisor) NewBoundary(name string) *boundary.Boundary {
	return boundary.New(boundary.Config{Name: name, Debug: s.cfg.Debug}, s.sink, s.log)
}
