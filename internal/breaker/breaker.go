// Package breaker implements per-dependency circuit breakers. A
// breaker wraps calls to one unreliable dependency, trips after enough
// failures inside a sliding monitoring window, and serves short-
// circuited calls from a configured fallback (cached response, deferred
// queue, or outright rejection) until a recovery trial succeeds.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aegis/internal/metrics"
	"github.com/vietddude/aegis/internal/queue"
	"github.com/vietddude/aegis/internal/storage"
)

const cachedResponseKey = "last_response"

// ErrNoCachedResponse is returned by the cache fallback when no prior
// successful response exists.
var ErrNoCachedResponse = errors.New("breaker: no cached response available")

// OpenError reports a short-circuited call under the reject fallback.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker %s is open, retry in %s", e.Name, e.RetryIn)
}

// QueuedError reports that a short-circuited call was parked in the
// deferred action queue. It is the "queued" result, not a hard failure.
type QueuedError struct {
	Name   string
	Action *queue.Action
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("breaker %s is open, call queued as %s", e.Name, e.Action.ID)
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	MonitorWindow    time.Duration `yaml:"monitor_window"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	Fallback         Fallback      `yaml:"fallback"`
}

// DefaultConfig trips after 5 failures in 60s, probes after 30s.
var DefaultConfig = Config{
	FailureThreshold: 5,
	MonitorWindow:    60 * time.Second,
	RecoveryTimeout:  30 * time.Second,
	HalfOpenMaxCalls: 1,
	Fallback:         FallbackReject,
}

func (c Config) normalized() Config {
	d := DefaultConfig
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.MonitorWindow <= 0 {
		c.MonitorWindow = d.MonitorWindow
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	if c.Fallback == "" {
		c.Fallback = d.Fallback
	}
	return c
}

// Breaker guards one dependency. Instances live for the process
// lifetime; create them through a Registry.
type Breaker struct {
	name  string
	cfg   Config
	store *storage.Scoped
	queue *queue.Queue
	log   *slog.Logger

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	halfOpenCalls int

	now func() time.Time
}

// New creates a breaker. store may be nil (cache fallback will always
// miss); q may be nil (queue fallback degrades to reject).
func New(name string, cfg Config, store *storage.Scoped, q *queue.Queue, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg.normalized(),
		store: store,
		queue: q,
		log:   log,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the protected dependency's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any due Open->HalfOpen
// transition first so the answer reflects what the next call would see.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// FailureCount returns the number of failures inside the monitoring window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.failures)
}

type admission int

const (
	admitCall admission = iota
	admitShortCircuit
)

// admit decides whether the next call may invoke the operation. All
// state transitions happen under the lock; the operation itself runs
// outside it.
func (b *Breaker) admit() admission {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		return admitCall
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenCalls = 1
			return admitCall
		}
		return admitShortCircuit
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return admitCall
		}
		return admitShortCircuit
	default:
		return admitShortCircuit
	}
}

// onSuccess records a successful call.
func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.failures = b.failures[:0]
		b.halfOpenCalls = 0
	}
}

// onFailure records a failed call and trips the breaker when the
// window fills.
func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		// Trial failed: back to open, timeout restarts.
		b.transition(StateOpen)
		b.openedAt = now
		b.halfOpenCalls = 0
	case StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = now
		}
	}
}

// prune drops failures older than the monitoring window. Callers hold b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitorWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transition changes state. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metrics.BreakerTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	b.log.Info("breaker state changed", "breaker", b.name, "from", from.String(), "to", to.String())
}

// retryIn returns how long until the next recovery trial.
func (b *Breaker) retryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.cfg.RecoveryTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Execute runs op under the breaker with no queue payload. See DoWith
// for the full contract.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := DoWith(ctx, b, nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op under the breaker. Short-circuited queue fallbacks
// enqueue an empty payload; use DoWith to attach a replayable one.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	return DoWith(ctx, b, nil, op)
}

// DoWith runs op under the breaker. While the breaker is open the
// configured fallback is served instead: cached responses come back as
// a decoded T (ErrNoCachedResponse when none exists), queued calls
// return a *QueuedError carrying the parked action, and reject returns
// an *OpenError. Successful calls cache their response for the cache
// fallback.
func DoWith[T any](ctx context.Context, b *Breaker, payload json.RawMessage, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if b.admit() == admitShortCircuit {
		metrics.BreakerShortCircuits.WithLabelValues(b.name, string(b.cfg.Fallback)).Inc()
		return fallback[T](ctx, b, payload)
	}

	result, err := op(ctx)
	if err != nil {
		b.onFailure()
		return zero, err
	}

	b.onSuccess()
	if b.store != nil {
		if data, mErr := json.Marshal(result); mErr == nil {
			b.store.TrySet(ctx, cachedResponseKey, string(data))
		}
	}
	return result, nil
}

func fallback[T any](ctx context.Context, b *Breaker, payload json.RawMessage) (T, error) {
	var zero T

	switch b.cfg.Fallback {
	case FallbackCache:
		if b.store != nil {
			if data, ok := b.store.TryGet(ctx, cachedResponseKey); ok {
				var cached T
				if err := json.Unmarshal([]byte(data), &cached); err == nil {
					return cached, nil
				}
			}
		}
		return zero, fmt.Errorf("breaker %s: %w", b.name, ErrNoCachedResponse)

	case FallbackQueue:
		if b.queue != nil {
			if payload == nil {
				payload = json.RawMessage(`{}`)
			}
			action := b.queue.Enqueue(ctx, payload)
			return zero, &QueuedError{Name: b.name, Action: action}
		}
		fallthrough

	default:
		return zero, &OpenError{Name: b.name, RetryIn: b.retryIn()}
	}
}
