package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aegis/internal/classify"
	"github.com/vietddude/aegis/internal/metrics"
)

// ExhaustedError wraps the last failure after the retry budget is spent.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry policy %s exhausted after %d attempts: %v", e.Policy, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Engine runs operations under named policies and tracks statistics.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]Policy
	stats    *statsTracker
	log      *slog.Logger

	// after is swapped out in tests to skip real backoff waits.
	after func(time.Duration) <-chan time.Time
}

// NewEngine creates an engine with the given policies registered.
func NewEngine(log *slog.Logger, policies ...Policy) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		policies: make(map[string]Policy),
		stats:    newStatsTracker(),
		log:      log,
		after:    time.After,
	}
	for _, p := range policies {
		e.Register(p)
	}
	return e
}

// Register adds or replaces a named policy.
func (e *Engine) Register(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = p.normalized()
}

// Lookup returns the named policy, falling back to DefaultPolicy.
func (e *Engine) Lookup(name string) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[name]; ok {
		return p
	}
	return DefaultPolicy
}

// Stats returns a copy of the statistics for one policy.
func (e *Engine) Stats(policy string) Statistics {
	return e.stats.get(policy)
}

// AllStats returns a copy of every policy's statistics.
func (e *Engine) AllStats() map[string]Statistics {
	return e.stats.all()
}

// Execute runs op under the named policy. Non-retryable faults
// propagate immediately without spending budget on further attempts;
// exhaustion returns an *ExhaustedError wrapping the last failure.
// Cancellation is checked between attempts only: an in-flight op is
// never interrupted by the engine.
func (e *Engine) Execute(ctx context.Context, policyName string, op func(context.Context) error) error {
	p := e.Lookup(policyName)

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(p.Name, "success").Inc()
			metrics.RetryOperations.WithLabelValues(p.Name, "success").Inc()
			e.stats.record(p.Name, attempt, true)
			return nil
		}

		lastErr = err
		metrics.RetryAttempts.WithLabelValues(p.Name, "failure").Inc()

		if !e.retryable(p, err) {
			metrics.RetryOperations.WithLabelValues(p.Name, "non_retryable").Inc()
			e.stats.record(p.Name, attempt, false)
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		e.log.Debug("retrying operation",
			"policy", p.Name, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			e.stats.record(p.Name, attempt, false)
			metrics.RetryOperations.WithLabelValues(p.Name, "canceled").Inc()
			return ctx.Err()
		case <-e.after(delay):
		}
	}

	metrics.RetryOperations.WithLabelValues(p.Name, "exhausted").Inc()
	e.stats.record(p.Name, p.MaxAttempts, false)
	return &ExhaustedError{Policy: p.Name, Attempts: p.MaxAttempts, Last: lastErr}
}

func (e *Engine) retryable(p Policy, err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return classify.Classify(err).Retryable
}

// Do runs op under the named policy and returns its value. The zero
// value of T is returned alongside any error.
func Do[T any](ctx context.Context, e *Engine, policyName string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, policyName, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
