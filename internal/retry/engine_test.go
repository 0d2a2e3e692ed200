package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func fastEngine(policies ...Policy) *Engine {
	e := NewEngine(nil, policies...)
	e.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return e
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	e := fastEngine(Policy{
		Name:        "ai-call",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
	})

	calls := 0
	err := e.Execute(context.Background(), "ai-call", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned %v, want success", err)
	}
	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}

	// Scenario: first operation fails twice then succeeds -> average is
	// seeded with the attempt count, not derived from a zero total.
	s := e.Stats("ai-call")
	if s.Successful != 1 || s.Failed != 0 {
		t.Errorf("stats = %+v, want 1 successful / 0 failed", s)
	}
	if s.AverageAttempts != 3 {
		t.Errorf("AverageAttempts = %v, want 3", s.AverageAttempts)
	}
}

func TestExecuteNonRetryablePropagatesImmediately(t *testing.T) {
	e := fastEngine(Policy{Name: "p", MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	authErr := errors.New("401 unauthorized")
	err := e.Execute(context.Background(), "p", func(context.Context) error {
		calls++
		return authErr
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("Execute returned %v, want the original fault", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable fault spent %d attempts, want 1", calls)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("non-retryable fault reported as exhaustion")
	}
}

func TestExecuteExhaustion(t *testing.T) {
	e := fastEngine(Policy{Name: "p", MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2})

	boom := errors.New("connection refused")
	calls := 0
	err := e.Execute(context.Background(), "p", func(context.Context) error {
		calls++
		return boom
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Execute returned %T, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Error("exhaustion does not wrap the last failure")
	}
	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}
}

func TestExecuteCancellationBetweenAttempts(t *testing.T) {
	e := NewEngine(nil, Policy{Name: "p", MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time) // never fires; ctx.Done wins
	}

	err := e.Execute(ctx, "p", func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute returned %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("operation ran %d times after cancel, want 1", calls)
	}
}

func TestAverageIsAlwaysFinite(t *testing.T) {
	e := fastEngine(Policy{Name: "p", MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2})

	check := func() {
		s := e.Stats("p")
		if math.IsNaN(s.AverageAttempts) || math.IsInf(s.AverageAttempts, 0) || s.AverageAttempts < 0 {
			t.Fatalf("AverageAttempts = %v, want finite non-negative", s.AverageAttempts)
		}
	}

	check() // empty history

	outcomes := []error{nil, errors.New("timeout"), nil, errors.New("timeout"), nil}
	for _, out := range outcomes {
		_ = e.Execute(context.Background(), "p", func(context.Context) error { return out })
		check()
	}

	s := e.Stats("p")
	if s.Successful != 3 || s.Failed != 2 {
		t.Errorf("stats = %+v, want 3 successful / 2 failed", s)
	}
}

func TestDelayShape(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond}, // capped
		{10, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterStaysBounded(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.Delay(1)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-25%% band", d)
		}
	}
}

func TestDoReturnsValue(t *testing.T) {
	e := fastEngine(Policy{Name: "p", MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2})

	calls := 0
	got, err := Do(context.Background(), e, "p", func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("connection reset")
		}
		return "payload", nil
	})
	if err != nil || got != "payload" {
		t.Fatalf("Do = (%q, %v), want (payload, nil)", got, err)
	}
}

func TestUnknownPolicyFallsBackToDefault(t *testing.T) {
	e := fastEngine()
	if p := e.Lookup("nope"); p.Name != DefaultPolicy.Name {
		t.Errorf("Lookup(nope) = %q, want default policy", p.Name)
	}
}

func TestCustomRetryablePredicate(t *testing.T) {
	special := errors.New("special")
	e := fastEngine(Policy{
		Name:        "p",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		Retryable:   func(err error) bool { return errors.Is(err, special) },
	})

	calls := 0
	_ = e.Execute(context.Background(), "p", func(context.Context) error {
		calls++
		return special
	})
	if calls != 3 {
		t.Errorf("predicate-retryable fault ran %d times, want 3", calls)
	}

	calls = 0
	_ = e.Execute(context.Background(), "p", func(context.Context) error {
		calls++
		return errors.New("timeout") // retryable by classification, not by predicate
	})
	if calls != 1 {
		t.Errorf("predicate-non-retryable fault ran %d times, want 1", calls)
	}
}
