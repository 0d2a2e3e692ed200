package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/aegis/internal/breaker"
	"github.com/vietddude/aegis/internal/retry"
)

func trip(b *breaker.Breaker, n int) {
	boom := errors.New("503 service unavailable")
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
}

func TestCheckHealthy(t *testing.T) {
	r := breaker.NewRegistry(breaker.RegistryOptions{Defaults: breaker.Config{FailureThreshold: 2}})
	r.Lookup("ai-service")

	snap := NewMonitor(r, nil).Check(context.Background())
	if snap.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", snap.Status)
	}
	if snap.Breakers["ai-service"] != "closed" {
		t.Errorf("Breakers = %v", snap.Breakers)
	}
}

func TestCheckDegradedAndCritical(t *testing.T) {
	r := breaker.NewRegistry(breaker.RegistryOptions{
		Defaults: breaker.Config{FailureThreshold: 1, MonitorWindow: time.Minute, RecoveryTimeout: time.Hour},
	})
	a := r.Lookup("ai-service")
	r.Lookup("payments")

	trip(a, 1)
	snap := NewMonitor(r, nil).Check(context.Background())
	if snap.Status != StatusDegraded {
		t.Errorf("Status with one open breaker = %s, want degraded", snap.Status)
	}

	trip(r.Lookup("payments"), 1)
	snap = NewMonitor(r, nil).Check(context.Background())
	if snap.Status != StatusCritical {
		t.Errorf("Status with all breakers open = %s, want critical", snap.Status)
	}
}

func TestCheckIncludesRetryStats(t *testing.T) {
	e := retry.NewEngine(nil, retry.Policy{Name: "p", MaxAttempts: 1})
	_ = e.Execute(context.Background(), "p", func(context.Context) error { return nil })

	snap := NewMonitor(nil, e).Check(context.Background())
	if s, ok := snap.Retry["p"]; !ok || s.Successful != 1 {
		t.Errorf("Retry stats = %v", snap.Retry)
	}
}
