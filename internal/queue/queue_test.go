package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/aegis/internal/report"
	"github.com/vietddude/aegis/internal/storage"
)

// brokenStore fails every operation, like Redis behind a dead socket.
type brokenStore struct{}

func (brokenStore) Add(context.Context, string, time.Time, string) error {
	return errors.New("connection refused")
}
func (brokenStore) IDs(context.Context) ([]string, error)     { return nil, errors.New("connection refused") }
func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}
func (brokenStore) Update(context.Context, string, string) error { return errors.New("connection refused") }
func (brokenStore) Remove(context.Context, string) error         { return errors.New("connection refused") }
func (brokenStore) Len(context.Context) (int, error)             { return 0, errors.New("connection refused") }

// panickyStore panics on every operation.
type panickyStore struct{}

func (panickyStore) Add(context.Context, string, time.Time, string) error { panic("storage disabled") }
func (panickyStore) IDs(context.Context) ([]string, error)                { panic("storage disabled") }
func (panickyStore) Get(context.Context, string) (string, error)          { panic("storage disabled") }
func (panickyStore) Update(context.Context, string, string) error         { panic("storage disabled") }
func (panickyStore) Remove(context.Context, string) error                 { panic("storage disabled") }
func (panickyStore) Len(context.Context) (int, error)                     { panic("storage disabled") }

type captureSink struct {
	reports []report.Report
}

func (s *captureSink) Submit(_ context.Context, r report.Report) {
	s.reports = append(s.reports, r)
}

func TestEnqueueAndDrainFIFO(t *testing.T) {
	ctx := context.Background()
	q := New(Config{Name: "ai-effects"}, storage.NewMemoryQueueStore(), nil, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	q.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Millisecond)
	}

	var want []string
	for _, name := range []string{"first", "second", "third"} {
		a := q.Enqueue(ctx, json.RawMessage(`{"op":"`+name+`"}`))
		if a == nil || a.ID == "" {
			t.Fatal("Enqueue returned an empty action")
		}
		want = append(want, a.ID)
	}

	if got := q.Depth(ctx); got != 3 {
		t.Fatalf("Depth = %d, want 3", got)
	}

	var got []string
	res := q.Drain(ctx, func(_ context.Context, a *Action) error {
		got = append(got, a.ID)
		return nil
	})

	if res.Processed != 3 || res.Failed != 0 {
		t.Errorf("DrainResult = %+v, want 3 processed", res)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replay order %v, want %v", got, want)
		}
	}
	if q.Depth(ctx) != 0 {
		t.Errorf("Depth = %d after full drain, want 0", q.Depth(ctx))
	}
}

func TestEnqueueDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	q := New(Config{Name: "payments"}, brokenStore{}, nil, nil)

	a := q.Enqueue(ctx, json.RawMessage(`{"id":"a"}`))
	if a == nil || a.ID == "" {
		t.Fatal("Enqueue failed against a broken store")
	}

	// The action must still be replayable from memory.
	replayed := 0
	res := q.Drain(ctx, func(context.Context, *Action) error {
		replayed++
		return nil
	})
	if replayed != 1 || res.Processed != 1 {
		t.Errorf("drained %d actions, want 1 (result %+v)", replayed, res)
	}
}

func TestEnqueueSurvivesPanickingStore(t *testing.T) {
	ctx := context.Background()
	q := New(Config{Name: "payments"}, panickyStore{}, nil, nil)

	// Must not panic.
	a := q.Enqueue(ctx, json.RawMessage(`{"id":"a"}`))
	if a == nil {
		t.Fatal("Enqueue returned nil against a panicking store")
	}
	_ = q.Drain(ctx, func(context.Context, *Action) error { return nil })
}

func TestFailedReplayStaysQueued(t *testing.T) {
	ctx := context.Background()
	q := New(Config{Name: "q", MaxAttempts: 5}, storage.NewMemoryQueueStore(), nil, nil)

	q.Enqueue(ctx, json.RawMessage(`{}`))

	res := q.Drain(ctx, func(context.Context, *Action) error {
		return errors.New("still down")
	})
	if res.Failed != 1 || res.Processed != 0 {
		t.Fatalf("DrainResult = %+v, want 1 failed", res)
	}
	if q.Depth(ctx) != 1 {
		t.Errorf("Depth = %d after failed replay, want 1", q.Depth(ctx))
	}

	// Attempts carry across drains.
	var attempts int
	_ = q.Drain(ctx, func(_ context.Context, a *Action) error {
		attempts = a.Attempts
		return nil
	})
	if attempts != 1 {
		t.Errorf("Attempts = %d on second drain, want 1", attempts)
	}
}

func TestDiscardAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	q := New(Config{Name: "q", MaxAttempts: 2}, storage.NewMemoryQueueStore(), sink, nil)

	q.Enqueue(ctx, json.RawMessage(`{}`))

	down := errors.New("still down")
	res1 := q.Drain(ctx, func(context.Context, *Action) error { return down })
	res2 := q.Drain(ctx, func(context.Context, *Action) error { return down })

	if res1.Failed != 1 {
		t.Errorf("first drain %+v, want 1 failed", res1)
	}
	if res2.Discarded != 1 {
		t.Errorf("second drain %+v, want 1 discarded", res2)
	}
	if q.Depth(ctx) != 0 {
		t.Errorf("Depth = %d after discard, want 0", q.Depth(ctx))
	}
	if len(sink.reports) != 1 {
		t.Fatalf("discard produced %d reports, want 1", len(sink.reports))
	}
	if sink.reports[0].Source != "queue:q" {
		t.Errorf("report source = %q, want queue:q", sink.reports[0].Source)
	}
}

func TestNilStoreIsMemoryOnly(t *testing.T) {
	ctx := context.Background()
	q := New(Config{Name: "q"}, nil, nil, nil)

	q.Enqueue(ctx, json.RawMessage(`{"n":1}`))
	if q.Depth(ctx) != 1 {
		t.Fatalf("Depth = %d, want 1", q.Depth(ctx))
	}
}
