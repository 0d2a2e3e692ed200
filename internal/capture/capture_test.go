package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/aegis/internal/classify"
	"github.com/vietddude/aegis/internal/report"
)

type captureSink struct {
	mu      sync.Mutex
	reports []report.Report
}

func (s *captureSink) Submit(_ context.Context, r report.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *captureSink) first() report.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[0]
}

func TestInstallIsIdempotent(t *testing.T) {
	reset()
	defer reset()

	first := Install(&captureSink{}, nil)
	second := Install(&captureSink{}, nil)
	if first != second {
		t.Fatal("second Install replaced the hook")
	}
	if Installed() != first {
		t.Fatal("Installed() does not return the hook")
	}
}

func TestCaptureClassifiesAndReports(t *testing.T) {
	reset()
	defer reset()

	sink := &captureSink{}
	h := Install(sink, nil)

	h.Capture(context.Background(), errors.New("connection refused"))

	if sink.count() != 1 {
		t.Fatalf("sink received %d reports, want 1", sink.count())
	}
	r := sink.first()
	if r.Classification.Kind != classify.KindNetwork {
		t.Errorf("Kind = %s, want network", r.Classification.Kind)
	}
	if r.Source != "global" {
		t.Errorf("Source = %q, want global", r.Source)
	}
	if r.CorrelationID == "" {
		t.Error("no correlation ID assigned")
	}
}

func TestCaptureNeverPanics(t *testing.T) {
	reset()
	defer reset()
	h := Install(nil, nil)

	// Arbitrary fault shapes, including ones that aren't errors at all.
	faults := []any{
		nil,
		"plain string",
		42,
		struct{ X int }{X: 1},
		errors.New("regular error"),
		[]byte("bytes"),
	}
	for _, f := range faults {
		h.Capture(context.Background(), f) // must not panic
	}
}

func TestCaptureSurvivesPanickingSink(t *testing.T) {
	reset()
	defer reset()

	h := Install(panicSink{}, nil)
	h.Capture(context.Background(), errors.New("boom")) // must not panic
}

type panicSink struct{}

func (panicSink) Submit(context.Context, report.Report) { panic("sink exploded") }

func TestGoCapturesPanicsAndErrors(t *testing.T) {
	reset()
	defer reset()

	sink := &captureSink{}
	h := Install(sink, nil)

	h.Go(context.Background(), func(context.Context) error {
		panic("goroutine exploded")
	})
	h.Go(context.Background(), func(context.Context) error {
		return errors.New("async failure")
	})

	deadline := time.After(2 * time.Second)
	for sink.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("captured %d faults, want 2", sink.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
