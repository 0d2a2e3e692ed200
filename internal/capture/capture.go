// Package capture is the process-wide hook for faults that escape
// every boundary: panics in spawned goroutines and errors nothing else
// handled. Captured faults go through the classifier into the same
// observer sink the boundaries use.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aegis/internal/classify"
	"github.com/vietddude/aegis/internal/metrics"
	"github.com/vietddude/aegis/internal/report"
)

// Hook routes escaped faults into the reporting pipeline.
type Hook struct {
	sink report.Sink
	log  *slog.Logger
	now  func() time.Time
}

var (
	mu        sync.Mutex
	installed *Hook
)

// Install registers the process-wide hook. Installing twice is a
// no-op: the first hook wins and is returned.
func Install(sink report.Sink, log *slog.Logger) *Hook {
	mu.Lock()
	defer mu.Unlock()
	if installed != nil {
		return installed
	}
	if log == nil {
		log = slog.Default()
	}
	installed = &Hook{sink: sink, log: log, now: time.Now}
	return installed
}

// Installed returns the process-wide hook, or nil before Install.
func Installed() *Hook {
	mu.Lock()
	defer mu.Unlock()
	return installed
}

// reset exists for tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	installed = nil
}

// Capture records a fault that escaped all boundaries. It never
// panics, whatever shape the fault takes.
func (h *Hook) Capture(ctx context.Context, fault any) {
	defer func() {
		if r := recover(); r != nil {
			// Last line of defense: swallow. A capture path that
			// itself fails must not take the process down.
			h.log.Error("global capture hook failed", "panic", fmt.Sprint(r))
		}
	}()

	err := toError(fault)
	c := classify.Classify(err)
	metrics.Faults.WithLabelValues(string(c.Kind), c.Severity.String(), "global").Inc()

	h.log.Error("unhandled fault captured",
		"kind", string(c.Kind), "severity", c.Severity.String(), "error", err)

	if h.sink == nil {
		return
	}
	h.sink.Submit(ctx, report.Report{
		CorrelationID:  uuid.New().String(),
		Classification: c,
		Message:        err.Error(),
		Source:         "global",
		Timestamp:      h.now(),
	})
}

// Recover is meant for deferring at the top of goroutines:
//
//	defer hook.Recover(ctx)
//
// It captures and contains a panic instead of crashing the process.
func (h *Hook) Recover(ctx context.Context) {
	if r := recover(); r != nil {
		h.Capture(ctx, r)
	}
}

// Go runs fn in a goroutine whose panics and errors are captured by
// the hook instead of escaping.
func (h *Hook) Go(ctx context.Context, fn func(context.Context) error) {
	go func() {
		defer h.Recover(ctx)
		if err := fn(ctx); err != nil {
			h.Capture(ctx, err)
		}
	}()
}

func toError(fault any) error {
	switch v := fault.(type) {
	case nil:
		return fmt.Errorf("unknown fault")
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("%v", v)
	}
}
