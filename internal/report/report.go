// Package report defines the fault report record and the observer
// sinks it is delivered to. Sinks are best-effort: a sink that cannot
// accept a report logs and moves on, it never fails the reporter.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/aegis/internal/classify"
)

// Report is one terminal fault record.
type Report struct {
	CorrelationID  string                  `json:"correlation_id"`
	Classification classify.Classification `json:"classification"`
	Message        string                  `json:"message"`
	Source         string                  `json:"source"` // boundary name or "global"
	Context        map[string]string       `json:"context,omitempty"`
	Timestamp      time.Time               `json:"timestamp"`
}

// Sink receives fault reports. Submit must not block for long and must
// not panic; delivery failures are the sink's problem, not the caller's.
type Sink interface {
	Submit(ctx context.Context, r Report)
}

// LogSink writes reports to structured logs.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Submit logs the report at a level matching its severity.
func (s *LogSink) Submit(ctx context.Context, r Report) {
	attrs := []any{
		"correlation_id", r.CorrelationID,
		"kind", string(r.Classification.Kind),
		"severity", r.Classification.Severity.String(),
		"code", r.Classification.Code,
		"source", r.Source,
		"message", r.Message,
	}
	switch {
	case r.Classification.Severity >= classify.SeverityCritical:
		s.log.Error("fault captured", attrs...)
	case r.Classification.Severity >= classify.SeverityHigh:
		s.log.Warn("fault captured", attrs...)
	default:
		s.log.Info("fault captured", attrs...)
	}
}

// MultiSink fans a report out to several sinks. A panicking sink is
// contained so the remaining sinks still receive the report.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// Submit delivers the report to every sink.
func (m *MultiSink) Submit(ctx context.Context, r Report) {
	for _, s := range m.sinks {
		func() {
			defer func() { _ = recover() }()
			s.Submit(ctx, r)
		}()
	}
}
