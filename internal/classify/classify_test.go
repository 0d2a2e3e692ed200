package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		kind      Kind
		retryable bool
	}{
		{errors.New("429 Too Many Requests"), KindProcessing, true},
		{errors.New("project rate limit exceeded"), KindProcessing, true},
		{errors.New("401 Unauthorized"), KindAuth, false},
		{errors.New("invalid API key"), KindAuth, false},
		{errors.New("connection reset by peer"), KindNetwork, true},
		{errors.New("dial tcp: no such host"), KindNetwork, true},
		{errors.New("request timed out"), KindNetwork, true},
		{errors.New("502 Bad Gateway"), KindNetwork, true},
		{errors.New("validation failed: missing field"), KindValidation, false},
		{errors.New("insufficient funds for effect purchase"), KindBusiness, false},
		{errors.New("out of memory"), KindSystem, false},
		{errors.New("something nobody has seen before"), KindSystem, false},
		{context.DeadlineExceeded, KindNetwork, true},
		{context.Canceled, KindSystem, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindNetwork, true},
	}

	for _, tt := range tests {
		got := Classify(tt.err)
		if got.Kind != tt.kind || got.Retryable != tt.retryable {
			t.Errorf("Classify(%q) = {%s retryable=%v}, want {%s retryable=%v}",
				tt.err, got.Kind, got.Retryable, tt.kind, tt.retryable)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := errors.New("429 quota exceeded while connecting")
	first := Classify(err)
	for i := 0; i < 100; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestClassifyNilAndUnknown(t *testing.T) {
	if got := Classify(nil); got.Code != "none" {
		t.Errorf("Classify(nil).Code = %q, want none", got.Code)
	}

	got := Classify(errors.New("zorblat"))
	if got.Kind != KindSystem || got.Severity != SeverityMedium || got.Retryable {
		t.Errorf("unknown fault classified as %+v", got)
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		s    Severity
		want string
	}{
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
		{SeverityCritical, "critical"},
		{Severity(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
