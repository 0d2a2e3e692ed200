// Package classify normalizes raised faults into a stable
// kind/severity/retryability classification used by every other
// resilience component.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the coarse category of a fault.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindProcessing Kind = "processing"
	KindSystem     Kind = "system"
	KindBusiness   Kind = "business"
)

// Severity ranks how urgently a fault needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classification is the normalized view of a fault. Immutable once computed.
type Classification struct {
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Retryable bool     `json:"retryable"`
	Code      string   `json:"code"`
}

// rule maps message substrings to a classification. First match wins.
type rule struct {
	patterns []string
	result   Classification
}

// Ordered: auth before network so "401 unauthorized on connect" lands on auth.
var rules = []rule{
	{
		patterns: []string{"unauthorized", "401", "403", "forbidden", "invalid token", "token expired", "invalid api key"},
		result:   Classification{Kind: KindAuth, Severity: SeverityHigh, Retryable: false, Code: "auth"},
	},
	{
		patterns: []string{"validation", "invalid input", "invalid request", "invalid params", "bad request", "400", "malformed", "schema"},
		result:   Classification{Kind: KindValidation, Severity: SeverityLow, Retryable: false, Code: "validation"},
	},
	{
		patterns: []string{"429", "too many requests", "rate limit", "quota", "overloaded", "capacity"},
		result:   Classification{Kind: KindProcessing, Severity: SeverityMedium, Retryable: true, Code: "throttled"},
	},
	{
		patterns: []string{"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host", "network", "unreachable", "broken pipe", "eof", "502", "503", "504"},
		result:   Classification{Kind: KindNetwork, Severity: SeverityMedium, Retryable: true, Code: "network"},
	},
	{
		patterns: []string{"insufficient funds", "payment", "subscription", "plan limit", "not allowed", "denied by policy"},
		result:   Classification{Kind: KindBusiness, Severity: SeverityMedium, Retryable: false, Code: "business"},
	},
	{
		patterns: []string{"processing failed", "model", "inference", "generation failed", "effect"},
		result:   Classification{Kind: KindProcessing, Severity: SeverityMedium, Retryable: true, Code: "processing"},
	},
	{
		patterns: []string{"out of memory", "disk full", "no space", "panic", "corrupt", "500", "internal server error"},
		result:   Classification{Kind: KindSystem, Severity: SeverityCritical, Retryable: false, Code: "system"},
	},
}

// unknown is the safe default for anything the rules don't recognize.
var unknown = Classification{Kind: KindSystem, Severity: SeverityMedium, Retryable: false, Code: "unknown"}

// Classify maps a fault to its Classification. Pure and total: it never
// panics and never returns an unusable value, so it is safe on hot
// failure paths.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindSystem, Severity: SeverityLow, Retryable: false, Code: "none"}
	}

	// Typed checks first, message patterns second.
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindNetwork, Severity: SeverityMedium, Retryable: true, Code: "deadline"}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindSystem, Severity: SeverityLow, Retryable: false, Code: "canceled"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: KindNetwork, Severity: SeverityMedium, Retryable: true, Code: "network"}
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.result
			}
		}
	}

	return unknown
}
