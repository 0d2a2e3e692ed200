// Package retry executes operations under named retry policies with
// exponential backoff, classification-driven retryability, and rolling
// per-policy statistics.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes how one class of operation is retried.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Jitter spreads delays by up to +/-25% to avoid synchronized retry
	// storms across many clients. Off by default to keep backoff
	// deterministic.
	Jitter bool

	// Retryable overrides classification-based retryability when set.
	Retryable func(error) bool
}

// DefaultPolicy is used when an unknown policy name is requested:
// 3 attempts, 100ms/200ms delays.
var DefaultPolicy = Policy{
	Name:        "default",
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Multiplier:  2.0,
}

// Delay returns the backoff before the given retry. attempt is
// 1-indexed: Delay(1) is the pause after the first failure.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d = d * (0.75 + rand.Float64()*0.5)
	}
	return time.Duration(d)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	return p
}
