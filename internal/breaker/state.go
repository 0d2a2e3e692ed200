package breaker

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Fallback selects what an open breaker does with a short-circuited call.
type Fallback string

const (
	// FallbackCache returns the last successfully cached response.
	FallbackCache Fallback = "cache"
	// FallbackQueue parks the call in the deferred action queue.
	FallbackQueue Fallback = "queue"
	// FallbackReject fails the call immediately.
	FallbackReject Fallback = "reject"
)
