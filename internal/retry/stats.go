package retry

import "sync"

// Statistics tracks completed operations for one policy. An operation
// counts once when it concludes, successfully or by exhaustion.
type Statistics struct {
	Successful      int     `json:"successful_attempts"`
	Failed          int     `json:"failed_attempts"`
	AverageAttempts float64 `json:"average_attempts"`
}

type statsTracker struct {
	mu    sync.Mutex
	stats map[string]*Statistics
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: make(map[string]*Statistics)}
}

// record folds one concluded operation into the rolling mean. The
// first operation seeds the average directly with its attempt count:
// deriving it from a zero total would divide by zero.
func (t *statsTracker) record(policy string, attempts int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[policy]
	if !ok {
		s = &Statistics{}
		t.stats[policy] = s
	}

	total := s.Successful + s.Failed
	if total == 0 {
		s.AverageAttempts = float64(attempts)
	} else {
		s.AverageAttempts = (s.AverageAttempts*float64(total) + float64(attempts)) / float64(total+1)
	}

	if success {
		s.Successful++
	} else {
		s.Failed++
	}
}

func (t *statsTracker) get(policy string) Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stats[policy]; ok {
		return *s
	}
	return Statistics{}
}

func (t *statsTracker) all() map[string]Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Statistics, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}
