// Package health provides system health monitoring and status
// reporting for the resilience layer.
package health

import (
	"context"

	"github.com/vietddude/aegis/internal/breaker"
	"github.com/vietddude/aegis/internal/retry"
)

// SystemStatus represents the overall health state of the system.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Snapshot is a point-in-time view of the resilience layer.
type Snapshot struct {
	Status   SystemStatus                `json:"status"`
	Breakers map[string]string           `json:"breakers"`
	Queues   map[string]int              `json:"queues"`
	Retry    map[string]retry.Statistics `json:"retry"`
}

// Monitor derives health from breaker and retry state.
type Monitor struct {
	registry *breaker.Registry
	engine   *retry.Engine
}

// NewMonitor creates a monitor. Either argument may be nil.
func NewMonitor(registry *breaker.Registry, engine *retry.Engine) *Monitor {
	return &Monitor{registry: registry, engine: engine}
}

// Check builds a snapshot. Any open breaker degrades the system; all
// breakers open is critical.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:   StatusHealthy,
		Breakers: make(map[string]string),
		Queues:   make(map[string]int),
	}

	if m.registry != nil {
		open := 0
		states := m.registry.States()
		for name, st := range states {
			snap.Breakers[name] = st.String()
			if st == breaker.StateOpen {
				open++
			}
		}
		if open > 0 {
			snap.Status = StatusDegraded
			if open == len(states) {
				snap.Status = StatusCritical
			}
		}

		for name, q := range m.registry.Queues() {
			snap.Queues[name] = q.Depth(ctx)
		}
	}

	if m.engine != nil {
		snap.Retry = m.engine.AllStats()
	}

	return snap
}
