// Package boundary implements fault isolation boundaries: wrappers
// that contain failures escaping a unit of work, expose recovery
// actions instead of re-throwing, and notify registered listeners of
// state changes. A boundary never lets a fault propagate past itself.
package boundary

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

// Phase is the boundary's lifecycle state.
type Phase int

const (
	PhaseHealthy Phase = iota
	PhaseFaulted
	PhaseRecovering
)

func (p Phase) String() string {
	switch p {
	case PhaseHealthy:
		return "healthy"
	case PhaseFaulted:
		return "faulted"
	case PhaseRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// RecoveryAction is one user-facing recovery option. Actions are built
// fresh per fault and never persisted.
type RecoveryAction struct {
	ID      string
	Label   string
	Primary bool
	Run     func(context.Context) error
}

// State is what listeners and fallback renderers receive.
type State struct {
	Faulted        bool
	Phase          Phase
	Classification classify.Classification
	Message        string // redacted, safe to display
	CorrelationID  string
	Actions        []RecoveryAction
}

// Listener observes boundary state changes.
type Listener func(State)

// Config holds boundary settings.
type Config struct {
	Name string

	// Debug exposes the redacted fault text instead of a generic
	// message. Resolved once at startup from configuration, never
	// sniffed from the environment at fault time.
	Debug bool
}

// Boundary contains faults for one guarded unit of work.
type Boundary struct {
	name  string
	debug bool
	sink  report.Sink
	log   *slog.Logger

	mu        sync.Mutex
	phase     Phase
	listeners map[int]Listener
	nextID    int
	notifying bool
	closed    bool
	work      func(context.Context) error
	last      State
	timers    map[int]*time.Timer
	nextTimer int

	now func() time.Time
}

// New creates a healthy boundary. sink may be nil.
func New(cfg Config, sink report.Sink, log *slog.Logger) *Boundary {
	if log == nil {
		log = slog.Default()
	}
	return &Boundary{
		name:      cfg.Name,
		debug:     cfg.Debug,
		sink:      sink,
		log:       log,
		phase:     PhaseHealthy,
		listeners: make(map[int]Listener),
		timers:    make(map[int]*time.Timer),
		now:       time.Now,
	}
}

// Name returns the boundary's name.
func (b *Boundary) Name() string {
	return b.name
}

// Phase returns the current lifecycle phase.
func (b *Boundary) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// ListenerCount reports registered listeners; used by health checks to
// spot leaks across mount/unmount cycles.
func (b *Boundary) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// OnStateChange registers a listener and returns its unsubscribe
// function. Unsubscribing twice is harmless.
func (b *Boundary) OnStateChange(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Guard runs work inside the boundary. Escaping errors and panics are
// classified, redacted, reported, and converted into a Faulted state
// with recovery actions; they are never re-thrown. The returned State
// is the fallback to render.
func (b *Boundary) Guard(ctx context.Context, work func(context.Context) error) State {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return State{Phase: PhaseHealthy}
	}
	b.work = work
	b.mu.Unlock()

	err := b.run(ctx, work)
	if err == nil {
		return b.recovered()
	}
	return b.fault(ctx, err)
}

// Go runs work asynchronously inside the boundary. Faults escaping the
// goroutine land in the same classification and notification path as
// synchronous ones.
func (b *Boundary) Go(ctx context.Context, work func(context.Context) error) {
	go func() {
		if err := b.run(ctx, work); err != nil {
			b.fault(ctx, err)
		} else {
			b.recovered()
		}
	}()
}

// run executes work, converting panics into errors.
func (b *Boundary) run(ctx context.Context, work func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx)
}

// Retry re-runs the guarded work. Exposed as the "retry" recovery
// action; also reachable directly for programmatic recovery.
func (b *Boundary) Retry(ctx context.Context) error {
	b.mu.Lock()
	work := b.work
	if work == nil || b.closed {
		b.mu.Unlock()
		return nil
	}
	b.phase = PhaseRecovering
	b.mu.Unlock()

	err := b.run(ctx, work)
	if err == nil {
		b.recovered()
		return nil
	}
	b.fault(ctx, err)
	return err
}

// ScheduleRetry arranges a retry after the given delay. Pending
// schedules are cancelled by Close.
func (b *Boundary) ScheduleRetry(ctx context.Context, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	id := b.nextTimer
	b.nextTimer++
	b.timers[id] = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, id)
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			_ = b.Retry(ctx)
		}
	})
}

// Close tears the boundary down: the full listener list is cleared and
// pending scheduled retries are cancelled, so nothing registered here
// outlives the boundary.
func (b *Boundary) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[int]Listener)
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.work = nil
}

// fault transitions to Faulted and notifies.
func (b *Boundary) fault(ctx context.Context, err error) State {
	c := classify.Classify(err)
	correlationID := uuid.New().String()

	state := State{
		Faulted:        true,
		Phase:          PhaseFaulted,
		Classification: c,
		Message:        b.expose(err, c),
		CorrelationID:  correlationID,
		Actions:        b.actions(c),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return state
	}
	b.phase = PhaseFaulted
	b.last = state
	b.mu.Unlock()

	metrics.Faults.WithLabelValues(string(c.Kind), c.Severity.String(), "boundary:"+b.name).Inc()
	b.report(ctx, err, c, correlationID)
	b.notify(state)
	return state
}

// recovered transitions back to Healthy and notifies if the boundary
// was previously faulted.
func (b *Boundary) recovered() State {
	state := State{Faulted: false, Phase: PhaseHealthy}

	b.mu.Lock()
	wasFaulted := b.phase != PhaseHealthy
	b.phase = PhaseHealthy
	b.last = state
	closed := b.closed
	b.mu.Unlock()

	if wasFaulted && !closed {
		b.notify(state)
	}
	return state
}

// expose builds the user-facing message. Redaction always applies; the
// debug flag only decides between redacted detail and a generic text.
func (b *Boundary) expose(err error, c classify.Classification) string {
	if b.debug {
		return Redact(err.Error())
	}
	switch c.Kind {
	case classify.KindNetwork:
		return "The service is temporarily unreachable."
	case classify.KindAuth:
		return "Your session is no longer valid."
	case classify.KindValidation:
		return "The request could not be processed as submitted."
	case classify.KindBusiness:
		return "This action is not available for your account."
	default:
		return "Something went wrong. Please try again."
	}
}

// actions synthesizes recovery options for a classification. Retry is
// always present; critical faults also get an escalation path.
func (b *Boundary) actions(c classify.Classification) []RecoveryAction {
	actions := []RecoveryAction{
		{
			ID:      "retry",
			Label:   "Try again",
			Primary: true,
			Run:     b.Retry,
		},
	}
	if c.Severity >= classify.SeverityCritical {
		actions = append(actions, RecoveryAction{
			ID:    "escalate",
			Label: "Report this problem",
			Run: func(ctx context.Context) error {
				b.report(ctx, fmt.Errorf("escalated by user"), c, uuid.New().String())
				return nil
			},
		})
	}
	return actions
}

func (b *Boundary) report(ctx context.Context, err error, c classify.Classification, correlationID string) {
	if b.sink == nil {
		return
	}
	b.sink.Submit(ctx, report.Report{
		CorrelationID:  correlationID,
		Classification: c,
		Message:        Redact(err.Error()),
		Source:         "boundary:" + b.name,
		Context:        map[string]string{"boundary": b.name, "phase": b.Phase().String()},
		Timestamp:      b.now(),
	})
}

// notify delivers a state to every listener. Each listener is isolated:
// one panicking listener cannot suppress the others or corrupt the
// boundary. A notification cycle started from inside a listener is
// suppressed rather than run re-entrantly.
func (b *Boundary) notify(state State) {
	b.mu.Lock()
	if b.notifying {
		b.mu.Unlock()
		b.log.Debug("re-entrant boundary notification suppressed", "boundary", b.name)
		return
	}
	b.notifying = true
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		snapshot = append(snapshot, l)
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Warn("boundary listener panicked", "boundary", b.name, "panic", r)
				}
			}()
			l(state)
		}()
	}

	b.mu.Lock()
	b.notifying = false
	b.mu.Unlock()
}
