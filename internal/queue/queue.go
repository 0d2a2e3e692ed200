// Package queue implements the deferred action queue: actions that
// could not be completed while a dependency was unavailable are parked
// here and replayed once it recovers. Persistence is best-effort — if
// the backing store fails, the queue degrades to process-local memory
// rather than failing the caller.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aegis/internal/classify"
	"github.com/vietddude/aegis/internal/metrics"
	"github.com/vietddude/aegis/internal/report"
	"github.com/vietddude/aegis/internal/storage"
)

// Action is one deferred unit of work.
type Action struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int
	Failed    int
	Discarded int
}

// Config holds queue settings.
type Config struct {
	Name        string `yaml:"name"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// Queue is a deferred action queue. Safe for concurrent use.
type Queue struct {
	name        string
	maxAttempts int
	store       storage.QueueStore // persistent, may be nil
	mem         *storage.MemoryQueueStore
	sink        report.Sink
	log         *slog.Logger

	mu       sync.Mutex
	degraded bool

	now func() time.Time
}

// New creates a queue over an optional persistent store. A nil store
// means the queue is memory-only from the start.
func New(cfg Config, store storage.QueueStore, sink report.Sink, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Queue{
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		store:       store,
		mem:         storage.NewMemoryQueueStore(),
		sink:        sink,
		log:         log,
		now:         time.Now,
	}
}

// Name returns the queue's namespace.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue parks a payload for later replay. It never fails the caller:
// if the persistent store is unavailable the action is held in memory
// for the process lifetime and a warning is logged.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage) *Action {
	action := &Action{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: q.now(),
		Attempts:   0,
	}

	data, err := json.Marshal(action)
	if err != nil {
		// Payload is raw JSON, so this cannot realistically fail; keep
		// the action anyway.
		data = []byte(fmt.Sprintf(`{"id":%q}`, action.ID))
	}

	if q.persistent() != nil {
		if err := q.tryStore(ctx, action.ID, action.EnqueuedAt, string(data)); err == nil {
			q.updateDepth(ctx)
			return action
		} else {
			q.markDegraded(err)
		}
	}

	_ = q.mem.Add(ctx, action.ID, action.EnqueuedAt, string(data))
	q.updateDepth(ctx)
	return action
}

// Depth returns the number of actions awaiting replay.
func (q *Queue) Depth(ctx context.Context) int {
	total := 0
	if s := q.persistent(); s != nil {
		if n, err := safeLen(ctx, s); err == nil {
			total += n
		}
	}
	n, _ := q.mem.Len(ctx)
	return total + n
}

// Drain replays queued actions in FIFO order. Successful replays are
// removed; failed ones stay for a later drain until MaxAttempts is
// reached, after which the action is discarded and reported.
func (q *Queue) Drain(ctx context.Context, replay func(context.Context, *Action) error) DrainResult {
	var result DrainResult

	if s := q.persistent(); s != nil {
		q.drainStore(ctx, s, replay, &result)
	}
	q.drainStore(ctx, q.mem, replay, &result)

	q.updateDepth(ctx)
	return result
}

func (q *Queue) drainStore(ctx context.Context, s storage.QueueStore, replay func(context.Context, *Action) error, result *DrainResult) {
	ids, err := safeIDs(ctx, s)
	if err != nil {
		q.markDegraded(err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		data, err := safeGet(ctx, s, id)
		if err != nil {
			continue
		}
		var action Action
		if err := json.Unmarshal([]byte(data), &action); err != nil {
			_ = safeRemove(ctx, s, id)
			continue
		}

		if err := replay(ctx, &action); err == nil {
			_ = safeRemove(ctx, s, id)
			result.Processed++
			metrics.QueueReplays.WithLabelValues(q.name, "processed").Inc()
			continue
		} else if action.Attempts+1 >= q.maxAttempts {
			_ = safeRemove(ctx, s, id)
			result.Discarded++
			metrics.QueueReplays.WithLabelValues(q.name, "discarded").Inc()
			q.reportDiscard(ctx, &action, err)
			continue
		} else {
			action.Attempts++
			if updated, mErr := json.Marshal(&action); mErr == nil {
				_ = safeUpdate(ctx, s, id, string(updated))
			}
			result.Failed++
			metrics.QueueReplays.WithLabelValues(q.name, "failed").Inc()
		}
	}
}

func (q *Queue) reportDiscard(ctx context.Context, action *Action, err error) {
	q.log.Warn("deferred action discarded after max attempts",
		"queue", q.name, "action_id", action.ID, "attempts", action.Attempts+1, "error", err)
	if q.sink == nil {
		return
	}
	q.sink.Submit(ctx, report.Report{
		CorrelationID:  action.ID,
		Classification: classify.Classify(err),
		Message:        fmt.Sprintf("deferred action discarded after %d attempts: %v", action.Attempts+1, err),
		Source:         "queue:" + q.name,
		Context:        map[string]string{"queue": q.name},
		Timestamp:      q.now(),
	})
}

func (q *Queue) persistent() storage.QueueStore {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded {
		return nil
	}
	return q.store
}

func (q *Queue) markDegraded(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded || q.store == nil {
		return
	}
	q.degraded = true
	q.log.Warn("queue store unavailable, degrading to in-memory queue",
		"queue", q.name, "error", err)
}

func (q *Queue) updateDepth(ctx context.Context) {
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.Depth(ctx)))
}

// tryStore persists an action, converting panics into errors so a
// misbehaving store cannot crash an enqueue happening mid-failure.
func (q *Queue) tryStore(ctx context.Context, id string, at time.Time, data string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return q.store.Add(ctx, id, at, data)
}

func safeIDs(ctx context.Context, s storage.QueueStore) (ids []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return s.IDs(ctx)
}

func safeGet(ctx context.Context, s storage.QueueStore, id string) (data string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return s.Get(ctx, id)
}

func safeUpdate(ctx context.Context, s storage.QueueStore, id, data string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return s.Update(ctx, id, data)
}

func safeRemove(ctx context.Context, s storage.QueueStore, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return s.Remove(ctx, id)
}

func safeLen(ctx context.Context, s storage.QueueStore) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue store panicked: %v", r)
		}
	}()
	return s.Len(ctx)
}
