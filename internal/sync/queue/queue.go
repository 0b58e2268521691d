// Package queue provides the durable, ordered list of mutations taken while
// the remote service was unreachable.
//
// The whole list lives in one record under Key, so every change is a single
// atomic write to the durable store. Callers observe global FIFO order; the
// engine relies on this for per-target ordering.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/virtuallab/labsync/internal/clock"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/store"
	"github.com/virtuallab/labsync/internal/uuid"
)

// Key is the durable store record holding the ordered action list.
const Key = "queue:pending"

// Queue manages pending actions. All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	store  store.Store
	clock  clock.Clock
	newID  uuid.Generator
	logger *logging.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source for enqueuedAt stamps.
func WithClock(c clock.Clock) Option { return func(q *Queue) { q.clock = c } }

// WithIDGenerator sets the action id generator. Generated ids must sort in
// creation order.
func WithIDGenerator(g uuid.Generator) Option { return func(q *Queue) { q.newID = g } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(q *Queue) { q.logger = l } }

// New creates a Queue persisting into s.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		clock:  clock.Real{},
		newID:  uuid.NewOrdered,
		logger: logging.Get(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(map[string]interface{}{"component": "queue"})
	return q
}

// load reads the persisted list. Callers hold q.mu.
func (q *Queue) load(ctx context.Context) ([]models.QueuedAction, error) {
	var actions []models.QueuedAction
	if _, err := store.GetJSON(ctx, q.store, Key, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// save writes the full list in one record. Callers hold q.mu.
func (q *Queue) save(ctx context.Context, actions []models.QueuedAction) error {
	if actions == nil {
		actions = []models.QueuedAction{}
	}
	return store.SetJSON(ctx, q.store, Key, actions)
}

// Enqueue appends a new action with retryCount 0 and returns its id. The
// action is durable when Enqueue returns nil.
func (q *Queue) Enqueue(ctx context.Context, kind models.ActionKind, payload interface{}) (string, error) {
	if kind == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "action kind is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		return "", err
	}

	id, err := q.newID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to generate action id", err)
	}
	action := models.QueuedAction{
		ID:         id,
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: clock.Millis(q.clock.Now()),
	}
	if err := q.save(ctx, append(actions, action)); err != nil {
		return "", err
	}

	q.logger.Debug("Enqueued action", map[string]interface{}{
		"id":      id,
		"kind":    string(kind),
		"pending": len(actions) + 1,
	})
	return id, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !gojson.Valid(raw) {
			return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	raw, err := gojson.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode payload", err)
	}
	return raw, nil
}

// List returns every queued action, oldest first.
func (q *Queue) List(ctx context.Context) ([]models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Get returns the action with the given id.
func (q *Queue) Get(ctx context.Context, id string) (models.QueuedAction, bool, error) {
	actions, err := q.List(ctx)
	if err != nil {
		return models.QueuedAction{}, false, err
	}
	for _, a := range actions {
		if a.ID == id {
			return a, true, nil
		}
	}
	return models.QueuedAction{}, false, nil
}

// Len returns the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.List(ctx)
	return len(actions), err
}

// Remove deletes the action with the given id. Removing an unknown id is not
// an error; removed reports whether anything was deleted.
func (q *Queue) Remove(ctx context.Context, id string) (removed bool, err error) {
	err = q.Update(ctx, func(actions []models.QueuedAction) []models.QueuedAction {
		kept := actions[:0]
		for _, a := range actions {
			if a.ID == id {
				removed = true
				continue
			}
			kept = append(kept, a)
		}
		return kept
	})
	return removed, err
}

// ReplaceAll overwrites the persisted list with actions in one write.
func (q *Queue) ReplaceAll(ctx context.Context, actions []models.QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(ctx, actions)
}

// Update applies fn to the current list and persists the result in one
// write. No other queue operation runs between the read and the write, so
// actions enqueued while a drain was in flight are seen by fn.
func (q *Queue) Update(ctx context.Context, fn func(current []models.QueuedAction) []models.QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, fn(actions))
}

// Clear removes every queued action and returns how many there were.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.save(ctx, nil); err != nil {
		return 0, err
	}
	if len(actions) > 0 {
		q.logger.Info("Queue cleared", map[string]interface{}{"removed": len(actions)})
	}
	return len(actions), nil
}

// Stats summarizes the queue.
type Stats struct {
	Total    int                       `json:"total"`
	ByKind   map[models.ActionKind]int `json:"byKind"`
	Retrying int                       `json:"retrying"`
	// OldestEnqueuedAt is 0 when the queue is empty.
	OldestEnqueuedAt int64 `json:"oldestEnqueuedAt"`
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	actions, err := q.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(actions), ByKind: make(map[models.ActionKind]int)}
	for _, a := range actions {
		stats.ByKind[a.Kind]++
		if a.RetryCount > 0 {
			stats.Retrying++
		}
		if stats.OldestEnqueuedAt == 0 || a.EnqueuedAt < stats.OldestEnqueuedAt {
			stats.OldestEnqueuedAt = a.EnqueuedAt
		}
	}
	return stats, nil
}

// Backoff returns the delay before follow-up attempt n (starting at 0):
// base * 2^n, capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		return max
	}
	d := base << uint(n)
	if d <= 0 || d > max {
		return max
	}
	return d
}
