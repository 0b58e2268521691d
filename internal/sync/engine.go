package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/atomic"

	"github.com/virtuallab/labsync/internal/clock"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/metrics"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/sync/queue"
)

// SyncStatus represents the engine state. There is no failed state: failures
// are reported per action.
type SyncStatus string

const (
	SyncStatusIdle     SyncStatus = "idle"
	SyncStatusDraining SyncStatus = "draining"
)

// Reachability reports whether the remote service can currently be contacted.
type Reachability interface {
	Current() bool
}

// SyncEngine drains the action queue through the registered handlers.
//
// The engine holds no state that matters across restarts: the queue is the
// only record of pending work, and a pass commits its outcome to the queue in
// a single write.
type SyncEngine struct {
	queue        *queue.Queue
	handlers     *Registry
	reachability Reachability
	clock        clock.Clock
	maxRetries   int
	metrics      *metrics.LatencyTracker
	logger       *logging.Logger
	events       eventBus

	draining *atomic.Bool

	mu         stdsync.RWMutex
	lastSync   *time.Time
	lastResult *models.SyncResult
	lastErr    error
}

// Option configures a SyncEngine.
type Option func(*SyncEngine)

// WithReachability makes the engine stop a pass between actions once r
// reports the remote as unreachable.
func WithReachability(r Reachability) Option { return func(e *SyncEngine) { e.reachability = r } }

// WithClock sets the time source for result timestamps.
func WithClock(c clock.Clock) Option { return func(e *SyncEngine) { e.clock = c } }

// WithMaxRetries sets how many retryable failures an action may accumulate.
func WithMaxRetries(n int) Option { return func(e *SyncEngine) { e.maxRetries = n } }

// WithMetrics records handler latency and outcomes into m.
func WithMetrics(m *metrics.LatencyTracker) Option { return func(e *SyncEngine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(e *SyncEngine) { e.logger = l } }

// NewSyncEngine creates a new SyncEngine.
func NewSyncEngine(q *queue.Queue, handlers *Registry, opts ...Option) *SyncEngine {
	e := &SyncEngine{
		queue:      q,
		handlers:   handlers,
		clock:      clock.Real{},
		maxRetries: models.DefaultMaxRetries,
		logger:     logging.Get(),
		draining:   atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(map[string]interface{}{"component": "sync_engine"})
	return e
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	if e.draining.Load() {
		return SyncStatusDraining
	}
	return SyncStatusIdle
}

// LastSync returns the finish time of the last committed pass.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSync == nil {
		return nil
	}
	t := *e.lastSync
	return &t
}

// LastResult returns the result of the last pass.
func (e *SyncEngine) LastResult() *models.SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastResult == nil {
		return nil
	}
	r := *e.lastResult
	return &r
}

// LastError returns the error of the last pass that could not commit.
func (e *SyncEngine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// AddEventHandler registers handler for sync notifications.
func (e *SyncEngine) AddEventHandler(handler SyncEventHandler) (remove func()) {
	return e.events.add(handler)
}

func (e *SyncEngine) emit(event SyncEvent) {
	event.Time = e.clock.Now()
	e.events.emit(event)
}

// TriggerSync runs one drain pass. A call made while another pass is in
// progress returns immediately with started false; it is not queued.
func (e *SyncEngine) TriggerSync(ctx context.Context) (*models.SyncResult, bool, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.logger.Debug("Sync already in progress, skipping")
		return nil, false, nil
	}
	defer e.draining.Store(false)

	result, err := e.drain(ctx)
	e.mu.Lock()
	if result != nil {
		e.lastResult = result
	}
	e.lastErr = err
	if err == nil && result != nil {
		finished := result.FinishedAt
		e.lastSync = &finished
	}
	e.mu.Unlock()
	return result, true, err
}

// outcome is the fate of one attempted action.
type outcome struct {
	keep   bool
	action models.QueuedAction
}

func (e *SyncEngine) drain(ctx context.Context) (*models.SyncResult, error) {
	result := &models.SyncResult{StartedAt: e.clock.Now()}

	snapshot, err := e.queue.List(ctx)
	if err != nil {
		e.logger.ErrorWithCode("Failed to load queue", string(apperrors.CodeOf(err)), err)
		return e.fail(result, err), err
	}
	if err := e.checkHandlers(snapshot); err != nil {
		e.logger.ErrorWithCode("Queue holds an action without a handler", string(apperrors.ErrNoHandler), err)
		return nil, err
	}

	e.emit(SyncEvent{Type: SyncEventStarted, Message: "draining queue"})
	e.logger.Info("Starting drain pass", map[string]interface{}{"pending": len(snapshot)})

	outcomes := make(map[string]outcome, len(snapshot))
	// Actions past the abort point are absent from outcomes and stay queued
	// untouched.
	for _, action := range snapshot {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			e.logger.Info("Drain pass cancelled", map[string]interface{}{"reason": err.Error()})
			break
		}
		if e.reachability != nil && !e.reachability.Current() {
			result.Aborted = true
			e.logger.Info("Connectivity lost, aborting drain pass")
			break
		}

		if !e.dispatch(ctx, action, result, outcomes) {
			result.Aborted = true
			break
		}
	}

	remaining, err := e.commit(ctx, outcomes)
	if err != nil {
		e.logger.ErrorWithCode("Failed to commit drain pass", string(apperrors.CodeOf(err)), err)
		return e.fail(result, err), err
	}

	result.Success = true
	result.RemainingItems = remaining
	e.finish(result)

	e.logger.Info("Drain pass completed", map[string]interface{}{
		"synced":    result.SyncedItems,
		"remaining": result.RemainingItems,
		"dropped":   len(result.PermanentFailures),
		"aborted":   result.Aborted,
	})
	e.emit(SyncEvent{Type: SyncEventCompleted, Result: result})
	return result, nil
}

// checkHandlers fails the pass before any dispatch when a queued kind has no
// handler, so a misconfiguration cannot consume retry slots.
func (e *SyncEngine) checkHandlers(actions []models.QueuedAction) error {
	for _, a := range actions {
		if _, ok := e.handlers.Lookup(a.Kind); !ok {
			return apperrors.Newf(apperrors.ErrNoHandler, "no handler registered for kind %q (action %s)", a.Kind, a.ID)
		}
	}
	return nil
}

// dispatch sends one action and records its outcome. It returns false when
// the pass must stop because the remote turned out to be unreachable.
func (e *SyncEngine) dispatch(ctx context.Context, action models.QueuedAction, result *models.SyncResult, outcomes map[string]outcome) bool {
	h, _ := e.handlers.Lookup(action.Kind)
	fields := map[string]interface{}{"id": action.ID, "kind": string(action.Kind)}

	// A call in flight runs to completion; cancellation is honored between
	// actions only.
	start := time.Now()
	err := h.Send(context.WithoutCancel(ctx), action.Payload)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		result.SyncedItems++
		outcomes[action.ID] = outcome{keep: false}
		e.observe(action.Kind, elapsed, metrics.OutcomeSynced)
		e.logger.Debug("Action synced", fields)
		e.emit(SyncEvent{Type: SyncEventActionSynced, ActionID: action.ID, Kind: action.Kind})
		return true

	case apperrors.IsUnreachable(err):
		result.Error = string(apperrors.ErrNetworkUnreachable)
		e.observe(action.Kind, elapsed, metrics.OutcomeAborted)
		e.logger.Warn("Remote unreachable, aborting drain pass", fields)
		return false

	case apperrors.Is(err, apperrors.ErrConfig):
		// Nothing can succeed until the remote is configured; keep every
		// action with its retry count intact.
		result.Error = string(apperrors.ErrConfig)
		e.observe(action.Kind, elapsed, metrics.OutcomeAborted)
		e.logger.ErrorWithCode("Remote not configured, aborting drain pass", string(apperrors.ErrConfig), err, fields)
		return false

	case !apperrors.IsRetryable(err):
		code := apperrors.CodeOf(err)
		if code == "" {
			code = apperrors.ErrRemoteRejected
		}
		e.drop(action, code, err, result, outcomes)
		e.observe(action.Kind, elapsed, metrics.OutcomeDropped)
		return true
	}

	action.RetryCount++
	result.Error = string(apperrors.ErrRemoteTransient)
	if action.RetryCount > e.maxRetries {
		e.drop(action, apperrors.ErrQueueExhausted, err, result, outcomes)
		e.observe(action.Kind, elapsed, metrics.OutcomeDropped)
		return true
	}

	outcomes[action.ID] = outcome{keep: true, action: action}
	e.observe(action.Kind, elapsed, metrics.OutcomeRetry)
	e.logger.Warn("Action failed, will retry", map[string]interface{}{
		"id":          action.ID,
		"kind":        string(action.Kind),
		"retry_count": action.RetryCount,
		"max_retries": e.maxRetries,
		"error":       err.Error(),
	})
	e.emit(SyncEvent{
		Type:     SyncEventActionRetry,
		ActionID: action.ID,
		Kind:     action.Kind,
		Code:     string(apperrors.ErrRemoteTransient),
		Message:  err.Error(),
	})
	return true
}

// drop removes action from the queue and reports it as permanently failed.
func (e *SyncEngine) drop(action models.QueuedAction, code apperrors.ErrorCode, cause error, result *models.SyncResult, outcomes map[string]outcome) {
	outcomes[action.ID] = outcome{keep: false}
	result.Error = string(code)
	result.PermanentFailures = append(result.PermanentFailures, models.FailedAction{
		Action: action,
		Code:   string(code),
		Reason: cause.Error(),
	})
	e.logger.ErrorWithCode("Action permanently failed", string(code), cause, map[string]interface{}{
		"id":          action.ID,
		"kind":        string(action.Kind),
		"retry_count": action.RetryCount,
	})
	e.emit(SyncEvent{
		Type:     SyncEventActionFailed,
		ActionID: action.ID,
		Kind:     action.Kind,
		Code:     string(code),
		Message:  cause.Error(),
	})
}

// commit applies outcomes to the current queue in one write. Actions enqueued
// while the pass ran are not in outcomes and are kept in place.
func (e *SyncEngine) commit(ctx context.Context, outcomes map[string]outcome) (remaining int, err error) {
	err = e.queue.Update(context.WithoutCancel(ctx), func(current []models.QueuedAction) []models.QueuedAction {
		next := make([]models.QueuedAction, 0, len(current))
		for _, a := range current {
			o, attempted := outcomes[a.ID]
			switch {
			case !attempted:
				next = append(next, a)
			case o.keep:
				next = append(next, o.action)
			}
		}
		remaining = len(next)
		return next
	})
	return remaining, err
}

func (e *SyncEngine) observe(kind models.ActionKind, d time.Duration, o metrics.Outcome) {
	if e.metrics != nil {
		e.metrics.Observe(string(kind), d, o)
	}
}

func (e *SyncEngine) fail(result *models.SyncResult, err error) *models.SyncResult {
	result.Success = false
	result.Error = err.Error()
	e.finish(result)
	e.emit(SyncEvent{Type: SyncEventCompleted, Result: result, Code: string(apperrors.CodeOf(err)), Message: err.Error()})
	return result
}

func (e *SyncEngine) finish(result *models.SyncResult) {
	result.FinishedAt = e.clock.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
