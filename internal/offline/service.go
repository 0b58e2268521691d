// Package offline is the single entry point the application uses for data
// access while connectivity comes and goes: cached reads, queued writes,
// manual sync and the offline-mode toggle.
package offline

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/virtuallab/labsync/internal/cache"
	"github.com/virtuallab/labsync/internal/clock"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/metrics"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/store"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
	"github.com/virtuallab/labsync/internal/sync/queue"
)

// Settings records in the durable store.
const (
	KeyOfflineMode  = "config:offlineMode"
	KeyLastSyncTime = "config:lastSyncTime"
)

// Outcome is the typed result of a facade call.
type Outcome string

const (
	// OutcomeOK means the remote served or accepted the request.
	OutcomeOK Outcome = "ok"
	// OutcomeQueued means the write was persisted for a later sync.
	OutcomeQueued Outcome = "queued"
	// OutcomeDegraded means the data came from the cache.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeUnavailable means neither the remote nor the cache had data.
	OutcomeUnavailable Outcome = "unavailable"
)

// FetchFunc loads a fresh snapshot from the remote service.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// ReadResult is returned by ReadThrough.
type ReadResult struct {
	Outcome Outcome
	Data    json.RawMessage
	// RemoteErr is the fetch failure that caused a fallback, if any.
	RemoteErr error
}

// WriteResult is returned by Write.
type WriteResult struct {
	Outcome Outcome
	// ActionID is set when the write was queued.
	ActionID string
	// RemoteErr is the send failure that caused queueing, if any.
	RemoteErr error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store        store.Store
	Cache        *cache.Cache
	Queue        *queue.Queue
	Engine       syncpkg.SyncEngineInterface
	Handlers     *syncpkg.Registry
	Reachability syncpkg.Reachability
	Clock        clock.Clock
	DefaultTTL   time.Duration
	// Metrics, when set, records read-through fetch latency.
	Metrics *metrics.LatencyTracker
	Logger  *logging.Logger
}

// Service is the sync facade.
type Service struct {
	store        store.Store
	cache        *cache.Cache
	queue        *queue.Queue
	engine       syncpkg.SyncEngineInterface
	handlers     *syncpkg.Registry
	reachability syncpkg.Reachability
	clock        clock.Clock
	defaultTTL   time.Duration
	metrics      *metrics.LatencyTracker
	logger       *logging.Logger

	removeHandler func()
	wg            stdsync.WaitGroup
}

// New creates a Service and subscribes it to engine events so the last sync
// time is persisted after each committed pass.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = logging.Get()
	}
	if d.DefaultTTL <= 0 {
		d.DefaultTTL = 24 * time.Hour
	}
	s := &Service{
		store:        d.Store,
		cache:        d.Cache,
		queue:        d.Queue,
		engine:       d.Engine,
		handlers:     d.Handlers,
		reachability: d.Reachability,
		clock:        d.Clock,
		defaultTTL:   d.DefaultTTL,
		metrics:      d.Metrics,
		logger:       d.Logger.With(map[string]interface{}{"component": "offline"}),
	}
	s.removeHandler = d.Engine.AddEventHandler(syncpkg.SyncEventHandlerFunc(s.onSyncEvent))
	return s
}

// Close detaches the service from the engine and waits for background passes
// it started.
func (s *Service) Close() {
	s.removeHandler()
	s.wg.Wait()
}

func (s *Service) reachable() bool {
	return s.reachability.Current()
}

// DefaultTTL returns the cache lifetime used when ReadThrough gets a negative ttl.
func (s *Service) DefaultTTL() time.Duration { return s.defaultTTL }

// ReadThrough serves key from the remote when reachable, refreshing the
// cache, and falls back to the cache otherwise. A negative ttl selects the
// default. Only durable store failures are returned as errors.
func (s *Service) ReadThrough(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (ReadResult, error) {
	if ttl < 0 {
		ttl = s.defaultTTL
	}

	var remoteErr error
	if s.reachable() {
		data, err := s.fetch(ctx, fetch)
		if err == nil {
			if err := s.cache.Set(ctx, key, data, ttl); err != nil {
				return ReadResult{Outcome: OutcomeOK, Data: data}, err
			}
			return ReadResult{Outcome: OutcomeOK, Data: data}, nil
		}
		remoteErr = err
		s.logger.Warn("Remote fetch failed, falling back to cache", map[string]interface{}{
			"key":   key,
			"code":  string(apperrors.CodeOf(err)),
			"error": err.Error(),
		})
	} else {
		remoteErr = apperrors.New(apperrors.ErrNetworkUnreachable, "remote unreachable")
	}

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return ReadResult{Outcome: OutcomeUnavailable, RemoteErr: remoteErr}, err
	}
	if !ok {
		return ReadResult{Outcome: OutcomeUnavailable, RemoteErr: remoteErr}, nil
	}
	return ReadResult{Outcome: OutcomeDegraded, Data: data, RemoteErr: remoteErr}, nil
}

// ReadThroughOperation is the latency tracker operation for read-through fetches.
const ReadThroughOperation = "read-through"

func (s *Service) fetch(ctx context.Context, fetch FetchFunc) (data json.RawMessage, err error) {
	if s.metrics == nil {
		return fetch(ctx)
	}
	err = s.metrics.RecordFunc(ReadThroughOperation, func() error {
		data, err = fetch(ctx)
		return err
	})
	return data, err
}

// ReadThroughAs is ReadThrough decoding the data into a T. The zero T is
// returned with OutcomeUnavailable.
func ReadThroughAs[T any](ctx context.Context, s *Service, key string, fetch FetchFunc, ttl time.Duration) (T, ReadResult, error) {
	var out T
	res, err := s.ReadThrough(ctx, key, fetch, ttl)
	if err != nil || res.Outcome == OutcomeUnavailable {
		return out, res, err
	}
	if err := gojson.Unmarshal(res.Data, &out); err != nil {
		return out, res, apperrors.Wrap(apperrors.ErrInvalid, "unexpected shape for "+key, err)
	}
	return out, res, nil
}

// WriteOption adjusts a Write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	cacheKey string
	cacheTTL time.Duration
}

// CacheAs also stores the payload under key, so reads reflect the write
// before it reaches the remote. A negative ttl selects the default.
func CacheAs(key string, ttl time.Duration) WriteOption {
	return func(o *writeOptions) {
		o.cacheKey = key
		o.cacheTTL = ttl
	}
}

// Write sends a mutation now when possible and queues it otherwise. A nil
// send uses the handler registered for kind. Retryable failures are queued
// and reported as OutcomeQueued, not as errors. A fatal rejection is
// returned as a REMOTE_REJECTED error and nothing is queued.
func (s *Service) Write(ctx context.Context, kind models.ActionKind, payload interface{}, send syncpkg.Handler, opts ...WriteOption) (WriteResult, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	// A kind without a handler could never drain.
	registered, ok := s.handlers.Lookup(kind)
	if !ok {
		return WriteResult{}, apperrors.Newf(apperrors.ErrNoHandler, "no handler registered for kind %q", kind)
	}
	if send == nil {
		send = registered
	}

	raw, err := encode(payload)
	if err != nil {
		return WriteResult{}, err
	}

	offlineMode, err := s.IsOfflineModeEnabled(ctx)
	if err != nil {
		return WriteResult{}, err
	}

	var remoteErr error
	switch {
	case offlineMode:
		remoteErr = apperrors.New(apperrors.ErrNetworkUnreachable, "offline mode enabled")
	case !s.reachable():
		remoteErr = apperrors.New(apperrors.ErrNetworkUnreachable, "remote unreachable")
	default:
		remoteErr = send.Send(ctx, raw)
		if remoteErr == nil {
			return WriteResult{Outcome: OutcomeOK}, s.cacheWrite(ctx, o, raw)
		}
		if !apperrors.IsRetryable(remoteErr) {
			s.logger.Warn("Remote rejected write", map[string]interface{}{
				"kind":  string(kind),
				"error": remoteErr.Error(),
			})
			return WriteResult{}, apperrors.Wrap(apperrors.ErrRemoteRejected, "write rejected", remoteErr)
		}
	}

	id, err := s.queue.Enqueue(ctx, kind, raw)
	if err != nil {
		return WriteResult{}, err
	}
	s.logger.Info("Write queued", map[string]interface{}{
		"id":     id,
		"kind":   string(kind),
		"reason": remoteErr.Error(),
	})
	return WriteResult{Outcome: OutcomeQueued, ActionID: id, RemoteErr: remoteErr}, s.cacheWrite(ctx, o, raw)
}

func (s *Service) cacheWrite(ctx context.Context, o writeOptions, raw json.RawMessage) error {
	if o.cacheKey == "" {
		return nil
	}
	ttl := o.cacheTTL
	if ttl < 0 {
		ttl = s.defaultTTL
	}
	return s.cache.Set(ctx, o.cacheKey, raw, ttl)
}

func encode(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !gojson.Valid(raw) {
			return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
		}
		return raw, nil
	}
	raw, err := gojson.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode payload", err)
	}
	return raw, nil
}

// TriggerSync runs a drain pass. Calling it while a pass runs is a no-op
// with started false.
func (s *Service) TriggerSync(ctx context.Context) (result *models.SyncResult, started bool, err error) {
	return s.engine.TriggerSync(ctx)
}

// IsOfflineModeEnabled reports the user toggle that forces writes to queue.
func (s *Service) IsOfflineModeEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	if _, err := store.GetJSON(ctx, s.store, KeyOfflineMode, &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// SetOfflineMode persists the toggle. Turning it off while reachable starts
// a background pass so queued writes go out.
func (s *Service) SetOfflineMode(ctx context.Context, enabled bool) error {
	if err := store.SetJSON(ctx, s.store, KeyOfflineMode, enabled); err != nil {
		return err
	}
	s.logger.Info("Offline mode changed", map[string]interface{}{"enabled": enabled})

	if !enabled && s.reachable() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.engine.TriggerSync(context.WithoutCancel(ctx))
		}()
	}
	return nil
}

// SuppressAutoSync reports whether automatic passes should be skipped. It is
// the scheduler's suppression hook.
func (s *Service) SuppressAutoSync(ctx context.Context) bool {
	enabled, err := s.IsOfflineModeEnabled(ctx)
	if err != nil {
		s.logger.Warn("Failed to read offline mode", map[string]interface{}{"error": err.Error()})
		return false
	}
	return enabled
}

// LastSyncTime returns when the last pass committed, or nil if none has.
func (s *Service) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var ms int64
	ok, err := store.GetJSON(ctx, s.store, KeyLastSyncTime, &ms)
	if err != nil || !ok {
		return nil, err
	}
	t := time.UnixMilli(ms)
	return &t, nil
}

// PendingChanges returns the number of queued actions.
func (s *Service) PendingChanges(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// PendingActions lists the queued actions, oldest first.
func (s *Service) PendingActions(ctx context.Context) ([]models.QueuedAction, error) {
	return s.queue.List(ctx)
}

func (s *Service) onSyncEvent(ev syncpkg.SyncEvent) {
	if ev.Type != syncpkg.SyncEventCompleted || ev.Result == nil || !ev.Result.Success {
		return
	}
	ms := clock.Millis(ev.Result.FinishedAt)
	if err := store.SetJSON(context.Background(), s.store, KeyLastSyncTime, ms); err != nil {
		s.logger.ErrorWithCode("Failed to persist last sync time", string(apperrors.CodeOf(err)), err)
	}
}
