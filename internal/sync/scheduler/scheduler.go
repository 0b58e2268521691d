// Package scheduler decides when drain passes run: once per reconnect,
// as backed-off follow-ups while work remains, and on a periodic tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/virtuallab/labsync/internal/config"
	"github.com/virtuallab/labsync/internal/connectivity"
	"github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/models"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
	"github.com/virtuallab/labsync/internal/sync/queue"
)

// Trigger names what started a pass.
type Trigger string

const (
	TriggerReconnect Trigger = "reconnect"
	TriggerFollowUp  Trigger = "follow_up"
	TriggerInterval  Trigger = "interval"
	TriggerManual    Trigger = "manual"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine   syncpkg.SyncEngineInterface
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	config   *SchedulerConfig
	suppress func(ctx context.Context) bool
	logger   *logging.Logger

	reconnectCh chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()

	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
	lastResult   *models.SyncResult
	lastTrigger  Trigger
	followUps    int
	nextFollowUp time.Time
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	QueueInterval  time.Duration // periodic drain while actions are pending
	ReconnectDelay time.Duration // debounce window after coming online
	RetryBase      time.Duration // first follow-up delay while actions remain
	RetryMax       time.Duration // follow-up delay cap
	SyncTimeout    time.Duration // upper bound for one pass
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		QueueInterval:  1 * time.Minute,
		ReconnectDelay: 1 * time.Second,
		RetryBase:      30 * time.Second,
		RetryMax:       30 * time.Minute,
		SyncTimeout:    5 * time.Minute,
	}
}

// ConfigFrom builds a SchedulerConfig from the application config.
func ConfigFrom(cfg *config.Config) *SchedulerConfig {
	sc := DefaultSchedulerConfig()
	sc.QueueInterval = cfg.Sync.QueueInterval
	sc.ReconnectDelay = cfg.Connectivity.ReconnectDelay
	sc.RetryBase = cfg.Sync.RetryBase
	sc.RetryMax = cfg.Sync.RetryMax
	return sc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSuppression skips automatic passes while fn returns true. Manual passes
// still run.
func WithSuppression(fn func(ctx context.Context) bool) Option {
	return func(s *Scheduler) { s.suppress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, q *queue.Queue, monitor *connectivity.Monitor, cfg *SchedulerConfig, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	s := &Scheduler{
		engine:      engine,
		queue:       q,
		monitor:     monitor,
		config:      cfg,
		suppress:    func(context.Context) bool { return false },
		logger:      logging.Get(),
		reconnectCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(map[string]interface{}{"component": "scheduler"})
	return s
}

// Start subscribes to connectivity changes and starts the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.unsubscribe = s.monitor.Subscribe(func(ev connectivity.Event) {
		if !ev.Online {
			return
		}
		select {
		case s.reconnectCh <- struct{}{}:
		default:
		}
	})

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	s.logger.Info("Background sync scheduler started", map[string]interface{}{
		"queue_interval":  s.config.QueueInterval.String(),
		"reconnect_delay": s.config.ReconnectDelay.String(),
	})
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.unsubscribe()
	s.wg.Wait()

	s.logger.Info("Background sync scheduler stopped")
}

// loop owns all timers so passes started by the scheduler never overlap.
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.QueueInterval)
	defer ticker.Stop()

	var reconnect, followUp *time.Timer
	defer func() {
		stopTimer(reconnect)
		stopTimer(followUp)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return

		case <-s.reconnectCh:
			// Flapping inside the window collapses into one pass.
			stopTimer(reconnect)
			reconnect = time.NewTimer(s.config.ReconnectDelay)

		case <-timerC(reconnect):
			reconnect = nil
			s.followUps = 0
			followUp = s.afterPass(s.runAuto(ctx, TriggerReconnect), followUp)

		case <-timerC(followUp):
			followUp = nil
			followUp = s.afterPass(s.runAuto(ctx, TriggerFollowUp), followUp)

		case <-ticker.C:
			if followUp != nil {
				continue
			}
			n, err := s.queue.Len(ctx)
			if err != nil {
				s.logger.ErrorWithCode("Failed to read queue length", string(errors.CodeOf(err)), err)
				continue
			}
			if n == 0 {
				continue
			}
			followUp = s.afterPass(s.runAuto(ctx, TriggerInterval), followUp)
		}
	}
}

// afterPass arms a backed-off follow-up while work remains and the remote is
// reachable, and resets the backoff once the queue is drained.
func (s *Scheduler) afterPass(result *models.SyncResult, current *time.Timer) *time.Timer {
	stopTimer(current)

	s.mu.Lock()
	defer s.mu.Unlock()

	if result == nil || result.RemainingItems == 0 || !s.monitor.Current() {
		s.followUps = 0
		s.nextFollowUp = time.Time{}
		return nil
	}

	delay := queue.Backoff(s.followUps, s.config.RetryBase, s.config.RetryMax)
	s.followUps++
	s.nextFollowUp = time.Now().Add(delay)
	s.logger.Debug("Scheduling follow-up pass", map[string]interface{}{
		"remaining": result.RemainingItems,
		"delay":     delay.String(),
		"attempt":   s.followUps,
	})
	return time.NewTimer(delay)
}

// runAuto runs a pass started by the scheduler itself.
func (s *Scheduler) runAuto(ctx context.Context, trigger Trigger) *models.SyncResult {
	if !s.monitor.Current() {
		s.logger.Debug("Skipping sync - offline", map[string]interface{}{"trigger": string(trigger)})
		return nil
	}
	if s.suppress(ctx) {
		s.logger.Debug("Skipping sync - offline mode enabled", map[string]interface{}{"trigger": string(trigger)})
		return nil
	}
	result, _ := s.runSync(ctx, trigger)
	return result
}

// runSync executes one pass through the engine.
func (s *Scheduler) runSync(ctx context.Context, trigger Trigger) (*models.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	result, started, err := s.engine.TriggerSync(syncCtx)
	if !started {
		s.logger.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": string(trigger)})
		return nil, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}
	if err != nil {
		s.logger.ErrorWithCode("Sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"trigger": string(trigger)})
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = result.FinishedAt
	s.lastResult = result
	s.lastTrigger = trigger
	s.mu.Unlock()

	s.logger.Info("Sync completed", map[string]interface{}{
		"trigger":   string(trigger),
		"synced":    result.SyncedItems,
		"remaining": result.RemainingItems,
		"failed":    len(result.PermanentFailures),
	})
	return result, nil
}

// SyncNow runs a manual pass and waits for it. Manual passes ignore offline
// mode. Returns a SYNC_IN_PROGRESS error when a pass is already running.
func (s *Scheduler) SyncNow(ctx context.Context) (*models.SyncResult, error) {
	return s.runSync(ctx, TriggerManual)
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool               `json:"isRunning"`
	IsOnline       bool               `json:"isOnline"`
	SyncInProgress bool               `json:"syncInProgress"`
	LastSyncTime   *time.Time         `json:"lastSyncTime,omitempty"`
	LastTrigger    Trigger            `json:"lastTrigger,omitempty"`
	LastResult     *models.SyncResult `json:"lastResult,omitempty"`
	NextFollowUp   *time.Time         `json:"nextFollowUp,omitempty"`
	PendingItems   int                `json:"pendingItems"`
	QueueStats     queue.Stats        `json:"queueStats"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.monitor.Current(),
		SyncInProgress: s.engine.Status() == syncpkg.SyncStatusDraining,
		LastTrigger:    s.lastTrigger,
		LastResult:     s.lastResult,
		PendingItems:   stats.Total,
		QueueStats:     stats,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if !s.nextFollowUp.IsZero() {
		t := s.nextFollowUp
		status.NextFollowUp = &t
	}
	return status, nil
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
