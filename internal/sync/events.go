package sync

import (
	stdsync "sync"
	"time"

	"github.com/virtuallab/labsync/internal/models"
)

// SyncEventType identifies a drain pass notification.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "sync.started"
	SyncEventActionSynced SyncEventType = "sync.action_synced"
	SyncEventActionRetry  SyncEventType = "sync.action_retry"
	SyncEventActionFailed SyncEventType = "sync.action_failed"
	SyncEventCompleted    SyncEventType = "sync.completed"
)

// SyncEvent is emitted during a drain pass.
type SyncEvent struct {
	Type     SyncEventType      `json:"type"`
	ActionID string             `json:"actionId,omitempty"`
	Kind     models.ActionKind  `json:"kind,omitempty"`
	Code     string             `json:"code,omitempty"`
	Message  string             `json:"message,omitempty"`
	Result   *models.SyncResult `json:"result,omitempty"`
	Time     time.Time          `json:"time"`
}

// SyncEventHandler receives drain pass notifications. Handlers run on the
// draining goroutine and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// eventBus fans events out to every registered handler in order.
type eventBus struct {
	mu       stdsync.RWMutex
	handlers []*SyncEventHandler
}

func (b *eventBus) add(h SyncEventHandler) (remove func()) {
	if h == nil {
		return func() {}
	}
	ref := &h
	b.mu.Lock()
	b.handlers = append(b.handlers, ref)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.handlers {
			if existing == ref {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *eventBus) emit(event SyncEvent) {
	b.mu.RLock()
	handlers := append([]*SyncEventHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		(*h).OnSyncEvent(event)
	}
}
