// Package sync drains the action queue against the remote handlers.
package sync

import (
	"context"
	"time"

	"github.com/virtuallab/labsync/internal/models"
)

// SyncEngineInterface defines the drain operations the scheduler and the
// facade depend on. It allows for mocking in tests.
type SyncEngineInterface interface {
	// TriggerSync runs one drain pass unless one is already running. started
	// is false when the call was a no-op because a pass was in progress.
	// err is non-nil only for storage failures and programmer errors; per
	// action failures are described by the result.
	TriggerSync(ctx context.Context) (result *models.SyncResult, started bool, err error)

	// AddEventHandler registers a handler for sync notifications and returns
	// a function that removes it.
	AddEventHandler(handler SyncEventHandler) (remove func())

	// Status returns the current engine state.
	Status() SyncStatus

	// LastSync returns the finish time of the last committed pass.
	LastSync() *time.Time

	// LastResult returns the result of the last pass, if any.
	LastResult() *models.SyncResult

	// LastError returns the error of the last pass that failed to commit.
	LastError() error
}
