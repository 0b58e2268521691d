package models

import "time"

// FailedAction is a queued action that was dropped without being applied.
type FailedAction struct {
	Action QueuedAction `json:"action"`
	Code   string       `json:"code"`   // REMOTE_REJECTED or QUEUE_EXHAUSTED
	Reason string       `json:"reason"` // last handler error
}

// SyncResult describes one drain pass.
type SyncResult struct {
	// Success is false only when the pass hit a fatal error, such as the
	// durable store failing to load or commit the queue.
	Success        bool   `json:"success"`
	SyncedItems    int    `json:"syncedItems"`
	RemainingItems int    `json:"remainingItems"`
	Error          string `json:"error,omitempty"`

	PermanentFailures []FailedAction `json:"permanentFailures,omitempty"`
	// Aborted is set when connectivity loss or cancellation cut the pass short.
	Aborted bool `json:"aborted,omitempty"`

	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Duration   time.Duration `json:"duration"`
}
