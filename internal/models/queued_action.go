// Package models provides data model definitions for the sync core.
package models

import "encoding/json"

// DefaultMaxRetries is the number of retryable failures an action may
// accumulate before it is dropped and reported as permanently failed.
const DefaultMaxRetries = 3

// ActionKind names a mutation type the remote service understands.
type ActionKind string

const (
	KindSubmitQuizResult  ActionKind = "submit-quiz-result"
	KindUpdateProgress    ActionKind = "update-progress"
	KindSaveSimulationRun ActionKind = "save-simulation-run"
)

// KnownKinds lists the built-in action kinds.
func KnownKinds() []ActionKind {
	return []ActionKind{KindSubmitQuizResult, KindUpdateProgress, KindSaveSimulationRun}
}

// QueuedAction represents a pending mutation taken while the remote was unavailable.
type QueuedAction struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueuedAt"` // ms since epoch
	RetryCount int             `json:"retryCount"`
}

// Clone returns a copy that shares nothing with a.
func (a QueuedAction) Clone() QueuedAction {
	a.Payload = append(json.RawMessage(nil), a.Payload...)
	return a
}
