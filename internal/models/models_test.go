// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
)

// TestCacheEntry_Expired verifies TTL evaluation at read time.
func TestCacheEntry_Expired(t *testing.T) {
	tests := []struct {
		name  string
		entry CacheEntry
		now   int64
		want  bool
	}{
		{"fresh", CacheEntry{StoredAt: 1000, TTLMs: 500}, 1200, false},
		{"just before expiry", CacheEntry{StoredAt: 1000, TTLMs: 500}, 1499, false},
		{"at expiry", CacheEntry{StoredAt: 1000, TTLMs: 500}, 1500, true},
		{"past expiry", CacheEntry{StoredAt: 1000, TTLMs: 500}, 1501, true},
		{"zero ttl same instant", CacheEntry{StoredAt: 1000, TTLMs: 0}, 1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Expired(tt.now); got != tt.want {
				t.Errorf("Expired(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

// TestQueuedAction_Clone verifies the payload is not shared.
func TestQueuedAction_Clone(t *testing.T) {
	a := QueuedAction{ID: "1", Kind: KindUpdateProgress, Payload: json.RawMessage(`{"p":1}`)}
	b := a.Clone()
	b.Payload[2] = 'q'

	if string(a.Payload) != `{"p":1}` {
		t.Errorf("Clone() shares payload bytes: %s", a.Payload)
	}
}

// TestQueuedAction_JSONLayout verifies the persisted field names.
func TestQueuedAction_JSONLayout(t *testing.T) {
	a := QueuedAction{ID: "x", Kind: KindSubmitQuizResult, Payload: json.RawMessage(`{}`), EnqueuedAt: 5, RetryCount: 1}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"x","kind":"submit-quiz-result","payload":{},"enqueuedAt":5,"retryCount":1}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

// TestKnownKinds verifies the built-in kinds.
func TestKnownKinds(t *testing.T) {
	if len(KnownKinds()) != 3 {
		t.Errorf("KnownKinds() = %v", KnownKinds())
	}
}
