package models

import "encoding/json"

// CacheEntry is a time-limited snapshot of remote data.
type CacheEntry struct {
	Key      string          `json:"key"`
	Data     json.RawMessage `json:"data"`
	StoredAt int64           `json:"storedAt"` // ms since epoch
	TTLMs    int64           `json:"ttlMs"`
}

// Expired reports whether the entry is stale at nowMs. A zero TTL is
// expired immediately.
func (e CacheEntry) Expired(nowMs int64) bool {
	return nowMs-e.StoredAt >= e.TTLMs
}
