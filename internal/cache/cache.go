// Package cache provides keyed storage of time-limited snapshots of remote data.
//
// TTL is evaluated when an entry is read; there is no background sweep. An
// expired entry is never returned and is deleted by the read that detects it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/virtuallab/labsync/internal/clock"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/store"
)

// KeyPrefix namespaces cache records in the durable store.
const KeyPrefix = "cache:"

// Cache is the cache store.
type Cache struct {
	store  store.Store
	clock  clock.Clock
	logger *logging.Logger
}

// New creates a cache over s.
func New(s store.Store, c clock.Clock, logger *logging.Logger) *Cache {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &Cache{store: s, clock: c, logger: logger.With(map[string]interface{}{"component": "cache"})}
}

func storeKey(key string) string { return KeyPrefix + key }

// Set stores data under key for ttl, overwriting any existing entry.
// Only durable store failures are returned.
func (c *Cache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	if key == "" {
		return apperrors.New(apperrors.ErrInvalid, "cache key is required")
	}
	if ttl < 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "negative ttl %s for %q", ttl, key)
	}

	raw, ok := data.(json.RawMessage)
	if !ok {
		encoded, err := gojson.Marshal(data)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode cache data for "+key, err)
		}
		raw = encoded
	}

	entry := models.CacheEntry{
		Key:      key,
		Data:     raw,
		StoredAt: clock.Millis(c.clock.Now()),
		TTLMs:    ttl.Milliseconds(),
	}
	return store.SetJSON(ctx, c.store, storeKey(key), entry)
}

// Get returns the data stored under key. ok is false when the entry is
// missing, expired or unreadable; none of those is an error.
func (c *Cache) Get(ctx context.Context, key string) (data json.RawMessage, ok bool, err error) {
	var entry models.CacheEntry
	found, err := store.GetJSON(ctx, c.store, storeKey(key), &entry)
	if err != nil {
		var corrupt *store.CorruptError
		if !found || !errors.As(err, &corrupt) {
			return nil, false, err
		}
		c.logger.Warn("Discarding unreadable cache entry", map[string]interface{}{"key": key, "reason": corrupt.Err.Error()})
		c.evict(ctx, key)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	if entry.Expired(clock.Millis(c.clock.Now())) {
		c.evict(ctx, key)
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// GetAs decodes the cached value under key into a T.
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := gojson.Unmarshal(raw, &out); err != nil {
		return out, false, apperrors.Wrap(apperrors.ErrInvalid, "cached value for "+key+" has a different shape", err)
	}
	return out, true, nil
}

// evict deletes an expired or unreadable entry. A failure only leaves stale
// bytes behind, so it is logged rather than returned.
func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.store.RemoveItem(ctx, storeKey(key)); err != nil {
		c.logger.Warn("Failed to evict cache entry", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Remove deletes the entry under key. Removing a missing key is not an error.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.store.RemoveItem(ctx, storeKey(key))
}

// Keys lists cached keys, expired entries included.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, KeyPrefix)
	}
	return keys, nil
}

// Clear removes every cache entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := c.Remove(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
