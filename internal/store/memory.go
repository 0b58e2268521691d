package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It is durable only for the lifetime of the
// value, which is what tests simulating a restart need: reopen the sync core
// over the same Memory.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte

	failReads  error
	failWrites error
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// GetItem implements Store.
func (m *Memory) GetItem(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failReads != nil {
		return nil, false, storageErr("get", key, m.failReads)
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// SetItem implements Store.
func (m *Memory) SetItem(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return storageErr("set", key, m.failWrites)
	}
	m.items[key] = append([]byte(nil), value...)
	return nil
}

// RemoveItem implements Store.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return storageErr("remove", key, m.failWrites)
	}
	delete(m.items, key)
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failReads != nil {
		return nil, storageErr("keys", prefix, m.failReads)
	}
	var keys []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// SetFailures makes subsequent reads and writes fail with the given errors.
// Pass nil to clear.
func (m *Memory) SetFailures(reads, writes error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = reads
	m.failWrites = writes
}
