package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const fileSuffix = ".rec"

// File is a Store keeping one file per key in a directory.
//
// Writes go to a temp file which is fsynced and renamed over the target, so a
// record is either the old or the new value, never a partial one. An flock
// on dir/.lock serializes writers across processes sharing the directory.
type File struct {
	dir  string
	lock *flock.Flock
	mu   sync.RWMutex
}

// OpenFile opens (creating if needed) a file store rooted at dir.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("open", dir, fmt.Errorf("failed to create store directory: %w", err))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, storageErr("open", dir, err)
	}
	return &File{
		dir:  abs,
		lock: flock.New(filepath.Join(abs, ".lock")),
	}, nil
}

// path maps a key onto a file name. Keys are hex encoded so any byte is safe.
func (s *File) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+fileSuffix)
}

// GetItem implements Store.
func (s *File) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, storageErr("get", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, storageErr("get", key, err)
	}
	return data, true, nil
}

// SetItem implements Store.
func (s *File) SetItem(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return storageErr("set", key, err)
	}
	return s.withLock(func() error {
		target := s.path(key)
		tmp, err := os.CreateTemp(s.dir, ".tmp-*")
		if err != nil {
			return storageErr("set", key, err)
		}
		tmpPath := tmp.Name()
		cleanup := func(err error) error {
			tmp.Close()
			os.Remove(tmpPath)
			return storageErr("set", key, err)
		}
		if _, err := tmp.Write(value); err != nil {
			return cleanup(err)
		}
		if err := tmp.Sync(); err != nil {
			return cleanup(err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return storageErr("set", key, err)
		}
		if err := os.Rename(tmpPath, target); err != nil {
			os.Remove(tmpPath)
			return storageErr("set", key, err)
		}
		return syncDir(s.dir)
	})
}

// RemoveItem implements Store.
func (s *File) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("remove", key, err)
	}
	return s.withLock(func() error {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storageErr("remove", key, err)
		}
		return syncDir(s.dir)
	})
}

// Keys implements Store.
func (s *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("keys", prefix, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storageErr("keys", prefix, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		if k := string(raw); strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *File) Close() error {
	return s.lock.Close()
}

// withLock runs fn holding both the in-process and the cross-process lock.
func (s *File) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return storageErr("lock", s.dir, err)
	}
	defer s.lock.Unlock()
	return fn()
}

// syncDir flushes directory metadata so renames and removals are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return storageErr("sync", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return storageErr("sync", dir, err)
	}
	return nil
}
