// Package store provides the durable key-value byte store the sync core
// persists its cache entries, queue and settings into.
//
// Every backend writes through before returning: once SetItem or RemoveItem
// returns nil, the change survives a process restart.
package store

import (
	"context"

	"github.com/virtuallab/labsync/internal/config"
	apperrors "github.com/virtuallab/labsync/internal/errors"
)

// Store is a crash-durable key-value byte store.
type Store interface {
	// GetItem returns the bytes stored under key; ok is false when absent.
	GetItem(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Keys lists the keys that start with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the resources held by the store.
	Close() error
}

// Open creates the store selected by cfg.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return OpenSQLite(cfg.StorePath())
	case config.BackendFile:
		return OpenFile(cfg.StorePath())
	case config.BackendMemory:
		return NewMemory(), nil
	}
	return nil, apperrors.Newf(apperrors.ErrConfig, "unknown store backend %q", cfg.Store.Backend)
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.Is(err, apperrors.ErrStorage) {
		return err
	}
	msg := op
	if key != "" {
		msg = op + " " + key
	}
	return apperrors.Wrap(apperrors.ErrStorage, msg, err)
}
