package store

import (
	"context"

	"github.com/virtuallab/labsync/internal/db"
)

// SQLite is a Store backed by the kv table of a SQLite database.
type SQLite struct {
	db   *db.DB
	repo *db.Repository
}

// OpenSQLite opens the SQLite database at path.
func OpenSQLite(path string) (*SQLite, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, storageErr("open", path, err)
	}
	return &SQLite{db: database, repo: db.NewRepository(database.DB)}, nil
}

// GetItem implements Store.
func (s *SQLite) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.repo.Get(ctx, key)
	return v, ok, storageErr("get", key, err)
}

// SetItem implements Store.
func (s *SQLite) SetItem(ctx context.Context, key string, value []byte) error {
	return storageErr("set", key, s.repo.Put(ctx, key, value))
}

// RemoveItem implements Store.
func (s *SQLite) RemoveItem(ctx context.Context, key string) error {
	return storageErr("remove", key, s.repo.Delete(ctx, key))
}

// Keys implements Store.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.repo.Keys(ctx, prefix)
	return keys, storageErr("keys", prefix, err)
}

// Close implements Store.
func (s *SQLite) Close() error {
	s.repo.Close()
	return s.db.Close()
}
