package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Repository provides key-value operations on the kv table.
type Repository struct {
	db *sql.DB

	// Prepared statements are created on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine stored one first, use it and close ours.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const (
	queryGet    = `SELECT value FROM kv WHERE key = ?`
	queryPut    = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	queryDelete = `DELETE FROM kv WHERE key = ?`
	queryKeys   = `SELECT key FROM kv WHERE key >= ? AND key < ? ORDER BY key`
	queryAll    = `SELECT key FROM kv ORDER BY key`
)

// Get returns the value stored under key. ok is false when no row exists.
func (r *Repository) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	stmt, err := r.PrepareStmt(ctx, queryGet)
	if err != nil {
		return nil, false, err
	}
	if err := stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts value under key. The write is committed before Put returns.
func (r *Repository) Put(ctx context.Context, key string, value []byte) error {
	stmt, err := r.PrepareStmt(ctx, queryPut)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := stmt.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *Repository) Delete(ctx context.Context, key string) error {
	stmt, err := r.PrepareStmt(ctx, queryDelete)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys starting with prefix, sorted.
func (r *Repository) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = r.db.QueryContext(ctx, queryAll)
	} else {
		rows, err = r.db.QueryContext(ctx, queryKeys, prefix, prefixUpperBound(prefix))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		// guards against prefixes whose upper bound could not be computed
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string with prefix.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	// all 0xff: no finite bound, fall back to a bound that sorts after any key
	return prefix + "\xff\xff\xff\xff"
}
