package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuallab/labsync/internal/config"
	apperrors "github.com/virtuallab/labsync/internal/errors"
)

type backend struct {
	name string
	// open returns a store; reopen returns a fresh handle over the same data.
	open func(t *testing.T) (s Store, reopen func() Store)
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) (Store, func() Store) {
			m := NewMemory()
			return m, func() Store { return m }
		}},
		{"sqlite", func(t *testing.T) (Store, func() Store) {
			path := filepath.Join(t.TempDir(), "labsync.db")
			s, err := OpenSQLite(path)
			require.NoError(t, err)
			return s, func() Store {
				s.Close()
				again, err := OpenSQLite(path)
				require.NoError(t, err)
				t.Cleanup(func() { again.Close() })
				return again
			}
		}},
		{"file", func(t *testing.T) (Store, func() Store) {
			dir := filepath.Join(t.TempDir(), "kv")
			s, err := OpenFile(dir)
			require.NoError(t, err)
			return s, func() Store {
				s.Close()
				again, err := OpenFile(dir)
				require.NoError(t, err)
				t.Cleanup(func() { again.Close() })
				return again
			}
		}},
	}
}

func TestStore_Conformance(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s, reopen := b.open(t)

			_, ok, err := s.GetItem(ctx, "queue:pending")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetItem(ctx, "queue:pending", []byte(`[1,2]`)))
			require.NoError(t, s.SetItem(ctx, "cache:quiz/m1", []byte(`{}`)))
			require.NoError(t, s.SetItem(ctx, "cache:modules", []byte(`[]`)))
			require.NoError(t, s.SetItem(ctx, "config:offlineMode", []byte(`true`)))

			keys, err := s.Keys(ctx, "cache:")
			require.NoError(t, err)
			assert.Equal(t, []string{"cache:modules", "cache:quiz/m1"}, keys)

			require.NoError(t, s.RemoveItem(ctx, "cache:modules"))
			require.NoError(t, s.RemoveItem(ctx, "cache:modules"), "remove is idempotent")

			// survives a reopen
			s = reopen()
			got, ok, err := s.GetItem(ctx, "queue:pending")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `[1,2]`, string(got))

			keys, err = s.Keys(ctx, "cache:")
			require.NoError(t, err)
			assert.Equal(t, []string{"cache:quiz/m1"}, keys)
		})
	}
}

func TestMemory_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("disk unavailable")

	m.SetFailures(nil, boom)
	err := m.SetItem(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.ErrorIs(t, err, boom)

	m.SetFailures(boom, nil)
	_, _, err = m.GetItem(ctx, "k")
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	m.SetFailures(nil, nil)
	require.NoError(t, m.SetItem(ctx, "k", []byte("v")))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, SetJSON(ctx, m, "r", record{Name: "a", Count: 2}))

	var got record
	ok, err := GetJSON(ctx, m, "r", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record{Name: "a", Count: 2}, got)

	ok, err = GetJSON(ctx, m, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetItem(ctx, "bad", []byte("{not json")))
	ok, err = GetJSON(ctx, m, "bad", &got)
	assert.True(t, ok)
	require.Error(t, err)
	var corrupt *CorruptError
	assert.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "bad", corrupt.Key)
}

func TestOpen_SelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	cfg.Store.Backend = config.BackendMemory
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Store.Backend = config.BackendFile
	s, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)
	s.Close()

	cfg.Store.Backend = config.BackendSQLite
	s, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	s.Close()

	cfg.Store.Backend = "etcd"
	_, err = Open(cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}
