package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuallab/labsync/internal/clock"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/models"
	"github.com/virtuallab/labsync/internal/store"
	"github.com/virtuallab/labsync/internal/uuid"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestQueue(s store.Store, clk clock.Clock) *Queue {
	return New(s, WithClock(clk), WithIDGenerator(uuid.Sequence("act")), WithLogger(logging.Discard()))
}

func kinds(actions []models.QueuedAction) []models.ActionKind {
	out := make([]models.ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

// TestQueueEnqueue verifies a new action starts with retryCount 0 and a stamp.
func TestQueueEnqueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(store.NewMemory(), clock.NewManual(epoch))

	id, err := q.Enqueue(ctx, models.KindUpdateProgress, models.ProgressUpdate{ModuleID: "m1", Progress: 50})
	require.NoError(t, err)
	assert.Equal(t, "act-0001", id)

	got, ok, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KindUpdateProgress, got.Kind)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, epoch.UnixMilli(), got.EnqueuedAt)

	var payload models.ProgressUpdate
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "m1", payload.ModuleID)
	assert.Equal(t, 50, payload.Progress)
}

// TestQueueFIFO verifies List returns actions in enqueue order.
func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	q := newTestQueue(store.NewMemory(), clk)

	for _, k := range []models.ActionKind{models.KindSubmitQuizResult, models.KindUpdateProgress, models.KindSaveSimulationRun} {
		_, err := q.Enqueue(ctx, k, json.RawMessage(`{}`))
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	actions, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ActionKind{models.KindSubmitQuizResult, models.KindUpdateProgress, models.KindSaveSimulationRun}, kinds(actions))
}

// TestQueueDurability verifies the list survives a restart of the process.
func TestQueueDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labsync.db")

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	q := New(s, WithLogger(logging.Discard()))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, models.KindUpdateProgress, map[string]int{"progress": i * 10})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	before, err := q.List(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	after, err := New(s, WithLogger(logging.Discard())).List(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	for i, a := range after {
		assert.Equal(t, ids[i], a.ID)
		assert.True(t, uuid.IsOrdered(a.ID))
	}
}

// TestQueueRemove verifies removal is idempotent and keeps order.
func TestQueueRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(store.NewMemory(), clock.NewManual(epoch))

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	removed, err := q.Remove(ctx, "act-0002")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "act-0002")
	require.NoError(t, err)
	assert.False(t, removed)

	actions, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "act-0001", actions[0].ID)
	assert.Equal(t, "act-0003", actions[1].ID)
}

// TestQueueReplaceAllAndClear verifies whole-list overwrite.
func TestQueueReplaceAllAndClear(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(store.NewMemory(), clock.NewManual(epoch))

	_, err := q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
	require.NoError(t, err)

	replacement := []models.QueuedAction{
		{ID: "x", Kind: models.KindSubmitQuizResult, Payload: json.RawMessage(`{}`), RetryCount: 2},
	}
	require.NoError(t, q.ReplaceAll(ctx, replacement))

	actions, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, actions)

	n, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestQueueUpdateSeesConcurrentEnqueues verifies Update is a single
// read-modify-write that never loses an enqueue.
func TestQueueUpdateSeesConcurrentEnqueues(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemory(), WithLogger(logging.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Update(ctx, func(cur []models.QueuedAction) []models.QueuedAction { return cur }))
		}()
	}
	wg.Wait()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

// TestQueueInvalidInput verifies argument validation.
func TestQueueInvalidInput(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(store.NewMemory(), clock.NewManual(epoch))

	_, err := q.Enqueue(ctx, "", json.RawMessage(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{broken`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestQueueStorageFailure verifies a failed write is reported and not applied.
func TestQueueStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	q := newTestQueue(mem, clock.NewManual(epoch))

	mem.SetFailures(nil, errors.New("disk full"))
	_, err := q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	mem.SetFailures(nil, nil)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestQueueCorruptRecord verifies a damaged queue record is surfaced, not
// silently replaced with an empty list.
func TestQueueCorruptRecord(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SetItem(ctx, Key, []byte(`[{"id":`)))

	q := newTestQueue(mem, clock.NewManual(epoch))
	_, err := q.List(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	_, err = q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
	assert.Error(t, err)
}

// TestQueueStats verifies the summary counts.
func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	q := newTestQueue(store.NewMemory(), clk)

	_, _ = q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
	clk.Advance(time.Second)
	_, _ = q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{}`))
	_, _ = q.Enqueue(ctx, models.KindSubmitQuizResult, json.RawMessage(`{}`))
	require.NoError(t, q.Update(ctx, func(cur []models.QueuedAction) []models.QueuedAction {
		cur[1].RetryCount = 2
		return cur
	}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByKind[models.KindUpdateProgress])
	assert.Equal(t, 1, stats.ByKind[models.KindSubmitQuizResult])
	assert.Equal(t, 1, stats.Retrying)
	assert.Equal(t, epoch.UnixMilli(), stats.OldestEnqueuedAt)
}

// TestBackoff verifies exponential growth and the cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{-1, 30 * time.Second},
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{5, 16 * time.Minute},
		{6, 30 * time.Minute},
		{63, 30 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.n, 30*time.Second, 30*time.Minute), "n=%d", tt.n)
	}
}

// TestQueuePersistedLayout pins the on-disk shape of queue:pending.
func TestQueuePersistedLayout(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	clk := clock.NewManual(epoch)
	q := newTestQueue(mem, clk)

	_, err := q.Enqueue(ctx, models.KindUpdateProgress, json.RawMessage(`{"moduleId":"m1","progress":50}`))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.KindSubmitQuizResult, json.RawMessage(`{"quizId":"q7","score":8}`))
	require.NoError(t, err)
	require.NoError(t, q.Update(ctx, func(cur []models.QueuedAction) []models.QueuedAction {
		cur[1].RetryCount = 1
		return cur
	}))

	raw, ok, err := mem.GetItem(ctx, Key)
	require.NoError(t, err)
	require.True(t, ok)

	var pretty bytes.Buffer
	require.NoError(t, json.Indent(&pretty, raw, "", "  "))

	g := goldie.New(t)
	g.Assert(t, "queue_pending", pretty.Bytes())
}
