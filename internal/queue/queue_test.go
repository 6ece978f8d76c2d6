package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/model"
)

func newTestTaskQueue(t *testing.T) *Queue[model.TaskItem] {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "tasks.sqlite3")}
	dbCfg.SetDefaults()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	q, err := Open[model.TaskItem](context.Background(), dbCfg, pool)
	require.NoError(t, err)
	return q
}

func TestPutGetAck(t *testing.T) {
	q := newTestTaskQueue(t)
	ctx := context.Background()

	_, err := q.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	id, err := q.Put(ctx, model.TaskItem{SourceID: 1, FunctionName: "crawl"}, model.DefaultTaskAttempts)
	require.NoError(t, err)
	assert.NotZero(t, id)

	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, "crawl", item.Payload.FunctionName)

	require.NoError(t, q.Ack(ctx, item.ID))

	_, err = q.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestNackRedelivers(t *testing.T) {
	q := newTestTaskQueue(t)
	ctx := context.Background()

	id, err := q.Put(ctx, model.TaskItem{SourceID: 1, FunctionName: "crawl"}, model.DefaultTaskAttempts)
	require.NoError(t, err)

	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, item.ID))

	redelivered, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, redelivered.ID)
}

func TestAttemptsDecrementAndDeadLetter(t *testing.T) {
	q := newTestTaskQueue(t)
	ctx := context.Background()

	id, err := q.Put(ctx, model.TaskItem{SourceID: 1, FunctionName: "crawl"}, 1)
	require.NoError(t, err)

	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)

	remaining, err := q.DecrementAttempts(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, q.AckFailed(ctx, id))

	_, err = q.Get(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestUnackRecoveryOnReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.sqlite3")
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: dbPath}
	dbCfg.SetDefaults()
	ctx := context.Background()

	pool1 := config.NewDBPool()
	q1, err := Open[model.TaskItem](ctx, dbCfg, pool1)
	require.NoError(t, err)

	_, err = q1.Put(ctx, model.TaskItem{SourceID: 1, FunctionName: "crawl"}, model.DefaultTaskAttempts)
	require.NoError(t, err)

	item, err := q1.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.NotZero(t, item.ID)
	require.NoError(t, pool1.Close())

	// Simulate a crash: the item above is still in_flight. A fresh Open
	// against the same file must recover it back to ready.
	pool2 := config.NewDBPool()
	defer pool2.Close()
	q2, err := Open[model.TaskItem](ctx, dbCfg, pool2)
	require.NoError(t, err)

	recovered, err := q2.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, item.ID, recovered.ID)
}

func TestDrainReturnsUpToMaxN(t *testing.T) {
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "indexing.sqlite3")}
	dbCfg.SetDefaults()
	pool := config.NewDBPool()
	defer pool.Close()
	ctx := context.Background()

	q, err := Open[model.IndexItem](ctx, dbCfg, pool)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := q.Put(ctx, model.IndexItem{Document: &model.Document{ExternalID: "d"}}, 0)
		require.NoError(t, err)
	}

	items, err := q.Drain(ctx, 3, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	rest, err := q.Drain(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	empty, err := q.Drain(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
