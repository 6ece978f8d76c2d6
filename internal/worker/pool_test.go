package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/connectors/mock"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
	"github.com/kadirpekel/corpussearch/internal/store"
)

func newTestPool(t *testing.T) (*Pool, *sourcemgr.Manager) {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	st, err := store.Open(context.Background(), dbCfg, pool)
	require.NoError(t, err)

	taskQCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "tasks.sqlite3")}
	taskQCfg.SetDefaults()
	taskQ, err := queue.Open[model.TaskItem](context.Background(), taskQCfg, config.NewDBPool())
	require.NoError(t, err)

	indexQCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "indexing.sqlite3")}
	indexQCfg.SetDefaults()
	indexQ, err := queue.Open[model.IndexItem](context.Background(), indexQCfg, config.NewDBPool())
	require.NoError(t, err)

	classes := connector.NewRegistry()
	require.NoError(t, classes.Register(mock.New()))
	sources := sourcemgr.New(classes, st)
	require.NoError(t, sources.Bootstrap(context.Background()))

	p := &Pool{Size: 2, TaskQ: taskQ, IndexQ: indexQ, Sources: sources, GetTimeout: 100 * time.Millisecond}
	return p, sources
}

func TestWorkerProcessesTaskAndEmitsDocuments(t *testing.T) {
	p, sources := newTestPool(t)
	ctx := context.Background()

	inst, err := sources.CreateSource(ctx, "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	_, err = p.TaskQ.Put(ctx, model.TaskItem{SourceID: inst.SourceID, FunctionName: "feed_new_documents"}, model.DefaultTaskAttempts)
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go p.Run(runCtx)

	require.Eventually(t, func() bool {
		depth, err := p.IndexQ.Depth(ctx)
		return err == nil && depth == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(2), inst.IndexedDocs.Load())
}

// TestCreateSourceIndexWorkerEndToEndEmitsPreExistingDocuments drives the
// real CreateSource -> Manager.Index(force=true) -> worker sequence (the
// path a POST /data-sources request actually takes), rather than Putting
// the feed_new_documents task directly onto TaskQ. A newly created source
// has never been indexed, so both of mock's seed documents (dated 2024)
// must be emitted on this first forced crawl; regresses the bug where the
// worker built its Runtime from the Instance's live last_indexed_at
// (already stamped to now by Index) instead of the value from before the
// run, which made every seed look older than the cutoff and emit nothing.
func TestCreateSourceIndexWorkerEndToEndEmitsPreExistingDocuments(t *testing.T) {
	p, sources := newTestPool(t)
	ctx := context.Background()

	inst, err := sources.CreateSource(ctx, "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	require.NoError(t, sources.Index(ctx, inst.SourceID, true, func(ctx context.Context, inst *sourcemgr.Instance, asOf time.Time) error {
		_, err := p.TaskQ.Put(ctx, model.TaskItem{
			SourceID: inst.SourceID, FunctionName: "feed_new_documents", AsOf: asOf,
		}, model.DefaultTaskAttempts)
		return err
	}))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go p.Run(runCtx)

	require.Eventually(t, func() bool {
		depth, err := p.IndexQ.Depth(ctx)
		return err == nil && depth == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(2), inst.IndexedDocs.Load())
}

func TestWorkerDeadLettersAfterRetriesExhausted(t *testing.T) {
	p, sources := newTestPool(t)
	ctx := context.Background()

	inst, err := sources.CreateSource(ctx, "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	_, err = p.TaskQ.Put(ctx, model.TaskItem{SourceID: inst.SourceID, FunctionName: "bogus_method"}, 1)
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go p.Run(runCtx)

	require.Eventually(t, func() bool {
		depth, err := p.TaskQ.Depth(ctx)
		return err == nil && depth == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), inst.FailedTasks.Load())
}
