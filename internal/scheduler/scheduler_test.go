package scheduler

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

func newTestScheduler(t *testing.T) (*Scheduler, *sourcemgr.Manager) {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	st, err := store.Open(context.Background(), dbCfg, config.NewDBPool())
	require.NoError(t, err)

	taskQCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "tasks.sqlite3")}
	taskQCfg.SetDefaults()
	taskQ, err := queue.Open[model.TaskItem](context.Background(), taskQCfg, config.NewDBPool())
	require.NoError(t, err)

	classes := connector.NewRegistry()
	require.NoError(t, classes.Register(mock.New()))
	sources := sourcemgr.New(classes, st)
	require.NoError(t, sources.Bootstrap(context.Background()))

	return New(sources, taskQ), sources
}

func TestSweepEnqueuesTaskForNeverIndexedSource(t *testing.T) {
	s, sources := newTestScheduler(t)
	ctx := context.Background()

	_, err := sources.CreateSource(ctx, "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	s.sweep(ctx, false)

	depth, err := s.TaskQ.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestSweepSkipsRecentlyIndexedSourceUnlessForced(t *testing.T) {
	s, sources := newTestScheduler(t)
	ctx := context.Background()

	_, err := sources.CreateSource(ctx, "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	s.sweep(ctx, false)
	depthAfterFirst, err := s.TaskQ.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depthAfterFirst)

	s.sweep(ctx, false)
	depthAfterSecond, err := s.TaskQ.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depthAfterSecond, "second sweep within the hour must not enqueue again")

	s.sweep(ctx, true)
	depthAfterForced, err := s.TaskQ.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depthAfterForced, "forced sweep must enqueue regardless of the gate")
}

func TestTriggerCoalescesAndIsConsumedOnce(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Trigger()
	s.Trigger()

	assert.True(t, s.consumeForce())
	assert.False(t, s.consumeForce())
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.TickInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.NoError(t, err)
}
