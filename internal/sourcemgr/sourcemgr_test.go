package sourcemgr

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
	"github.com/kadirpekel/corpussearch/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	st, err := store.Open(context.Background(), dbCfg, pool)
	require.NoError(t, err)

	classes := connector.NewRegistry()
	require.NoError(t, classes.Register(mock.New()))

	m := New(classes, st)
	require.NoError(t, m.Bootstrap(context.Background()))
	return m
}

func TestBootstrapUpsertsSourceTypes(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.GetClass("mock")
	require.True(t, ok)
}

func TestCreateSourceRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSource(context.Background(), "mock", map[string]string{})
	require.Error(t, err)
}

func TestCreateAndGetInstance(t *testing.T) {
	m := newTestManager(t)
	inst, err := m.CreateSource(context.Background(), "mock", map[string]string{"token": "T"})
	require.NoError(t, err)
	assert.NotZero(t, inst.SourceID)

	got, ok := m.GetInstance(inst.SourceID)
	require.True(t, ok)
	assert.Equal(t, inst.SourceID, got.SourceID)
	assert.Len(t, m.ListInstances(), 1)
}

func TestDeleteSourceForgetsInstance(t *testing.T) {
	m := newTestManager(t)
	inst, err := m.CreateSource(context.Background(), "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteSource(context.Background(), inst.SourceID, nil))
	_, ok := m.GetInstance(inst.SourceID)
	assert.False(t, ok)
}

func TestIndexGuardsAgainstThrashing(t *testing.T) {
	m := newTestManager(t)
	inst, err := m.CreateSource(context.Background(), "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	calls := 0
	dispatch := func(_ context.Context, _ *Instance, _ time.Time) error {
		calls++
		return nil
	}

	require.NoError(t, m.Index(context.Background(), inst.SourceID, false, dispatch))
	assert.Equal(t, 1, calls)

	// Second call within the hour, not forced: should be a no-op.
	require.NoError(t, m.Index(context.Background(), inst.SourceID, false, dispatch))
	assert.Equal(t, 1, calls)

	// force=true always runs.
	require.NoError(t, m.Index(context.Background(), inst.SourceID, true, dispatch))
	assert.Equal(t, 2, calls)
	assert.WithinDuration(t, time.Now(), inst.GetLastIndexedAt(), time.Minute)
}

// TestIndexPassesPriorLastIndexedAtNotTheFreshStamp guards against the
// bug where dispatch saw the Instance's just-written last_indexed_at
// (effectively "now") instead of the value from before this run, which
// would make every connector's incremental filter skip documents dated
// before the run that is supposed to discover them.
func TestIndexPassesPriorLastIndexedAtNotTheFreshStamp(t *testing.T) {
	m := newTestManager(t)
	inst, err := m.CreateSource(context.Background(), "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	priorLastIndexedAt := inst.GetLastIndexedAt()

	var observedAsOf time.Time
	dispatch := func(_ context.Context, _ *Instance, asOf time.Time) error {
		observedAsOf = asOf
		return nil
	}

	require.NoError(t, m.Index(context.Background(), inst.SourceID, true, dispatch))

	assert.Equal(t, priorLastIndexedAt, observedAsOf)
	assert.NotEqual(t, inst.GetLastIndexedAt(), observedAsOf)
}
