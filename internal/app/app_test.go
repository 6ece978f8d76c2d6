package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/mlclients"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DataDir: t.TempDir(),
		HTTP:    config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Database = filepath.Join(cfg.DataDir, "db.sqlite3")

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.pipeline)
	assert.NotNil(t, a.api)
	assert.NotNil(t, a.pool)
	assert.NotNil(t, a.indexer)
	assert.NotNil(t, a.scheduler)
}

func TestRunStopsCleanlyOnContextCancellation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Database = filepath.Join(cfg.DataDir, "db.sqlite3")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Worker.PoolSize = 1

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = a.Run(ctx)
	assert.NoError(t, err)
}

// markerEmbedder is a distinguishable stand-in for a real model client,
// used only to prove WithEmbedder actually reaches the query pipeline
// and indexer rather than being silently ignored in favor of the stub.
type markerEmbedder struct{ mlclients.Embedder }

func TestNewWithEmbedderOverridesTheStubDefault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Database = filepath.Join(cfg.DataDir, "db.sqlite3")

	marker := &markerEmbedder{Embedder: mlclients.NewStubEmbedder(cfg.Vector.Dimension)}

	a, err := New(context.Background(), cfg, WithEmbedder(marker))
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, marker, a.pipeline.Embedder)
	assert.Same(t, marker, a.indexer.Embedder)
}

func TestServeHTTPReturnsOnContextCancellation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Database = filepath.Join(cfg.DataDir, "db.sqlite3")
	cfg.HTTP.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = a.serveHTTP(ctx)
	assert.NoError(t, err)
}
