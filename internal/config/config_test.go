package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "chromem", cfg.Vector.Backend)
	assert.Equal(t, 384, cfg.Vector.Dimension)
	assert.Equal(t, 20, cfg.Worker.PoolSize)
	assert.Equal(t, 5000, cfg.Indexer.MaxBatchDocs)
	assert.Equal(t, 256, cfg.Indexer.MinChunkLength)
	assert.Equal(t, "data/db.sqlite3", cfg.Store.Database)
	assert.Equal(t, "data/bm25_index.bin", cfg.Lexical.Path)
}

func TestConfigValidateRejectsBadVectorBackend(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Vector.Backend = "pinecone"
	require.Error(t, cfg.Validate())
}

func TestRecallWidths(t *testing.T) {
	cpu := SearchConfig{GPU: false}
	kd, kl := cpu.RecallWidths()
	assert.Equal(t, 20, kd)
	assert.Equal(t, 20, kl)

	gpu := SearchConfig{GPU: true}
	kd, kl = gpu.RecallWidths()
	assert.Equal(t, 60, kd)
	assert.Equal(t, 100, kl)
}
