// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root configuration for the search backend.
type Config struct {
	// DataDir holds the persisted state described in spec §6: db.sqlite3,
	// tasks.sqlite3, indexing.sqlite3, vector_index.bin, bm25_index.bin, .uuid.
	DataDir string `yaml:"data_dir,omitempty"`

	Store     DatabaseConfig  `yaml:"store,omitempty"`
	TaskQ     QueueConfig     `yaml:"task_queue,omitempty"`
	IndexQ    QueueConfig     `yaml:"index_queue,omitempty"`
	Vector    VectorConfig    `yaml:"vector,omitempty"`
	Lexical   LexicalConfig   `yaml:"lexical,omitempty"`
	Worker    WorkerConfig    `yaml:"worker,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	HTTP      HTTPConfig      `yaml:"http,omitempty"`
	Logger    LoggerConfig    `yaml:"logger,omitempty"`
}

// QueueConfig configures one of the two durable queues (C3).
type QueueConfig struct {
	// Path is the SQLite file backing this queue. Empty means a default
	// file under DataDir; a non-empty path is used as given.
	Path string `yaml:"path,omitempty"`
}

// VectorConfig selects and configures the vector index backend (C8).
type VectorConfig struct {
	// Backend is "chromem" (default, embeddable) or "qdrant" (external).
	Backend string `yaml:"backend,omitempty"`
	// Path is the persisted chromem file. Empty means
	// {DataDir}/vector_index.bin; a non-empty path is used as given.
	Path string `yaml:"path,omitempty"`
	// Dimension is the embedding size; spec mandates 384.
	Dimension int `yaml:"dimension,omitempty"`

	QdrantHost   string `yaml:"qdrant_host,omitempty"`
	QdrantPort   int    `yaml:"qdrant_port,omitempty"`
	QdrantAPIKey string `yaml:"qdrant_api_key,omitempty"`
	QdrantUseTLS bool   `yaml:"qdrant_use_tls,omitempty"`
}

// LexicalConfig configures the lexical index's persisted blob (C7).
type LexicalConfig struct {
	// Path is the gob-encoded index blob. Empty means
	// {DataDir}/bm25_index.bin; a non-empty path is used as given. Loaded on
	// startup as a fast path ahead of the authoritative store rebuild, and
	// overwritten after every full Rebuild.
	Path string `yaml:"path,omitempty"`
}

// WorkerConfig configures the worker pool (C6).
type WorkerConfig struct {
	// PoolSize is the fixed number of worker goroutines. Default 20 per spec.
	PoolSize int `yaml:"pool_size,omitempty"`
	// GetTimeout bounds how long a worker blocks on TaskQ.get before
	// checking the shutdown signal again.
	GetTimeout time.Duration `yaml:"get_timeout,omitempty"`
}

// SchedulerConfig configures the periodic re-index scheduler (C11).
type SchedulerConfig struct {
	// TickInterval is how often the scheduler wakes. Default 1 minute.
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`
	// ReindexInterval defaults to 1 hour. The "don't re-index too often"
	// gate does not read it; it always applies connector.MinReindexInterval
	// (1 hour).
	ReindexInterval time.Duration `yaml:"reindex_interval,omitempty"`
}

// IndexerConfig configures the batch indexer (C9).
type IndexerConfig struct {
	// MaxBatchDocs bounds how many IndexQ items are drained per cycle.
	MaxBatchDocs int `yaml:"max_batch_docs,omitempty"`
	// DrainTimeout bounds how long the indexer blocks waiting for at
	// least one ready item.
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
	// MinChunkLength is the paragraph-merge threshold from spec §3 (~256).
	MinChunkLength int `yaml:"min_chunk_length,omitempty"`
}

// SearchConfig configures the query pipeline (C10).
type SearchConfig struct {
	// GPU selects the Kd/Kl recall widths: wider on GPU, narrower on CPU.
	GPU bool `yaml:"gpu,omitempty"`
}

// HTTPConfig configures the external HTTP surface (§6), which is otherwise
// out of scope: only the listen address belongs to this component.
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// SetDefaults applies defaults across the whole config tree.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	c.Store.SetDefaults()
	if c.Store.Database == "" || c.Store.Database == "db.sqlite3" {
		c.Store.Database = filepath.Join(c.DataDir, "db.sqlite3")
	}

	if c.TaskQ.Path == "" {
		c.TaskQ.Path = filepath.Join(c.DataDir, "tasks.sqlite3")
	}
	if c.IndexQ.Path == "" {
		c.IndexQ.Path = filepath.Join(c.DataDir, "indexing.sqlite3")
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = "chromem"
	}
	if c.Vector.Path == "" {
		c.Vector.Path = filepath.Join(c.DataDir, "vector_index.bin")
	}
	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = 384
	}
	if c.Vector.QdrantPort == 0 {
		c.Vector.QdrantPort = 6334
	}

	if c.Lexical.Path == "" {
		c.Lexical.Path = filepath.Join(c.DataDir, "bm25_index.bin")
	}

	if c.Worker.PoolSize == 0 {
		c.Worker.PoolSize = 20
	}
	if c.Worker.GetTimeout == 0 {
		c.Worker.GetTimeout = 5 * time.Second
	}

	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = time.Minute
	}
	if c.Scheduler.ReindexInterval == 0 {
		c.Scheduler.ReindexInterval = time.Hour
	}

	if c.Indexer.MaxBatchDocs == 0 {
		c.Indexer.MaxBatchDocs = 5000
	}
	if c.Indexer.DrainTimeout == 0 {
		c.Indexer.DrainTimeout = time.Second
	}
	if c.Indexer.MinChunkLength == 0 {
		c.Indexer.MinChunkLength = 256
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	c.Logger.SetDefaults()
}

// Validate checks the whole config tree.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Vector.Backend != "chromem" && c.Vector.Backend != "qdrant" {
		return fmt.Errorf("vector.backend must be chromem or qdrant, got %q", c.Vector.Backend)
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector.dimension must be positive")
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive")
	}
	if c.Indexer.MaxBatchDocs <= 0 {
		return fmt.Errorf("indexer.max_batch_docs must be positive")
	}
	if c.Indexer.MinChunkLength <= 0 {
		return fmt.Errorf("indexer.min_chunk_length must be positive")
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	return nil
}

// RecallWidths returns (Kd, Kl), the dense and lexical recall widths
// per spec §4.9, chosen by the GPU flag.
func (c *SearchConfig) RecallWidths() (kd, kl int) {
	if c.GPU {
		return 60, 100
	}
	return 20, 20
}
