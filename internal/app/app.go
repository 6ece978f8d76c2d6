// Package app wires every component (C1-C12) into one running daemon:
// the store, both durable queues, the vector and lexical indexes, the
// connector registry, the worker pool, the batch indexer, the periodic
// scheduler, the query pipeline and the HTTP surface. Grounded on the
// teacher's cmd/hector/serve.go construct-then-run shape, adapted from
// its agent-registry wiring to this system's source/queue/index wiring,
// and on pkg/agent/workflowagent/parallel.go's errgroup-coordinated
// concurrent run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/connectors/confluence"
	"github.com/kadirpekel/corpussearch/internal/connectors/mock"
	"github.com/kadirpekel/corpussearch/internal/httpapi"
	"github.com/kadirpekel/corpussearch/internal/indexer"
	"github.com/kadirpekel/corpussearch/internal/lexical"
	"github.com/kadirpekel/corpussearch/internal/mlclients"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/query"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/scheduler"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
	"github.com/kadirpekel/corpussearch/internal/store"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
	"github.com/kadirpekel/corpussearch/internal/vectorindex"
	"github.com/kadirpekel/corpussearch/internal/worker"
)

// MetricsNamespace is the Prometheus namespace every instrument is
// registered under.
const MetricsNamespace = "corpussearch"

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish during graceful shutdown.
const shutdownGrace = 10 * time.Second

// Application owns every long-lived component and coordinates their
// startup, concurrent run, and shutdown.
type Application struct {
	cfg *config.Config

	dbPool  *config.DBPool
	store   *store.Store
	taskQ   *queue.Queue[model.TaskItem]
	indexQ  *queue.Queue[model.IndexItem]
	vector  vectorindex.Backend
	lexical *lexical.Index
	metrics *telemetry.Metrics

	sources   *sourcemgr.Manager
	pool      *worker.Pool
	indexer   *indexer.Indexer
	scheduler *scheduler.Scheduler
	pipeline  *query.Pipeline
	api       *httpapi.API

	httpServer *http.Server
}

// Option configures the model clients an Application wires into its
// query pipeline and indexer, overriding the deterministic stub default.
// Mirrors the teacher's functional-option Option/WithXxx pattern
// (v2/api.go's WithAnthropic/WithOpenAI/...), narrowed to this system's
// three model contracts (internal/mlclients) since §1/§4.10 treat real
// model clients as external collaborators this package never imports
// directly.
type Option func(*modelOverrides)

type modelOverrides struct {
	embedder mlclients.Embedder
	cheap    mlclients.CrossEncoder
	strong   mlclients.CrossEncoder
	qa       mlclients.QAModel
}

// WithEmbedder replaces the stub Embedder with a real model client.
func WithEmbedder(e mlclients.Embedder) Option {
	return func(o *modelOverrides) { o.embedder = e }
}

// WithCrossEncoders replaces both rerank-cascade stages (§4.9: cheap
// over the deduplicated dense+lexical recall union, strong over its
// survivors) with real
// model clients. Pass the same client twice if one model serves both.
func WithCrossEncoders(cheap, strong mlclients.CrossEncoder) Option {
	return func(o *modelOverrides) { o.cheap = cheap; o.strong = strong }
}

// WithQAModel replaces the stub extractive-QA model with a real one.
func WithQAModel(qa mlclients.QAModel) Option {
	return func(o *modelOverrides) { o.qa = qa }
}

// New constructs every component of the daemon from cfg, but performs no
// I/O beyond opening the store/queues/indexes and bootstrapping the
// source registry. Run starts the concurrent workers. Without options,
// every model contract (internal/mlclients) is served by its
// deterministic stub; pass WithEmbedder/WithCrossEncoders/WithQAModel to
// wire a real model client instead.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	overrides := &modelOverrides{}
	for _, opt := range opts {
		opt(overrides)
	}

	pool := config.NewDBPool()

	st, err := store.Open(ctx, cfg.Store, pool)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	taskQ, err := queue.Open[model.TaskItem](ctx, taskQueueConfig(cfg), pool)
	if err != nil {
		return nil, fmt.Errorf("app: open task queue: %w", err)
	}

	indexQ, err := queue.Open[model.IndexItem](ctx, indexQueueConfig(cfg), pool)
	if err != nil {
		return nil, fmt.Errorf("app: open index queue: %w", err)
	}

	vector, err := openVectorBackend(ctx, cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("app: open vector backend: %w", err)
	}

	lex := lexical.New()
	records, err := st.AllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load chunks for lexical rebuild: %w", err)
	}
	if err := loadOrRebuildLexical(lex, cfg.Lexical.Path, records); err != nil {
		return nil, fmt.Errorf("app: load lexical index: %w", err)
	}

	classes := connector.NewRegistry()
	if err := classes.Register(mock.New()); err != nil {
		return nil, fmt.Errorf("app: register mock connector: %w", err)
	}
	if err := classes.Register(confluence.New()); err != nil {
		return nil, fmt.Errorf("app: register confluence connector: %w", err)
	}

	sources := sourcemgr.New(classes, st)
	if err := sources.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("app: bootstrap source registry: %w", err)
	}

	metrics := telemetry.NewMetrics(MetricsNamespace)

	embedder := overrides.embedder
	if embedder == nil {
		embedder = mlclients.NewStubEmbedder(cfg.Vector.Dimension)
	}
	cheap, strong := overrides.cheap, overrides.strong
	if cheap == nil {
		cheap = mlclients.NewStubCrossEncoder()
	}
	if strong == nil {
		strong = mlclients.NewStubCrossEncoder()
	}
	qa := overrides.qa
	if qa == nil {
		qa = mlclients.NewStubQAModel()
	}

	kd, kl := cfg.Search.RecallWidths()
	pipeline := &query.Pipeline{
		Store:    st,
		Lexical:  lex,
		Vector:   vector,
		Embedder: embedder,
		Cheap:    cheap,
		Strong:   strong,
		QA:       qa,
		Metrics:  metrics,
		Kd:       kd,
		Kl:       kl,
	}

	idx := &indexer.Indexer{
		Store:          st,
		Lexical:        lex,
		Vector:         vector,
		Embedder:       pipeline.Embedder,
		IndexQ:         indexQ,
		Metrics:        metrics,
		LexicalPath:    cfg.Lexical.Path,
		MaxBatchDocs:   cfg.Indexer.MaxBatchDocs,
		DrainTimeout:   cfg.Indexer.DrainTimeout,
		MinChunkLength: cfg.Indexer.MinChunkLength,
	}

	workerPool := &worker.Pool{
		Size:       cfg.Worker.PoolSize,
		TaskQ:      taskQ,
		IndexQ:     indexQ,
		Sources:    sources,
		Metrics:    metrics,
		GetTimeout: cfg.Worker.GetTimeout,
	}

	sched := scheduler.New(sources, taskQ)
	sched.TickInterval = cfg.Scheduler.TickInterval

	api := &httpapi.API{
		Sources:  sources,
		Store:    st,
		TaskQ:    taskQ,
		IndexQ:   indexQ,
		Pipeline: pipeline,
		Vector:   vector,
		Metrics:  metrics,
		RebuildLexical: func(ctx context.Context) error {
			records, err := st.AllChunks(ctx)
			if err != nil {
				return err
			}
			lex.Rebuild(toLexicalRecords(records))
			if cfg.Lexical.Path != "" {
				if err := lex.Save(cfg.Lexical.Path); err != nil {
					slog.Error("app: failed to persist lexical index blob", "path", cfg.Lexical.Path, "error", err)
				}
			}
			return nil
		},
	}

	return &Application{
		cfg: cfg, dbPool: pool, store: st, taskQ: taskQ, indexQ: indexQ,
		vector: vector, lexical: lex, metrics: metrics,
		sources: sources, pool: workerPool, indexer: idx, scheduler: sched,
		pipeline: pipeline, api: api,
		httpServer: &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Router()},
	}, nil
}

// Run starts the worker pool, indexer, scheduler and HTTP server
// concurrently, and blocks until ctx is cancelled or one of them fails.
// On return, all components have been asked to stop.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.pool.Run(gctx) })
	g.Go(func() error { return a.indexer.Run(gctx) })
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return a.serveHTTP(gctx) })

	slog.Info("corpussearch daemon started", "http_addr", a.cfg.HTTP.Addr)
	err := g.Wait()
	a.Close()
	return err
}

func (a *Application) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("app: http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	}
}

// Close releases every resource opened by New. Safe to call after Run
// returns; idempotent for the database pool.
func (a *Application) Close() {
	if err := a.vector.Close(); err != nil {
		slog.Error("app: close vector backend", "error", err)
	}
	if err := a.dbPool.Close(); err != nil {
		slog.Error("app: close database pool", "error", err)
	}
}

func taskQueueConfig(cfg *config.Config) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: "sqlite", Database: cfg.TaskQ.Path}
}

func indexQueueConfig(cfg *config.Config) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: "sqlite", Database: cfg.IndexQ.Path}
}

func openVectorBackend(ctx context.Context, cfg config.VectorConfig) (vectorindex.Backend, error) {
	switch cfg.Backend {
	case "qdrant":
		return vectorindex.NewQdrantBackend(ctx, vectorindex.QdrantConfig{
			Host: cfg.QdrantHost, Port: cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey, UseTLS: cfg.QdrantUseTLS,
		})
	default:
		return vectorindex.NewChromemBackend(cfg.Path)
	}
}

// loadOrRebuildLexical tries the persisted bm25_index.bin blob (§4.6/§6)
// as a fast path on startup: if it loads and its chunk count matches the
// store's, it is trusted and the full rebuild is skipped. Otherwise
// (missing/corrupt blob, or drift against the store) it falls back to a
// full rebuild from records and immediately re-persists the blob so the
// next restart can take the fast path.
func loadOrRebuildLexical(lex *lexical.Index, path string, records []store.ChunkRecord) error {
	if path != "" {
		if err := lex.Load(path); err != nil {
			slog.Warn("app: failed to load lexical index blob, rebuilding from store", "path", path, "error", err)
		} else if lex.Size() == len(records) {
			return nil
		}
	}

	lex.Rebuild(toLexicalRecords(records))
	if path == "" {
		return nil
	}
	if err := lex.Save(path); err != nil {
		slog.Error("app: failed to persist lexical index blob", "path", path, "error", err)
	}
	return nil
}

func toLexicalRecords(chunks []store.ChunkRecord) []lexical.Record {
	records := make([]lexical.Record, len(chunks))
	for i, c := range chunks {
		records[i] = lexical.Record{
			ChunkID: c.Chunk.ID, Content: c.Chunk.Content,
			Title: c.Title, Author: c.Author, SourceTypeName: c.SourceTypeName,
		}
	}
	return records
}
