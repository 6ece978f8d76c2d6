// Package worker implements the fixed-size worker pool (C6): each worker
// pulls a TaskItem off TaskQ, resolves the owning connector instance,
// dispatches the named method, and acks/nacks/dead-letters based on the
// outcome. Shutdown is coordinated with golang.org/x/sync/errgroup,
// grounded on the teacher's workflowagent.NewParallel fan-out style
// (pkg/agent/workflowagent/parallel.go).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
)

// DefaultPoolSize is the worker count used when config leaves it unset.
const DefaultPoolSize = 20

// DefaultGetTimeout bounds how long a worker blocks on an empty TaskQ
// before re-checking the shutdown signal.
const DefaultGetTimeout = 2 * time.Second

// Pool is a fixed-size set of interchangeable workers draining TaskQ.
type Pool struct {
	Size       int
	TaskQ      *queue.Queue[model.TaskItem]
	IndexQ     *queue.Queue[model.IndexItem]
	Sources    *sourcemgr.Manager
	Metrics    *telemetry.Metrics
	GetTimeout time.Duration
}

// Run launches Size workers and blocks until ctx is cancelled or a worker
// returns a non-recoverable error. Each worker's per-task failures never
// escape the loop; only ctx cancellation ends Run.
func (p *Pool) Run(ctx context.Context) error {
	size := p.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	timeout := p.GetTimeout
	if timeout <= 0 {
		timeout = DefaultGetTimeout
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(ctx, workerID, timeout)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int, timeout time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		item, err := p.TaskQ.Get(ctx, timeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("worker: TaskQ.Get failed", "worker", workerID, "error", err)
			continue
		}

		p.process(ctx, workerID, item)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, item *queue.Item[model.TaskItem]) {
	task := item.Payload

	inst, ok := p.Sources.GetInstance(task.SourceID)
	if !ok {
		slog.Warn("worker: task references unknown source, dropping", "worker", workerID, "source_id", task.SourceID)
		_ = p.TaskQ.Ack(ctx, item.ID)
		return
	}

	class, ok := p.Sources.GetClass(inst.TypeName)
	if !ok {
		slog.Error("worker: task references unknown connector class, dropping", "worker", workerID, "type", inst.TypeName)
		_ = p.TaskQ.Ack(ctx, item.ID)
		return
	}

	// task.AsOf is the source's last_indexed_at from before this crawl run
	// was stamped (set by sourcemgr.Manager.Index); the connector filters
	// against it, not against inst's live value, which Index has already
	// advanced to now by the time this task is processed. Follow-up tasks
	// a connector self-enqueues carry the same AsOf, so every dispatch in
	// one crawl run sees the same incremental-filter boundary.
	rt := connector.NewRuntime(inst.SourceID, inst.Config, task.AsOf, inst.Limiter,
		func(methodName string, kwargs map[string]string) {
			if _, err := p.TaskQ.Put(ctx, model.TaskItem{
				SourceID: inst.SourceID, FunctionName: methodName, Kwargs: kwargs, AsOf: task.AsOf,
			}, model.DefaultTaskAttempts); err != nil {
				slog.Error("worker: failed to enqueue follow-up task", "source_id", inst.SourceID, "method", methodName, "error", err)
			}
		},
		func(doc *model.Document) {
			doc.SourceID = inst.SourceID
			if _, err := p.IndexQ.Put(ctx, model.IndexItem{Document: doc}, 0); err != nil {
				slog.Error("worker: failed to enqueue document for indexing", "source_id", inst.SourceID, "error", err)
				return
			}
			inst.IndexedDocs.Add(1)
		},
	)

	dispatchErr := class.Dispatch(ctx, rt, task.FunctionName, task.Kwargs)
	if dispatchErr == nil {
		if p.Metrics != nil {
			p.Metrics.TasksAcked.Inc()
		}
		_ = p.TaskQ.Ack(ctx, item.ID)
		return
	}

	slog.Warn("worker: task dispatch failed", "worker", workerID, "source_id", task.SourceID,
		"method", task.FunctionName, "error", dispatchErr)

	remaining, err := p.TaskQ.DecrementAttempts(ctx, item.ID)
	if err != nil {
		slog.Error("worker: failed to decrement attempts, dead-lettering", "error", err)
		remaining = 0
	}

	if remaining > 0 {
		if p.Metrics != nil {
			p.Metrics.TasksNacked.Inc()
		}
		_ = p.TaskQ.Nack(ctx, item.ID)
		return
	}

	inst.FailedTasks.Add(1)
	if p.Metrics != nil {
		p.Metrics.TasksDeadLettered.Inc()
	}
	_ = p.TaskQ.AckFailed(ctx, item.ID)
}
