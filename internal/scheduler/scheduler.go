// Package scheduler implements the periodic re-index scheduler (C11): a
// one-minute ticker that enqueues a fresh crawl task for every Source
// whose last_indexed_at is older than the re-index gate, plus a manual
// trigger that forces every Source to re-index regardless of that gate.
// Grounded on the original implementation's BaseDataSource.index guard
// (original_source/app/data_source_api/base_data_source.py), adapted to
// go through TaskQ rather than calling the connector inline, since this
// system dispatches connector methods from the worker pool (C6).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
)

// DefaultTickInterval is how often the scheduler sweeps all Sources.
const DefaultTickInterval = time.Minute

// Scheduler periodically enqueues feed_new_documents tasks for Sources due
// for re-indexing, and exposes a manual force-trigger.
type Scheduler struct {
	Sources *sourcemgr.Manager
	TaskQ   *queue.Queue[model.TaskItem]

	TickInterval time.Duration

	// forceAll, once set by Trigger, forces every Source on the next tick
	// regardless of its re-index gate, then resets.
	forceAll chan struct{}
}

// New builds a Scheduler ready for Run.
func New(sources *sourcemgr.Manager, taskQ *queue.Queue[model.TaskItem]) *Scheduler {
	return &Scheduler{Sources: sources, TaskQ: taskQ, forceAll: make(chan struct{}, 1)}
}

// Trigger forces every registered Source to re-index on the next tick,
// bypassing the one-hour gate. Non-blocking: a pending trigger is coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.forceAll <- struct{}{}:
	default:
	}
}

// Run blocks, sweeping all Sources once per TickInterval, until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx, s.consumeForce())
		}
	}
}

func (s *Scheduler) consumeForce() bool {
	select {
	case <-s.forceAll:
		return true
	default:
		return false
	}
}

// sweep attempts to re-index every registered Source; each Source's
// internal ShouldIndex gate (sourcemgr.Manager.Index) decides whether this
// particular sweep actually does anything for it.
func (s *Scheduler) sweep(ctx context.Context, force bool) {
	for _, inst := range s.Sources.ListInstances() {
		err := s.Sources.Index(ctx, inst.SourceID, force, func(ctx context.Context, inst *sourcemgr.Instance, asOf time.Time) error {
			_, err := s.TaskQ.Put(ctx, model.TaskItem{
				SourceID:     inst.SourceID,
				FunctionName: "feed_new_documents",
				AsOf:         asOf,
			}, model.DefaultTaskAttempts)
			return err
		})
		if err != nil {
			// §4.4/§4.11: any raised error is logged, never propagated —
			// one Source's failure must not stall the sweep of the rest.
			slog.Error("scheduler: failed to enqueue re-index task", "source_id", inst.SourceID, "error", err)
		}
	}
}
