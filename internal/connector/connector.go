// Package connector defines the capability interface every data source
// implements (C4), the Runtime handle each Dispatch call uses for TaskQ
// enqueueing, document emission and rate limiting, and the
// indexing-cadence guard (ShouldIndex) shared by all of them. The
// connector class Registry is built on internal/registry.BaseRegistry,
// adapted from the teacher's pkg/registry/registry.go. Rate limiting uses
// golang.org/x/time/rate for the declarative token-bucket limiter.
package connector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/registry"
)

// Connector is the capability set every data source class implements.
// Implementations are stateless with respect to a specific Source; all
// per-instance state (parsed config, source id, last_indexed_at) is
// threaded through Runtime.
type Connector interface {
	// Name is the stable key stored as source_types.name.
	Name() string
	// DisplayName is the human label shown in the UI.
	DisplayName() string
	// DescribeConfigSchema returns the ordered field list rendered by the UI.
	DescribeConfigSchema() []model.ConfigField
	// ValidateConfig exercises the remote API (e.g. lists one page) to
	// confirm the given config actually works. Returns InvalidConfigError
	// or KnownError on failure.
	ValidateConfig(ctx context.Context, config map[string]string) error
	// ListLocations optionally returns selectable sub-partitions; may
	// return an empty slice.
	ListLocations(ctx context.Context, config map[string]string) ([]model.Location, error)
	// HasPrerequisites is true when the UI must prompt for locations
	// before the source can be saved.
	HasPrerequisites() bool
	// RateLimit is the declared outbound calls-per-second budget; 0 means
	// unlimited.
	RateLimit() float64
	// Dispatch invokes a named method (feed_new_documents, or any
	// follow-up method a prior call self-enqueued) against a config.
	// Follow-up calls (TaskQ) and Documents ready for indexing are handed
	// to rt; the returned error only reports failure.
	Dispatch(ctx context.Context, rt *Runtime, methodName string, kwargs map[string]string) error
}

// Runtime is passed to every Dispatch call: the surface a connector uses
// to enqueue follow-up work and emit normalised documents, scoped to one
// Source instance.
type Runtime struct {
	SourceID      int64
	Config        map[string]string
	LastIndexedAt time.Time
	Limiter       *rate.Limiter

	enqueue func(methodName string, kwargs map[string]string)
	emit    func(doc *model.Document)
}

// NewRuntime builds a Runtime wired to the given follow-up-task and
// document-emission sinks. Used by the worker pool (C6) to invoke
// Dispatch for a configured Source instance.
func NewRuntime(sourceID int64, cfg map[string]string, lastIndexedAt time.Time, limiter *rate.Limiter,
	enqueue func(methodName string, kwargs map[string]string), emit func(doc *model.Document)) *Runtime {
	return &Runtime{
		SourceID: sourceID, Config: cfg, LastIndexedAt: lastIndexedAt, Limiter: limiter,
		enqueue: enqueue, emit: emit,
	}
}

// NewTestRuntime builds a Runtime for connector unit tests, without a
// rate limiter.
func NewTestRuntime(sourceID int64, lastIndexedAt time.Time,
	emit func(doc *model.Document), enqueue func(methodName string, kwargs map[string]string)) *Runtime {
	if enqueue == nil {
		enqueue = func(string, map[string]string) {}
	}
	if emit == nil {
		emit = func(*model.Document) {}
	}
	return &Runtime{SourceID: sourceID, LastIndexedAt: lastIndexedAt, enqueue: enqueue, emit: emit}
}

// Enqueue records a follow-up TaskItem to be delivered back to this
// connector's Dispatch after the current call returns.
func (rt *Runtime) Enqueue(methodName string, kwargs map[string]string) {
	rt.enqueue(methodName, kwargs)
}

// Emit hands a fully-formed Document (with children attached) to the
// indexing pipeline via IndexQ.
func (rt *Runtime) Emit(doc *model.Document) {
	rt.emit(doc)
}

// Wait blocks until the rate limiter admits one more outbound call; a nil
// Limiter (RateLimit() == 0) never blocks.
func (rt *Runtime) Wait(ctx context.Context) error {
	if rt.Limiter == nil {
		return nil
	}
	return rt.Limiter.Wait(ctx)
}

// Registry is the process-wide collection of connector class name to
// implementation, populated once at startup from every in-tree
// connector package (C5 consults it to instantiate configured Sources).
type Registry struct {
	base *registry.BaseRegistry[Connector]
}

// NewRegistry creates an empty connector class registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Connector]()}
}

// Register adds a connector class; it is an error to register the same
// name twice.
func (r *Registry) Register(c Connector) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("connector: class name cannot be empty")
	}
	if err := r.base.Register(name, c); err != nil {
		return fmt.Errorf("connector: %w", err)
	}
	return nil
}

// Get returns a registered connector class by name.
func (r *Registry) Get(name string) (Connector, bool) {
	return r.base.Get(name)
}

// List returns every registered connector class.
func (r *Registry) List() []Connector {
	return r.base.List()
}

// SourceTypes converts every registered class into the model.SourceType
// rows persisted by the store at startup (§3: inserted once, never
// deleted).
func (r *Registry) SourceTypes() []model.SourceType {
	classes := r.base.List()
	out := make([]model.SourceType, 0, len(classes))
	for _, c := range classes {
		out = append(out, model.SourceType{
			Name:         c.Name(),
			DisplayName:  c.DisplayName(),
			ConfigSchema: c.DescribeConfigSchema(),
		})
	}
	return out
}

// MinReindexInterval is the thrashing guard from §4.1: a Source is not
// re-indexed more than once per this interval unless force is set.
const MinReindexInterval = time.Hour

// ShouldIndex reports whether Instance.Index should actually run
// feed_new_documents, given the Source's last_indexed_at and whether the
// caller passed force.
func ShouldIndex(lastIndexedAt time.Time, force bool, now time.Time) bool {
	if force {
		return true
	}
	return now.Sub(lastIndexedAt) >= MinReindexInterval
}
