// Package sourcemgr implements the source registry and lifecycle (C5):
// discovering connector classes, persisting SourceType rows once at
// startup, and tracking the live Instance for every configured Source.
// Connector classes are held in a connector.Registry (built on
// internal/registry.BaseRegistry); live instances are kept in the
// Manager's own sync.RWMutex-guarded map keyed by source id.
package sourcemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/store"
)

// Instance is the live, in-memory counterpart of a persisted Source row:
// its parsed config, rate limiter, and the indexed_docs/failed_tasks
// counters the /status and per-source UI surface expect.
type Instance struct {
	SourceID      int64
	TypeName      string
	Config        map[string]string
	LastIndexedAt time.Time
	Limiter       *rate.Limiter

	IndexedDocs atomic.Int64
	FailedTasks atomic.Int64

	mu sync.RWMutex
}

func (i *Instance) setLastIndexedAt(t time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.LastIndexedAt = t
}

// GetLastIndexedAt returns the instance's most recently observed
// last_indexed_at, refreshed by Manager.Index.
func (i *Instance) GetLastIndexedAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.LastIndexedAt
}

// Manager owns the connector class registry and every live Source
// instance, backed by the relational store for durability.
type Manager struct {
	classes *connector.Registry
	store   *store.Store

	mu        sync.RWMutex
	instances map[int64]*Instance
}

// New constructs a Manager over an already-populated connector class
// registry and the relational store.
func New(classes *connector.Registry, st *store.Store) *Manager {
	return &Manager{classes: classes, store: st, instances: make(map[int64]*Instance)}
}

// Bootstrap upserts a SourceType row for every registered connector class,
// then loads every persisted Source into a live Instance. Must run once at
// startup before the scheduler or worker pool starts.
func (m *Manager) Bootstrap(ctx context.Context) error {
	for _, st := range m.classes.SourceTypes() {
		if err := m.store.UpsertSourceType(ctx, st); err != nil {
			return fmt.Errorf("sourcemgr: upsert source type %s: %w", st.Name, err)
		}
	}

	rows, err := m.store.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("sourcemgr: load sources: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		cfg, err := decodeConfig(row.Source.ConfigBlob)
		if err != nil {
			return fmt.Errorf("sourcemgr: decode config for source %d: %w", row.Source.ID, err)
		}
		inst := &Instance{
			SourceID: row.Source.ID, TypeName: row.Source.TypeName,
			Config: cfg, LastIndexedAt: row.Source.LastIndexedAt,
		}
		if class, ok := m.classes.Get(row.Source.TypeName); ok && class.RateLimit() > 0 {
			inst.Limiter = rate.NewLimiter(rate.Limit(class.RateLimit()), 1)
		}
		m.instances[row.Source.ID] = inst
	}
	return nil
}

// CreateSource validates the config against the named connector class,
// persists a new Source row, and registers a live Instance for it.
func (m *Manager) CreateSource(ctx context.Context, typeName string, config map[string]string) (*Instance, error) {
	class, ok := m.classes.Get(typeName)
	if !ok {
		return nil, model.NewInvalidConfig("unknown source type %q", typeName)
	}

	if err := class.ValidateConfig(ctx, config); err != nil {
		return nil, err
	}

	blob, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("sourcemgr: marshal config: %w", err)
	}

	src, err := m.store.CreateSource(ctx, typeName, string(blob), time.Now())
	if err != nil {
		return nil, fmt.Errorf("sourcemgr: create source row: %w", err)
	}

	inst := &Instance{SourceID: src.ID, TypeName: typeName, Config: config, LastIndexedAt: src.LastIndexedAt}
	if class.RateLimit() > 0 {
		inst.Limiter = rate.NewLimiter(rate.Limit(class.RateLimit()), 1)
	}

	m.mu.Lock()
	m.instances[src.ID] = inst
	m.mu.Unlock()

	return inst, nil
}

// DeleteSource removes the Source row (cascading to its Documents and
// Chunks) and forgets its live Instance. removeFromIndexes is invoked
// inside the store's delete transaction, per §4.2.
func (m *Manager) DeleteSource(ctx context.Context, sourceID int64, removeFromIndexes func(ctx context.Context, chunkIDs []int64) error) error {
	if err := m.store.DeleteSource(ctx, sourceID, removeFromIndexes); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.instances, sourceID)
	m.mu.Unlock()
	return nil
}

// GetInstance looks up a live Instance by source id.
func (m *Manager) GetInstance(sourceID int64) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[sourceID]
	return inst, ok
}

// ListInstances returns every live Instance.
func (m *Manager) ListInstances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// GetClass looks up a registered connector class by name.
func (m *Manager) GetClass(name string) (connector.Connector, bool) {
	return m.classes.Get(name)
}

// Classes returns every registered connector class, used by the
// /data-sources/types discovery endpoint (§6).
func (m *Manager) Classes() []connector.Connector {
	return m.classes.List()
}

// Index applies the §4.1 thrashing guard: if a prior index ran within the
// last hour and force is false, it is a no-op. Otherwise it stamps
// last_indexed_at to now (both on the store and the live Instance) and
// calls feed_new_documents via the given dispatch func, which is expected
// to invoke connector.Connector.Dispatch with a Runtime bound to this
// instance. dispatch receives asOf, the Source's last_indexed_at as it
// stood *before* this run — mirroring the original's
// _save_index_time_in_db, which advances the persisted column but leaves
// the in-memory filtering value at the previous run's time — so the
// crawl it triggers filters against the prior run, not against the stamp
// this call just wrote. Any error from dispatch is returned to the
// caller (the scheduler logs it; it must not propagate further, per
// §4.1).
func (m *Manager) Index(ctx context.Context, sourceID int64, force bool, dispatch func(ctx context.Context, inst *Instance, asOf time.Time) error) error {
	inst, ok := m.GetInstance(sourceID)
	if !ok {
		return fmt.Errorf("sourcemgr: unknown source %d", sourceID)
	}

	now := time.Now()
	asOf := inst.GetLastIndexedAt()
	if !connector.ShouldIndex(asOf, force, now) {
		return nil
	}

	inst.setLastIndexedAt(now)
	if err := m.store.UpdateLastIndexedAt(ctx, sourceID, now); err != nil {
		return fmt.Errorf("sourcemgr: persist last_indexed_at: %w", err)
	}

	return dispatch(ctx, inst, asOf)
}

func decodeConfig(blob string) (map[string]string, error) {
	var cfg map[string]string
	if blob == "" {
		return map[string]string{}, nil
	}
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
