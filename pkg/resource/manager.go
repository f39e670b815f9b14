package resource

import (
	"context"
	"fmt"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/storage"
)

// Stats is a point-in-time capacity snapshot for dashboards and the
// metrics collector.
type Stats struct {
	TotalCPUs     int     `json:"total_cpus"`
	AllocatedCPUs int     `json:"allocated_cpus"`
	AvailableCPUs int     `json:"available_cpus"`
	Utilization   float64 `json:"utilization"`
	ActiveWorkers int     `json:"active_workers"`
}

// Manager is the single entry point for capacity questions and
// mutations. Total capacity comes from live worker presence, consumed
// capacity from the cached counter backed by the authoritative store.
type Manager struct {
	store    storage.Store
	registry *registry.Registry
	cache    *Cache
}

// NewManager composes the store, the worker registry, and the counter
// cache into one facade.
func NewManager(store storage.Store, reg *registry.Registry, cache *Cache) *Manager {
	return &Manager{
		store:    store,
		registry: reg,
		cache:    cache,
	}
}

// TotalCPUs returns the capacity advertised by live workers. An
// unreachable registry reads as zero capacity, which halts admission
// until presence recovers.
func (m *Manager) TotalCPUs(ctx context.Context) int {
	total, err := m.registry.TotalCPUs(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Worker registry unreachable, treating cluster as zero-capacity")
		return 0
	}
	return total
}

// AllocatedCPUs returns the cpus consumed by allocated jobs. It reads
// the cached counter first; on a miss it falls back to the
// authoritative sum and writes the cache back.
func (m *Manager) AllocatedCPUs(ctx context.Context) (int, error) {
	cached, hit, err := m.cache.AllocatedCPUs(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Counter cache unreachable, falling back to store")
	} else if hit {
		return cached, nil
	}

	allocated, err := m.store.SumAllocatedCPUs()
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocated cpus: %w", err)
	}

	if err := m.cache.SetAllocatedCPUs(ctx, allocated); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to write back allocated-cpus counter")
	}

	return allocated, nil
}

// AvailableCPUs returns total minus allocated, floored at zero
func (m *Manager) AvailableCPUs(ctx context.Context) (int, error) {
	total := m.TotalCPUs(ctx)
	if total == 0 {
		return 0, nil
	}

	allocated, err := m.AllocatedCPUs(ctx)
	if err != nil {
		return 0, err
	}

	available := total - allocated
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Utilization returns allocated over total as a percentage
func (m *Manager) Utilization(ctx context.Context) float64 {
	total := m.TotalCPUs(ctx)
	if total == 0 {
		return 0.0
	}

	allocated, err := m.AllocatedCPUs(ctx)
	if err != nil {
		return 0.0
	}

	return float64(allocated) / float64(total) * 100.0
}

// OnTransitionToAllocated records capacity consumption in the cached
// counter. Called exactly once per job, when its allocation moves from
// reserved to allocated. Counter failures are logged, never fatal; the
// periodic sync repairs any divergence.
func (m *Manager) OnTransitionToAllocated(ctx context.Context, cpus int) {
	val, err := m.cache.Increment(ctx, cpus)
	if err != nil {
		log.Logger.Warn().Err(err).Int("cpus", cpus).Msg("Failed to increment allocated-cpus counter")
		return
	}

	log.Logger.Debug().Int("cpus", cpus).Int("allocated", val).Msg("Capacity consumed")
}

// OnReleaseFromAllocated returns capacity to the cached counter.
// Called exactly once per job, when its allocation moves from
// allocated to released; reservations that release directly were never
// counted and must not come through here.
func (m *Manager) OnReleaseFromAllocated(ctx context.Context, cpus int) {
	val, err := m.cache.Decrement(ctx, cpus)
	if err != nil {
		log.Logger.Warn().Err(err).Int("cpus", cpus).Msg("Failed to decrement allocated-cpus counter")
		return
	}

	log.Logger.Debug().Int("cpus", cpus).Int("allocated", val).Msg("Capacity released")
}

// SyncFromStore overwrites the cached counter with the authoritative
// sum. Runs at startup and on the resource-sync interval; between
// syncs the store is truth and the counter is a bounded-staleness view.
func (m *Manager) SyncFromStore(ctx context.Context) error {
	allocated, err := m.store.SumAllocatedCPUs()
	if err != nil {
		return fmt.Errorf("failed to sum allocated cpus: %w", err)
	}

	if err := m.cache.SetAllocatedCPUs(ctx, allocated); err != nil {
		return err
	}

	log.Logger.Debug().Int("allocated", allocated).Msg("Allocated-cpus counter synced from store")
	return nil
}

// InitCache seeds the counter from the store at service start
func (m *Manager) InitCache(ctx context.Context) error {
	if err := m.SyncFromStore(ctx); err != nil {
		return err
	}

	log.Logger.Info().Msg("Allocated-cpus counter initialized from store")
	return nil
}

// Workers returns the number of live workers
func (m *Manager) Workers(ctx context.Context) int {
	count, err := m.registry.Count(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to count live workers")
		return 0
	}
	return count
}

// Stats assembles a capacity snapshot
func (m *Manager) Stats(ctx context.Context) Stats {
	total := m.TotalCPUs(ctx)

	allocated, err := m.AllocatedCPUs(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to read allocated cpus for stats")
	}

	available := total - allocated
	if available < 0 {
		available = 0
	}

	utilization := 0.0
	if total > 0 {
		utilization = float64(allocated) / float64(total) * 100.0
	}

	return Stats{
		TotalCPUs:     total,
		AllocatedCPUs: allocated,
		AvailableCPUs: available,
		Utilization:   utilization,
		ActiveWorkers: m.Workers(ctx),
	}
}
