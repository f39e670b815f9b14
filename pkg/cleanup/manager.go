package cleanup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/storage"
)

// tickInterval is the manager's gate-check period. Strategy intervals
// start at 5s, so a 1s tick keeps due times accurate without load.
const tickInterval = time.Second

// Manager owns the registered strategies and drives them from one
// goroutine: each tick, every strategy whose gate passes executes
// sequentially in dependency order.
type Manager struct {
	store storage.Store

	mu         sync.Mutex
	strategies map[string]Strategy
	order      []Strategy
	observers  []Observer

	stopCh chan struct{}
}

// NewManager creates a manager with the logging observer installed.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:      store,
		strategies: make(map[string]Strategy),
		observers:  []Observer{LoggingObserver{}},
		stopCh:     make(chan struct{}),
	}
}

// Register adds a strategy. A strategy with the same name replaces the
// earlier registration. Registration happens at startup, before Start.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
	m.order = nil
	log.Logger.Info().
		Str("strategy", s.Name()).
		Bool("enabled", s.Enabled()).
		Msg("Registered cleanup strategy")
}

// AddObserver appends a result observer. The list is fixed once Start
// is called.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Strategies returns the registered strategies in execution order.
func (m *Manager) Strategies() []Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted()
}

// Start begins the cleanup loop
func (m *Manager) Start() {
	go m.run()
}

// Stop stops the loop at the next tick
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) run() {
	log.Logger.Info().Int("strategies", len(m.strategies)).Msg("Cleanup manager started")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunDue(time.Now())
			metrics.Beat(metrics.ComponentCleanup)
		case <-m.stopCh:
			log.Logger.Info().Msg("Cleanup manager stopped")
			return
		}
	}
}

// RunDue executes every enabled strategy whose gate passes, in
// dependency order, and returns their results. One failing strategy
// never stops the others.
func (m *Manager) RunDue(now time.Time) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []Result
	for _, s := range m.sorted() {
		if !s.ShouldRun(now) {
			continue
		}
		result := Execute(m.store, s)
		s.MarkRun(now)
		m.notify(result)
		results = append(results, result)
	}
	return results
}

// RunStrategy executes one strategy by name regardless of its gate.
// Operators use it to trigger a pass by hand.
func (m *Manager) RunStrategy(name string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.strategies[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown cleanup strategy %q", name)
	}
	result := Execute(m.store, s)
	s.MarkRun(time.Now())
	m.notify(result)
	return result, nil
}

// notify fans the result out to every observer. An observer panic is
// logged and contained; observers are monitoring, not control flow.
func (m *Manager) notify(result Result) {
	for _, o := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Logger.Error().
						Interface("panic", r).
						Str("strategy", result.Strategy).
						Msg("Cleanup observer panicked")
				}
			}()
			o.OnResult(result)
		}()
	}
}

// sorted returns strategies topologically ordered by DependsOn with
// priority breaking ties, cached until registration changes. Callers
// hold m.mu.
func (m *Manager) sorted() []Strategy {
	if m.order != nil {
		return m.order
	}

	inDegree := make(map[string]int, len(m.strategies))
	edges := make(map[string][]string, len(m.strategies))
	for name := range m.strategies {
		inDegree[name] = 0
	}
	for name, s := range m.strategies {
		for _, dep := range s.DependsOn() {
			// A dependency on an unregistered strategy doesn't block.
			if _, ok := m.strategies[dep]; !ok {
				continue
			}
			edges[dep] = append(edges[dep], name)
			inDegree[name]++
		}
	}

	ready := make([]string, 0, len(m.strategies))
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]Strategy, 0, len(m.strategies))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := m.strategies[ready[i]], m.strategies[ready[j]]
			if a.Priority() != b.Priority() {
				return a.Priority() < b.Priority()
			}
			return a.Name() < b.Name()
		})
		name := ready[0]
		ready = ready[1:]
		order = append(order, m.strategies[name])
		for _, next := range edges[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) < len(m.strategies) {
		log.Logger.Warn().Msg("Cleanup strategy dependency cycle, falling back to priority order")
		order = order[:0]
		for _, s := range m.strategies {
			order = append(order, s)
		}
		sort.Slice(order, func(i, j int) bool {
			if order[i].Priority() != order[j].Priority() {
				return order[i].Priority() < order[j].Priority()
			}
			return order[i].Name() < order[j].Name()
		})
	}

	m.order = order
	return order
}
