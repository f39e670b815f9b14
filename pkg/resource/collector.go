package resource

import (
	"context"
	"time"

	"github.com/drover-io/drover/pkg/metrics"
)

// collectInterval paces the gauge refresh
const collectInterval = 15 * time.Second

// Collector periodically snapshots capacity and job-state counts into
// the Prometheus gauges.
type Collector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewCollector creates a collector over the resource manager
func NewCollector(mgr *Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic gauge refresh
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		// First sample lands before the first tick
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the refresh loop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectCapacity(ctx)
	c.collectJobStates()
	metrics.Beat(metrics.ComponentCollector)
}

func (c *Collector) collectCapacity(ctx context.Context) {
	stats := c.manager.Stats(ctx)

	metrics.CPUsTotal.Set(float64(stats.TotalCPUs))
	metrics.CPUsAllocated.Set(float64(stats.AllocatedCPUs))
	metrics.CPUsAvailable.Set(float64(stats.AvailableCPUs))
	metrics.WorkersAlive.Set(float64(stats.ActiveWorkers))
}

func (c *Collector) collectJobStates() {
	counts, err := c.manager.store.CountJobsByState()
	if err != nil {
		return
	}

	for state, count := range counts {
		metrics.JobsByState.WithLabelValues(string(state)).Set(float64(count))
	}
}
