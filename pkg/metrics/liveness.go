package metrics

import (
	"sort"
	"sync"
	"time"
)

// Background loop names reported through Beat and MarkDown.
const (
	ComponentScheduler = "scheduler"
	ComponentCleanup   = "cleanup"
	ComponentCollector = "collector"
	ComponentWorker    = "worker"
)

// ComponentStatus is the last reported state of one background loop.
type ComponentStatus struct {
	Name     string
	Up       bool
	Reason   string    // failure reason when Up is false
	LastBeat time.Time // time of the last successful pass
}

// liveness tracks the heartbeats of the process's background loops.
// Loops call Beat after every successful pass and MarkDown when a pass
// fails; a loop that stops calling either goes stale.
type liveness struct {
	mu    sync.RWMutex
	comps map[string]ComponentStatus
	now   func() time.Time
}

var beatTracker = newLiveness(time.Now)

func newLiveness(now func() time.Time) *liveness {
	return &liveness{
		comps: make(map[string]ComponentStatus),
		now:   now,
	}
}

// Beat records a successful pass of the named loop
func Beat(component string) { beatTracker.beat(component) }

// MarkDown records a failed pass of the named loop. LastBeat keeps the
// time of the last successful pass.
func MarkDown(component, reason string) { beatTracker.markDown(component, reason) }

// Components returns a snapshot of every reporting loop, sorted by name
func Components() []ComponentStatus { return beatTracker.components() }

// StaleComponents returns the names of loops whose last successful pass
// is older than maxAge, sorted. A loop that never reported is absent; a
// stopped loop surfaces once its last beat ages out.
func StaleComponents(maxAge time.Duration) []string { return beatTracker.stale(maxAge) }

func (l *liveness) beat(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.comps[name] = ComponentStatus{Name: name, Up: true, LastBeat: now}
	ComponentUp.WithLabelValues(name).Set(1)
	ComponentLastBeat.WithLabelValues(name).Set(float64(now.Unix()))
}

func (l *liveness) markDown(name, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.comps[name]
	l.comps[name] = ComponentStatus{
		Name:     name,
		Up:       false,
		Reason:   reason,
		LastBeat: prev.LastBeat,
	}
	ComponentUp.WithLabelValues(name).Set(0)
}

func (l *liveness) components() []ComponentStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ComponentStatus, 0, len(l.comps))
	for _, c := range l.comps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *liveness) stale(maxAge time.Duration) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-maxAge)
	var names []string
	for name, c := range l.comps {
		// A zero LastBeat means the loop never completed a pass.
		if c.LastBeat.Before(cutoff) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
