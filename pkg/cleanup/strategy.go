package cleanup

import (
	"errors"
	"fmt"
	"time"

	"github.com/drover-io/drover/pkg/storage"
)

// errSkipped aborts the strategy transaction when the BeforeExecute
// gate declines the run. Nothing was written, so rollback is free.
var errSkipped = errors.New("skipped by before-execute gate")

// Result records one strategy execution for observers and logs.
type Result struct {
	Strategy string
	Count    int
	Skipped  bool
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Success reports whether the execution committed without error.
// Skipped runs count as successful.
func (r Result) Success() bool { return r.Err == nil }

func (r Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("[%s] failed after %s: %v", r.Strategy, r.Duration.Round(time.Millisecond), r.Err)
	case r.Skipped:
		return fmt.Sprintf("[%s] skipped", r.Strategy)
	default:
		return fmt.Sprintf("[%s] cleaned %d items in %s", r.Strategy, r.Count, r.Duration.Round(time.Millisecond))
	}
}

// Strategy is one pluggable reconciliation pass over the store.
// Concrete strategies embed BaseStrategy for the metadata and default
// hooks and implement DoCleanup; the manager drives them through
// Execute so every strategy shares the same transactional envelope.
type Strategy interface {
	Name() string
	Description() string
	Interval() time.Duration
	Priority() int
	DependsOn() []string
	Tags() []string
	Enabled() bool
	SetEnabled(enabled bool)

	// ShouldRun gates execution on each manager tick. The default is
	// interval-based; startup-only strategies override it.
	ShouldRun(now time.Time) bool
	// MarkRun records that the strategy executed.
	MarkRun(now time.Time)

	// BeforeExecute is a pre-check inside the strategy transaction.
	// Returning false skips the run.
	BeforeExecute(tx storage.Store) (bool, error)
	// DoCleanup is the body. It runs inside a transaction and returns
	// the number of items repaired; an error rolls the whole run back.
	DoCleanup(tx storage.Store) (int, error)
	// AfterExecute runs after a successful commit. Cache adjustments
	// belong here so they never describe a rolled-back write.
	AfterExecute(result Result)
	// OnError runs after a rollback.
	OnError(err error)
}

// BaseStrategy carries the shared metadata and scheduling state.
type BaseStrategy struct {
	name        string
	description string
	interval    time.Duration
	priority    int
	dependsOn   []string
	tags        []string
	enabled     bool
	lastRun     time.Time
}

func (b *BaseStrategy) Name() string            { return b.name }
func (b *BaseStrategy) Description() string     { return b.description }
func (b *BaseStrategy) Interval() time.Duration { return b.interval }
func (b *BaseStrategy) Priority() int           { return b.priority }
func (b *BaseStrategy) DependsOn() []string     { return b.dependsOn }
func (b *BaseStrategy) Tags() []string          { return b.tags }
func (b *BaseStrategy) Enabled() bool           { return b.enabled }

// SetEnabled applies a config override.
func (b *BaseStrategy) SetEnabled(enabled bool) { b.enabled = enabled }

// ShouldRun is the default interval gate.
func (b *BaseStrategy) ShouldRun(now time.Time) bool {
	if !b.enabled {
		return false
	}
	return b.lastRun.IsZero() || now.Sub(b.lastRun) >= b.interval
}

// MarkRun records the last execution time.
func (b *BaseStrategy) MarkRun(now time.Time) { b.lastRun = now }

// BeforeExecute passes by default.
func (b *BaseStrategy) BeforeExecute(tx storage.Store) (bool, error) { return true, nil }

// AfterExecute is a no-op by default.
func (b *BaseStrategy) AfterExecute(result Result) {}

// OnError is a no-op by default.
func (b *BaseStrategy) OnError(err error) {}

// Execute runs one strategy through the shared template. The
// BeforeExecute gate and the DoCleanup body share one transaction, so
// a release and the terminal update it pairs with commit together or
// not at all. Hooks run after the outcome is decided: AfterExecute on
// commit, OnError on rollback.
func Execute(store storage.Store, s Strategy) Result {
	start := time.Now()
	var (
		count   int
		skipped bool
	)
	err := store.Transaction(func(tx storage.Store) error {
		proceed, err := s.BeforeExecute(tx)
		if err != nil {
			return fmt.Errorf("before-execute: %w", err)
		}
		if !proceed {
			skipped = true
			return errSkipped
		}
		n, err := s.DoCleanup(tx)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if errors.Is(err, errSkipped) {
		err = nil
	}

	result := Result{
		Strategy: s.Name(),
		Count:    count,
		Skipped:  skipped,
		Err:      err,
		Duration: time.Since(start),
		Time:     start.UTC(),
	}

	switch {
	case err != nil:
		s.OnError(err)
	case !skipped:
		s.AfterExecute(result)
	}
	return result
}
