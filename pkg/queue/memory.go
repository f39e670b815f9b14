package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryQueue is an in-process Queue with the same dedupe contract as
// the production queue. Scheduler and recovery tests use it to observe
// exactly what was enqueued.
type MemoryQueue struct {
	mu     sync.Mutex
	seen   map[int64]bool
	queued []int64
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{seen: make(map[int64]bool)}
}

// EnqueueJob records the job id, rejecting repeats with ErrDuplicate
func (q *MemoryQueue) EnqueueJob(_ context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen[jobID] {
		return fmt.Errorf("%w: job %d", ErrDuplicate, jobID)
	}
	q.seen[jobID] = true
	q.queued = append(q.queued, jobID)
	return nil
}

// Queued returns the enqueued job ids in order
func (q *MemoryQueue) Queued() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int64, len(q.queued))
	copy(out, q.queued)
	return out
}

// Close is a no-op
func (q *MemoryQueue) Close() error { return nil }
