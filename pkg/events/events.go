package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobAdmitted  EventType = "job.admitted"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	EventWorkerRegistered   EventType = "worker.registered"
	EventWorkerUnregistered EventType = "worker.unregistered"

	EventCleanupRun        EventType = "cleanup.run"
	EventRecoveryCompleted EventType = "recovery.completed"
)

// Event is one service occurrence, published in-process and exposed on
// the API's recent-events feed.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	JobID    int64     `json:"job_id,omitempty"`
	Worker   string    `json:"worker,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// JobEvent builds a job lifecycle event
func JobEvent(t EventType, jobID int64, format string, args ...interface{}) *Event {
	return &Event{
		Type:    t,
		JobID:   jobID,
		Message: fmt.Sprintf(format, args...),
	}
}

// WorkerEvent builds a worker lifecycle event
func WorkerEvent(t EventType, worker, message string) *Event {
	return &Event{
		Type:    t,
		Worker:  worker,
		Message: message,
	}
}

// StrategyEvent builds a cleanup strategy event
func StrategyEvent(strategy, message string) *Event {
	return &Event{
		Type:     EventCleanupRun,
		Strategy: strategy,
		Message:  message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// ringSize bounds the recent-events window kept for the API
const ringSize = 100

// Broker manages event subscriptions and distribution within one
// process. Publishing never blocks the caller; subscribers that stop
// draining lose events rather than stalling the broadcast.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	ringMu sync.RWMutex
	ring   []*Event
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish stamps and dispatches an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Recent returns the retained events, newest first
func (b *Broker) Recent() []*Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	out := make([]*Event, len(b.ring))
	for i, e := range b.ring {
		out[len(b.ring)-1-i] = e
	}
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.remember(event)
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) remember(event *Event) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	b.ring = append(b.ring, event)
	if len(b.ring) > ringSize {
		b.ring = b.ring[len(b.ring)-ringSize:]
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
