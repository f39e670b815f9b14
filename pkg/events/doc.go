/*
Package events provides the in-process event broker for job lifecycle
notifications.

Each daemon process owns one broker. Components publish typed events
as jobs move through their lifecycle and as maintenance runs;
subscribers consume them for logging, metrics, and the API's
recent-events feed. Delivery is best effort: the broker exists for
observability, and no correctness decision may depend on an event
arriving.

# Architecture

	Publishers                     Broker                  Subscribers
	──────────                ───────────────              ───────────
	API (submit/cancel)  ┐                          ┌  API /events ring
	Scheduler (admitted) │    eventCh (cap 100)     │  log subscriber
	Worker (start/finish)├──▶  broadcast loop   ───▶┤  metrics observer
	Cleanup (results)    │    ring (last 100)       │
	Recovery (summary)   ┘                          └  (each cap 50)

# Core Components

Event:
  - ID: generated identifier
  - Type: job.submitted, job.admitted, job.started, job.completed,
    job.failed, job.cancelled, worker.registered, worker.unregistered,
    cleanup.run, recovery.completed
  - JobID / Worker / Strategy: whichever the type concerns
  - Message, Time

Broker:
  - Publish: stamp and dispatch, never blocks the caller
  - Subscribe / Unsubscribe: buffered per-subscriber channels
  - Recent: the last 100 events, newest first, behind the API feed
  - Start / Stop: broadcast loop lifecycle

# Event Flow

 1. Publisher calls broker.Publish(event)
 2. Event added to the main event channel (non-blocking)
 3. Broadcast loop stamps it into the recent ring
 4. Event sent to every subscriber channel
 5. Full subscriber buffers skip (no blocking)

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Logger.Debug().
				Str("type", string(event.Type)).
				Int64("job", event.JobID).
				Msg(event.Message)
		}
	}()

	broker.Publish(events.JobEvent(events.EventJobSubmitted, job.ID,
		"job %d submitted by %s", job.ID, job.Account))

# Integration Points

This package integrates with:

  - pkg/api: publishes submit/cancel, serves Recent on /api/v1/events
  - pkg/scheduler: publishes admissions
  - pkg/worker: publishes start and terminal transitions
  - pkg/cleanup: the event observer publishes strategy results
  - pkg/recovery: publishes the startup reconciliation summary

# Design Patterns

Non-Blocking Publish:

	Publish sends to a buffered channel and returns. A subscriber
	that stops draining loses events; it never stalls the publisher.
	State transitions must already be durable in the store before the
	event describing them is published.

Per-Process Broker:

	The broker is constructed and wired at daemon startup, one per
	process. Events do not cross processes; the store remains the
	only cross-process truth.

Bounded History:

	The ring keeps the last 100 events for the API feed. Anything
	older is visible only through logs and metrics.

# See Also

  - pkg/api for the recent-events endpoint
  - pkg/cleanup for the observer that feeds the broker
*/
package events
