package cleanup

import (
	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
)

// Observer is notified after every strategy execution, success or
// failure. Implementations must not block; panics are contained by
// the manager.
type Observer interface {
	OnResult(result Result)
}

// LoggingObserver is the default observer. Quiet runs log at debug,
// repairs at info, failures at error.
type LoggingObserver struct{}

func (LoggingObserver) OnResult(result Result) {
	logger := log.WithStrategy(result.Strategy)
	switch {
	case result.Err != nil:
		logger.Error().Err(result.Err).Dur("duration", result.Duration).Msg("Cleanup strategy failed")
	case result.Skipped:
		logger.Debug().Msg("Cleanup strategy skipped")
	case result.Count > 0:
		logger.Info().Int("count", result.Count).Dur("duration", result.Duration).Msg("Cleanup strategy cleaned items")
	default:
		logger.Debug().Dur("duration", result.Duration).Msg("Cleanup strategy found nothing to clean")
	}
}

// MetricsObserver exports per-strategy execution counters and
// durations.
type MetricsObserver struct{}

func (MetricsObserver) OnResult(result Result) {
	outcome := "success"
	switch {
	case result.Err != nil:
		outcome = "error"
	case result.Skipped:
		outcome = "skipped"
	}
	metrics.CleanupRuns.WithLabelValues(result.Strategy, outcome).Inc()
	metrics.CleanupDuration.WithLabelValues(result.Strategy).Observe(result.Duration.Seconds())
	if result.Count > 0 {
		metrics.CleanupItemsCleaned.WithLabelValues(result.Strategy).Add(float64(result.Count))
	}
}

// EventObserver publishes strategy results on the event broker. Only
// runs that repaired something or failed are worth an event; quiet
// passes every few seconds would drown the feed.
type EventObserver struct {
	broker *events.Broker
}

func NewEventObserver(broker *events.Broker) *EventObserver {
	return &EventObserver{broker: broker}
}

func (o *EventObserver) OnResult(result Result) {
	if result.Err == nil && result.Count == 0 {
		return
	}
	o.broker.Publish(events.StrategyEvent(result.Strategy, result.String()))
}
