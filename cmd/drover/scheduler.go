package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drover-io/drover/pkg/cleanup"
	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the admission scheduler",
	Long: `Run the admission scheduler: the periodic pass that turns pending
jobs into reservations and queue entries, plus the cleanup strategies
and the counter resync.

Run exactly one scheduler per deployment. Two schedulers would race
each other's reservations.`,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := openRedis(cfg)
	defer client.Close()

	reg := registry.New(client, cfg.Worker.PresenceTTL())
	resources := resource.NewManager(store, reg, resource.NewCache(client))

	// Seed the cached counter from the authoritative store before the
	// first admission pass reads it.
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = resources.InitCache(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize capacity counter: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	q := queue.NewAsynqQueue(redisOpt(cfg), cfg.Worker.QueueName)
	defer q.Close()

	cleanupMgr := cleanup.NewManager(store)
	cleanup.RegisterDefaults(cleanupMgr, cfg.Cleanup, q, resources)
	cleanupMgr.AddObserver(cleanup.LoggingObserver{})
	cleanupMgr.AddObserver(cleanup.MetricsObserver{})
	cleanupMgr.AddObserver(cleanup.NewEventObserver(broker))

	sched := scheduler.New(store, q, resources, broker, cfg.NodeName)
	daemon := scheduler.NewDaemon(sched, resources, cleanupMgr, cfg.Scheduler)
	daemon.Start()
	defer daemon.Stop()

	collector := resource.NewCollector(resources)
	collector.Start()
	defer collector.Stop()

	sig := <-shutdownSignal()
	log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	return nil
}
