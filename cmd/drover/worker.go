package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/recovery"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker",
	Long: `Run a worker: consume the execution queue and supervise job
process groups on this node.

A worker registers its presence, reconciles what a previous
incarnation left behind, then takes work items up to its configured
concurrency.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("id", "", "Worker id (defaults to the hostname)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = hostname
	}

	if err := cfg.EnsureDirectories(); err != nil {
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

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	q := queue.NewAsynqQueue(redisOpt(cfg), cfg.Worker.QueueName)
	defer q.Close()

	sup := supervisor.New(cfg.Paths.ScriptDir)
	recov := recovery.New(store, q, resources, cfg.Cleanup.MaxJobRuntime())

	w := worker.New(worker.Config{
		ID:                id,
		Hostname:          hostname,
		CPUs:              cfg.TotalCPUs,
		Concurrency:       cfg.Worker.Concurrency,
		QueueName:         cfg.Worker.QueueName,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
	}, store, reg, resources, sup, broker, recov, redisOpt(cfg))

	if err := w.Start(context.Background()); err != nil {
		return err
	}

	sig := <-shutdownSignal()
	log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	w.Stop()
	return nil
}
