package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/drover-io/drover/pkg/api"
	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the REST API server",
	Long: `Run the REST API server: job submission, queries, cancellation,
the dashboard, and the health and metrics endpoints.

The API owns no background work. Submitted jobs wait as pending rows
until a scheduler process admits them.`,
	RunE: runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	srv := api.NewServer(store, reg, resources, broker)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.API.ListenAddr)
	}()

	select {
	case sig := <-shutdownSignal():
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
