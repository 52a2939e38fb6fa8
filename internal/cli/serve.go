package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/basekick-labs/insight/internal/api"
	"github.com/basekick-labs/insight/internal/logger"
	"github.com/basekick-labs/insight/internal/metrics"
	"github.com/basekick-labs/insight/internal/shutdown"
	"github.com/basekick-labs/insight/internal/storage"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, version)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, version string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", version).Msg("Starting insight...")

	metrics.Init(logger.Get("metrics"))

	coordinator := shutdown.New(time.Duration(cfg.Server.ShutdownTimeout)*time.Second, logger.Get("shutdown"))

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	coordinator.Register("catalog", rt.catalog, shutdown.PriorityCatalog)
	coordinator.Register("storage", rt.backend, shutdown.PriorityStorage)
	coordinator.Register("dataset-store", rt.store, shutdown.PriorityStore)
	coordinator.Register("query-registry", rt.queries, shutdown.PriorityQueries)

	log.Info().
		Str("storage", rt.backend.Type()).
		Str("data_dir", cfg.Storage.DataDir).
		Str("catalog", cfg.Catalog.DBPath).
		Int("datasets", len(rt.store.IDs())).
		Msg("Dataset store ready")

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		BodyLimit:       int(cfg.Server.MaxPayloadSize),
	}, logger.Get("api"))
	server.RegisterRoutes()
	server.RegisterBreaker("geolocation", rt.geo.BreakerStats)
	if rb, ok := rt.backend.(*storage.ResilientBackend); ok {
		server.RegisterBreaker("storage", rb.BreakerStats)
	}

	app := server.GetApp()
	api.NewDatasetsHandler(rt.svc, logger.Get("api")).RegisterRoutes(app)
	api.NewQueryHandler(rt.svc, logger.Get("api")).RegisterRoutes(app)
	api.NewQueryManagementHandler(rt.queries, logger.Get("api")).RegisterRoutes(app)

	coordinator.RegisterHook("http-server", server.Shutdown, shutdown.PriorityHTTPServer)

	listenErr := server.Start()
	go func() {
		if err, ok := <-listenErr; ok && err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			coordinator.TriggerShutdown()
		}
	}()

	sig := coordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		return err
	}
	log.Info().Msg("insight stopped")
	return nil
}
