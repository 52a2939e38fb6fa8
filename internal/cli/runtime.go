package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/config"
	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/ingest"
	"github.com/basekick-labs/insight/internal/logger"
	"github.com/basekick-labs/insight/internal/query"
	"github.com/basekick-labs/insight/internal/queryregistry"
	"github.com/basekick-labs/insight/internal/service"
	"github.com/basekick-labs/insight/internal/storage"
)

// appRuntime is the set of components shared by the server and the
// offline commands.
type appRuntime struct {
	catalog *dataset.Catalog
	backend storage.Backend
	geo     *ingest.HTTPGeolocator
	store   *dataset.Store
	queries *queryregistry.Registry
	svc     *service.Service
}

func openRuntime(ctx context.Context, cfg *config.Config) (*appRuntime, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	catalog, err := dataset.OpenCatalog(cfg.Catalog.DBPath, logger.Get("catalog"))
	if err != nil {
		backend.Close()
		return nil, err
	}

	store := dataset.NewStore(dataset.StoreConfig{
		Catalog:     catalog,
		Backend:     backend,
		Compression: dataset.Compression(cfg.Storage.Compression),
	}, logger.Get("dataset"))
	if err := store.Load(ctx); err != nil {
		catalog.Close()
		backend.Close()
		return nil, fmt.Errorf("failed to load datasets: %w", err)
	}

	geo := ingest.NewHTTPGeolocator(ingest.GeolocatorConfig{
		BaseURL:     cfg.Ingest.GeolocationURL,
		Timeout:     time.Duration(cfg.Ingest.GeolocationTimeout) * time.Second,
		MaxFailures: cfg.Ingest.GeolocationMaxFailures,
		Cooldown:    time.Duration(cfg.Ingest.GeolocationCooldown) * time.Second,
	}, logger.Get("ingest"))
	parser := ingest.NewParser(ingest.ParserConfig{
		Geolocator:     geo,
		MaxConcurrency: cfg.Ingest.MaxConcurrency,
	}, logger.Get("ingest"))

	queries := queryregistry.NewRegistry(&queryregistry.RegistryConfig{
		HistorySize: cfg.Query.HistorySize,
	}, logger.Get("queries"))

	svc := service.New(service.Config{
		Store:    store,
		Parser:   parser,
		Executor: query.NewExecutor(logger.Get("query")),
		Queries:  queries,
	}, logger.Get("service"))

	return &appRuntime{
		catalog: catalog,
		backend: backend,
		geo:     geo,
		store:   store,
		queries: queries,
		svc:     svc,
	}, nil
}

// openBackend returns the configured blob store. Remote stores are wrapped
// with retries and a circuit breaker.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	sc := cfg.Storage
	log := logger.Get("storage")

	var remote storage.Backend
	switch sc.Backend {
	case "s3":
		b, err := storage.NewS3Backend(ctx, &storage.S3Config{
			Bucket:    sc.S3Bucket,
			Region:    sc.S3Region,
			Prefix:    sc.S3Prefix,
			Endpoint:  sc.S3Endpoint,
			AccessKey: sc.S3AccessKey,
			SecretKey: sc.S3SecretKey,
			UseSSL:    sc.S3UseSSL,
			PathStyle: sc.S3PathStyle,
		}, log)
		if err != nil {
			return nil, err
		}
		remote = b
	case "azure":
		b, err := storage.NewAzureBlobBackend(ctx, &storage.AzureBlobConfig{
			ConnectionString:   sc.AzureConnectionString,
			AccountName:        sc.AzureAccountName,
			AccountKey:         sc.AzureAccountKey,
			SASToken:           sc.AzureSASToken,
			UseManagedIdentity: sc.AzureUseManagedIdentity,
			ContainerName:      sc.AzureContainer,
			Prefix:             sc.AzurePrefix,
			Endpoint:           sc.AzureEndpoint,
		}, log)
		if err != nil {
			return nil, err
		}
		remote = b
	default:
		b, err := storage.NewLocalBackend(sc.DataDir, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	return storage.NewResilientBackend(remote, resilientConfig(sc), log), nil
}

func resilientConfig(sc config.StorageConfig) *storage.ResilientConfig {
	cfg := storage.DefaultResilientConfig()
	cfg.MaxRetries = sc.MaxRetries
	if sc.RetryDelayMS > 0 {
		cfg.RetryDelay = time.Duration(sc.RetryDelayMS) * time.Millisecond
	}
	if sc.RetryMaxDelayMS > 0 {
		cfg.RetryMaxDelay = time.Duration(sc.RetryMaxDelayMS) * time.Millisecond
	}
	if sc.CircuitMaxFailures > 0 {
		cfg.MaxFailures = sc.CircuitMaxFailures
	}
	if sc.CircuitCooldown > 0 {
		cfg.Cooldown = time.Duration(sc.CircuitCooldown) * time.Second
	}
	return cfg
}

// Close releases the runtime in reverse order of opening.
func (r *appRuntime) Close() error {
	return errors.Join(r.queries.Close(), r.store.Close(), r.backend.Close(), r.catalog.Close())
}

// setupOfflineLogging sends logs to stderr so stdout carries only results.
func setupOfflineLogging(cfg *config.Config, stderr io.Writer) zerolog.Logger {
	logger.SetupWriter(cfg.Log.Level, cfg.Log.Format, stderr)
	return logger.Get("cli")
}
