// Package service is the facade the transports call: it combines the
// dataset store, archive ingestion and the query executor.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/ingest"
	"github.com/basekick-labs/insight/internal/metrics"
	"github.com/basekick-labs/insight/internal/query"
	"github.com/basekick-labs/insight/internal/queryregistry"
	"github.com/basekick-labs/insight/internal/schema"
)

// Config wires a Service to its collaborators.
type Config struct {
	Store    *dataset.Store
	Parser   *ingest.Parser
	Executor *query.Executor
	Queries  *queryregistry.Registry
}

// Service implements dataset management and query execution.
type Service struct {
	store    *dataset.Store
	parser   *ingest.Parser
	executor *query.Executor
	queries  *queryregistry.Registry
	logger   zerolog.Logger
}

// New creates a Service. Executor and Queries default to fresh instances.
func New(cfg Config, logger zerolog.Logger) *Service {
	if cfg.Executor == nil {
		cfg.Executor = query.NewExecutor(logger)
	}
	if cfg.Queries == nil {
		cfg.Queries = queryregistry.NewRegistry(nil, logger)
	}
	return &Service{
		store:    cfg.Store,
		parser:   cfg.Parser,
		executor: cfg.Executor,
		queries:  cfg.Queries,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Queries returns the registry tracking query executions.
func (s *Service) Queries() *queryregistry.Registry {
	return s.queries
}

// AddDataset ingests content as a dataset of kind under id and returns the
// ids of all loaded datasets.
func (s *Service) AddDataset(ctx context.Context, id string, kind schema.Kind, content []byte) ([]string, error) {
	if err := dataset.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}
	if _, ok := s.store.Get(id); ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidDataset, dataset.ErrExists, id)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDataset, kind)
	}

	records, err := s.parser.Parse(ctx, kind, content)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidContent) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
		}
		return nil, err
	}

	d := &dataset.Dataset{Info: dataset.Info{ID: id, Kind: kind}, Records: records}
	if err := s.store.Add(ctx, d); err != nil {
		if errors.Is(err, dataset.ErrExists) || errors.Is(err, dataset.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
		}
		return nil, err
	}
	metrics.Get().IncDatasetsAdded()
	return s.store.IDs(), nil
}

// RemoveDataset unloads id and deletes its persisted state.
func (s *Service) RemoveDataset(ctx context.Context, id string) (string, error) {
	err := s.store.Remove(ctx, id)
	switch {
	case err == nil:
		metrics.Get().IncDatasetsRemoved()
		return id, nil
	case errors.Is(err, dataset.ErrInvalidID):
		return "", fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	case errors.Is(err, dataset.ErrNotFound):
		return "", fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	default:
		return "", err
	}
}

// ListDatasets returns every loaded dataset ordered by id.
func (s *Service) ListDatasets(ctx context.Context) []dataset.Info {
	return s.store.List()
}

type remoteAddrKey struct{}

// WithRemoteAddr tags ctx with the client address recorded for queries.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// PerformQuery validates and runs doc against a snapshot of the loaded
// datasets. Failures wrap query.ErrInvalidQuery or query.ErrResultTooLarge.
func (s *Service) PerformQuery(ctx context.Context, doc map[string]any) ([]query.Row, error) {
	start := time.Now()
	m := metrics.Get()
	m.IncQueryRequests()

	text, _ := json.Marshal(doc)
	queryID := s.queries.Register(string(text), remoteAddr(ctx))

	snap := s.store.Snapshot()
	rows, err := s.run(queryID, doc, snap)
	m.RecordQueryLatency(time.Since(start).Microseconds())

	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidQuery):
			m.IncQueryInvalid()
			s.queries.Fail(queryID, err.Error())
		case errors.Is(err, query.ErrResultTooLarge):
			m.IncQueryTooLarge()
			s.queries.TooLarge(queryID, err.Error())
		default:
			m.IncQueryErrors()
			s.queries.Fail(queryID, err.Error())
			s.logger.Error().Err(err).Str("query_id", queryID).Msg("Query failed")
		}
		return nil, err
	}

	m.IncQuerySuccess()
	m.IncQueryRows(int64(len(rows)))
	s.queries.Complete(queryID, len(rows))
	return rows, nil
}

func (s *Service) run(queryID string, doc map[string]any, snap *dataset.Snapshot) ([]query.Row, error) {
	q, err := s.executor.Prepare(doc, snap)
	if err != nil {
		return nil, err
	}
	s.queries.SetDataset(queryID, q.Dataset)
	return s.executor.Run(q, snap)
}
