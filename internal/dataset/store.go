package dataset

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/metrics"
	"github.com/basekick-labs/insight/internal/storage"
)

// Store is the registry of loaded datasets. Add and Remove write through
// to the catalog and blob backend before the in-memory view changes.
// A Store built without a catalog keeps datasets in memory only.
//
// writeMu serializes mutations for their whole duration, including the
// backend round trips; mu guards only the map, so readers taking a
// Snapshot never wait on persistence.
type Store struct {
	writeMu  sync.Mutex
	mu       sync.RWMutex
	datasets map[string]*Dataset

	catalog     *Catalog
	backend     storage.Backend
	compression Compression
	logger      zerolog.Logger
}

// StoreConfig wires a Store to its persistence.
type StoreConfig struct {
	Catalog     *Catalog
	Backend     storage.Backend
	Compression Compression
}

func NewStore(cfg StoreConfig, logger zerolog.Logger) *Store {
	if cfg.Compression == "" {
		cfg.Compression = CompressionZstd
	}
	return &Store{
		datasets:    make(map[string]*Dataset),
		catalog:     cfg.Catalog,
		backend:     cfg.Backend,
		compression: cfg.Compression,
		logger:      logger.With().Str("component", "dataset-store").Logger(),
	}
}

func (s *Store) persistent() bool { return s.catalog != nil && s.backend != nil }

// Load reads every catalog entry into memory. Entries whose body is
// missing or unreadable are logged and skipped.
func (s *Store) Load(ctx context.Context) error {
	if !s.persistent() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	start := time.Now()

	entries, err := s.catalog.List(ctx)
	if err != nil {
		return err
	}

	loaded := make(map[string]*Dataset, len(entries))
	for _, e := range entries {
		body, err := s.backend.Read(ctx, e.BodyPath)
		if err != nil {
			s.logger.Warn().Err(err).Str("dataset", e.ID).Msg("Skipping dataset with unreadable body")
			continue
		}
		records, err := DecodeRecords(e.BodyPath, body)
		if err != nil {
			s.logger.Warn().Err(err).Str("dataset", e.ID).Msg("Skipping dataset with corrupt body")
			continue
		}
		if !e.Kind.Valid() {
			s.logger.Warn().Str("dataset", e.ID).Str("kind", string(e.Kind)).Msg("Skipping dataset with unknown kind")
			continue
		}
		e.NumRows = len(records)
		loaded[e.ID] = &Dataset{Info: e.Info, Records: records}
	}

	s.mu.Lock()
	s.datasets = loaded
	s.mu.Unlock()
	metrics.Get().SetDatasetsLoaded(int64(len(loaded)))
	s.sweepOrphans(ctx, entries)

	s.logger.Info().
		Int("datasets", len(loaded)).
		Int("skipped", len(entries)-len(loaded)).
		Dur("duration", time.Since(start)).
		Msg("Datasets loaded")
	return nil
}

// sweepOrphans deletes bodies no catalog entry points at. They are left
// behind when a catalog insert fails and the cleanup delete fails too.
func (s *Store) sweepOrphans(ctx context.Context, entries []CatalogEntry) {
	paths, err := s.backend.List(ctx, bodyPrefix)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list dataset bodies")
		return
	}
	referenced := make(map[string]bool, len(entries))
	for _, e := range entries {
		referenced[e.BodyPath] = true
	}
	for _, p := range paths {
		if referenced[p] {
			continue
		}
		if err := s.backend.Delete(ctx, p); err != nil {
			s.logger.Warn().Err(err).Str("path", p).Msg("Failed to delete orphaned dataset body")
			continue
		}
		s.logger.Info().Str("path", p).Msg("Deleted orphaned dataset body")
	}
}

// Add persists and registers d. The records slice must not be modified
// by the caller afterwards.
func (s *Store) Add(ctx context.Context, d *Dataset) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown dataset kind %q", d.Kind)
	}
	d.NumRows = len(d.Records)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.Get(d.ID); ok {
		return fmt.Errorf("%w: %s", ErrExists, d.ID)
	}

	if s.persistent() {
		if err := s.persist(ctx, d); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.datasets[d.ID] = d
	n := len(s.datasets)
	s.mu.Unlock()

	metrics.Get().SetDatasetsLoaded(int64(n))
	s.logger.Info().
		Str("dataset", d.ID).
		Str("kind", string(d.Kind)).
		Int("rows", d.NumRows).
		Msg("Dataset added")
	return nil
}

func (s *Store) persist(ctx context.Context, d *Dataset) error {
	path := BodyPath(d.ID, s.compression)
	body, err := EncodeRecords(d.Records, s.compression)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, path, body); err != nil {
		return fmt.Errorf("failed to write dataset body: %w", err)
	}
	if err := s.catalog.Put(ctx, CatalogEntry{Info: d.Info, BodyPath: path}); err != nil {
		if delErr := s.backend.Delete(ctx, path); delErr != nil {
			s.logger.Error().Err(delErr).Str("path", path).Msg("Failed to clean up dataset body")
		}
		return err
	}
	return nil
}

// Remove unregisters id and deletes its persisted state.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if s.persistent() {
		entry, err := s.catalog.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil {
			if err := s.catalog.Delete(ctx, id); err != nil {
				return err
			}
			if err := s.backend.Delete(ctx, entry.BodyPath); err != nil {
				s.logger.Warn().Err(err).Str("dataset", id).Msg("Failed to delete dataset body")
			}
		}
	}

	s.mu.Lock()
	delete(s.datasets, id)
	n := len(s.datasets)
	s.mu.Unlock()

	metrics.Get().SetDatasetsLoaded(int64(n))
	s.logger.Info().Str("dataset", id).Msg("Dataset removed")
	return nil
}

func (s *Store) Get(id string) (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	return d, ok
}

// List returns the info of every dataset ordered by id.
func (s *Store) List() []Info {
	return s.Snapshot().Datasets()
}

// IDs returns every dataset id in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.datasets))
}

// Snapshot returns an immutable view of the currently loaded datasets.
// Later Add and Remove calls do not affect it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{datasets: maps.Clone(s.datasets)}
}

// Close releases nothing itself; the catalog and backend are closed by
// their owners.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.logger.Debug().Int("datasets", len(s.datasets)).Msg("Dataset store closed")
	return nil
}

// Snapshot is a point-in-time, read-only view of the store.
type Snapshot struct {
	datasets map[string]*Dataset
}

// Datasets returns the info of every dataset ordered by id.
func (s *Snapshot) Datasets() []Info {
	out := make([]Info, 0, len(s.datasets))
	for _, id := range slices.Sorted(maps.Keys(s.datasets)) {
		out = append(out, s.datasets[id].Info)
	}
	return out
}

// Records returns the records of id in ingestion order.
func (s *Snapshot) Records(id string) ([]Record, error) {
	d, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.Records, nil
}
