// Package ingest turns uploaded zip archives into dataset records.
// Sections archives carry JSON course files under courses/. Rooms archives
// carry an index.htm building table plus one HTML page per building, and
// each building is placed on the map through a Geolocator.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/metrics"
	"github.com/basekick-labs/insight/internal/schema"
)

// ParserConfig holds the ingestion settings.
type ParserConfig struct {
	Geolocator     Geolocator
	MaxConcurrency int
}

// Parser converts archive contents into records. It is safe for concurrent use.
type Parser struct {
	geo         Geolocator
	concurrency int
	logger      zerolog.Logger
}

func NewParser(cfg ParserConfig, logger zerolog.Logger) *Parser {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Parser{
		geo:         cfg.Geolocator,
		concurrency: cfg.MaxConcurrency,
		logger:      logger.With().Str("component", "ingest").Logger(),
	}
}

// Parse decodes content, a zip archive, as a dataset of the given kind.
// Content that yields no records fails with ErrInvalidContent.
func (p *Parser) Parse(ctx context.Context, kind schema.Kind, content []byte) ([]dataset.Record, error) {
	start := time.Now()
	m := metrics.Get()
	m.IncIngestBytes(int64(len(content)))

	records, err := p.parse(ctx, kind, content)
	if err != nil {
		m.IncIngestErrors()
		return nil, err
	}

	m.IncRecordsIngested(int64(len(records)))
	p.logger.Info().
		Str("kind", string(kind)).
		Int("records", len(records)).
		Int("bytes", len(content)).
		Dur("duration", time.Since(start)).
		Msg("Archive parsed")
	return records, nil
}

func (p *Parser) parse(ctx context.Context, kind schema.Kind, content []byte) ([]dataset.Record, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrInvalidContent)
	}
	a, err := openArchive(content)
	if err != nil {
		return nil, err
	}

	switch kind {
	case schema.KindSections:
		return p.parseSections(a)
	case schema.KindRooms:
		if p.geo == nil {
			return nil, fmt.Errorf("rooms ingestion requires a geolocator")
		}
		return p.parseRooms(ctx, a)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidContent, kind)
	}
}
