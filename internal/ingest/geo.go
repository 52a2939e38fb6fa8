package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/circuitbreaker"
	"github.com/basekick-labs/insight/internal/metrics"
)

// Location is a geocoded building position.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geolocator resolves a street address to a Location.
type Geolocator interface {
	Geolocate(ctx context.Context, address string) (Location, error)
}

// errUnresolved marks answers where the service worked but knows no
// location for the address. They do not count against the breaker.
var errUnresolved = errors.New("address not resolved")

// GeolocatorConfig configures an HTTPGeolocator.
type GeolocatorConfig struct {
	BaseURL string
	Timeout time.Duration

	// Breaker settings; zero values take the circuitbreaker defaults.
	MaxFailures int
	Cooldown    time.Duration
}

// HTTPGeolocator queries a geolocation service at GET <base>/<escaped address>.
// The service answers {"lat": .., "lon": ..} or {"error": ".."}. Repeated
// transport or server failures open a circuit breaker so an ingest against
// an unreachable service fails fast instead of waiting out every timeout.
type HTTPGeolocator struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
}

// NewHTTPGeolocator creates a client for the service at cfg.BaseURL.
func NewHTTPGeolocator(cfg GeolocatorConfig, logger zerolog.Logger) *HTTPGeolocator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPGeolocator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "geolocation",
			MaxFailures: cfg.MaxFailures,
			Cooldown:    cfg.Cooldown,
			IsFailure:   isServiceFailure,
		}, logger),
		logger: logger.With().Str("component", "geolocator").Logger(),
	}
}

func isServiceFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, errUnresolved) &&
		!errors.Is(err, context.Canceled)
}

// BreakerStats reports the state of the service circuit breaker.
func (g *HTTPGeolocator) BreakerStats() circuitbreaker.Stats {
	return g.breaker.Stats()
}

type geoResponse struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Error string   `json:"error"`
}

func (g *HTTPGeolocator) Geolocate(ctx context.Context, address string) (Location, error) {
	m := metrics.Get()
	m.IncGeolocateCalls()

	var loc Location
	err := g.breaker.Do(func() error {
		var err error
		loc, err = g.geolocate(ctx, address)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %w", ErrGeolocation, err)
	}
	if err != nil {
		m.IncGeolocateErrors()
		g.logger.Debug().Err(err).Str("address", address).Msg("Geolocation failed")
		return Location{}, err
	}
	return loc, nil
}

func (g *HTTPGeolocator) geolocate(ctx context.Context, address string) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+url.PathEscape(address), nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrGeolocation, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrGeolocation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Location{}, fmt.Errorf("%w: failed to read response: %v", ErrGeolocation, err)
	}

	var gr geoResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return Location{}, fmt.Errorf("%w: status %d: malformed response", ErrGeolocation, resp.StatusCode)
	}
	if gr.Error != "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return Location{}, fmt.Errorf("%w: %s", ErrGeolocation, gr.Error)
		}
		return Location{}, fmt.Errorf("%w: %w: %s", ErrGeolocation, errUnresolved, gr.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: status %d", ErrGeolocation, resp.StatusCode)
	}
	if gr.Lat == nil || gr.Lon == nil {
		return Location{}, fmt.Errorf("%w: response has no coordinates", ErrGeolocation)
	}
	return Location{Lat: *gr.Lat, Lon: *gr.Lon}, nil
}
