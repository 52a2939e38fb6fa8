package ingest

import (
	"context"
	"sync/atomic"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/insight/internal/circuitbreaker"
)

func newGeoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.EscapedPath() {
		case "/api/v1/team/6245%20Agronomy%20Road%20V6T%201Z4":
			w.Write([]byte(`{"lat":49.26125,"lon":-123.24807}`))
		case "/api/v1/team/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"lat":1,"lon":1}`))
		case "/api/v1/team/broken":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`oops`))
		case "/api/v1/team/partial":
			w.Write([]byte(`{"lat":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"address not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGeolocator(t *testing.T) {
	srv := newGeoServer(t)
	geo := NewHTTPGeolocator(GeolocatorConfig{BaseURL: srv.URL + "/api/v1/team/", Timeout: time.Second}, zerolog.Nop())

	loc, err := geo.Geolocate(context.Background(), "6245 Agronomy Road V6T 1Z4")
	require.NoError(t, err)
	assert.Equal(t, Location{Lat: 49.26125, Lon: -123.24807}, loc)

	for _, address := range []string{"nowhere", "broken", "partial"} {
		t.Run(address, func(t *testing.T) {
			_, err := geo.Geolocate(context.Background(), address)
			assert.ErrorIs(t, err, ErrGeolocation)
		})
	}
}

func TestHTTPGeolocator_ErrorMessage(t *testing.T) {
	srv := newGeoServer(t)
	geo := NewHTTPGeolocator(GeolocatorConfig{BaseURL: srv.URL + "/api/v1/team", Timeout: time.Second}, zerolog.Nop())

	_, err := geo.Geolocate(context.Background(), "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address not found")
}

func TestHTTPGeolocator_Timeout(t *testing.T) {
	srv := newGeoServer(t)
	geo := NewHTTPGeolocator(GeolocatorConfig{BaseURL: srv.URL + "/api/v1/team", Timeout: 50 * time.Millisecond}, zerolog.Nop())

	_, err := geo.Geolocate(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrGeolocation)
}

func TestHTTPGeolocator_BreakerOpensOnServiceFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	geo := NewHTTPGeolocator(GeolocatorConfig{
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		MaxFailures: 3,
		Cooldown:    time.Hour,
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := geo.Geolocate(context.Background(), "anywhere")
		require.ErrorIs(t, err, ErrGeolocation)
	}
	assert.Equal(t, "open", geo.BreakerStats().State)

	_, err := geo.Geolocate(context.Background(), "anywhere")
	assert.ErrorIs(t, err, ErrGeolocation)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int64(3), hits.Load())
}

func TestHTTPGeolocator_UnknownAddressesKeepBreakerClosed(t *testing.T) {
	srv := newGeoServer(t)
	geo := NewHTTPGeolocator(GeolocatorConfig{
		BaseURL:     srv.URL + "/api/v1/team",
		Timeout:     time.Second,
		MaxFailures: 2,
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := geo.Geolocate(context.Background(), "nowhere")
		require.ErrorIs(t, err, ErrGeolocation)
		require.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.Equal(t, "closed", geo.BreakerStats().State)

	_, err := geo.Geolocate(context.Background(), "6245 Agronomy Road V6T 1Z4")
	assert.NoError(t, err)
}
