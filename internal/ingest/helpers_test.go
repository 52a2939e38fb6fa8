package ingest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	body string
}

// makeZip builds an in-memory archive. Names ending in "/" become directories.
func makeZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.body != "" {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeGeolocator serves fixed locations and fails for unknown addresses.
type fakeGeolocator struct {
	mu        sync.Mutex
	locations map[string]Location
	calls     map[string]int
}

func newFakeGeolocator(locations map[string]Location) *fakeGeolocator {
	return &fakeGeolocator{locations: locations, calls: make(map[string]int)}
}

func (f *fakeGeolocator) Geolocate(ctx context.Context, address string) (Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	loc, ok := f.locations[address]
	if !ok {
		return Location{}, fmt.Errorf("%w: unknown address %q", ErrGeolocation, address)
	}
	return loc, nil
}

func newTestParser(geo Geolocator) *Parser {
	return NewParser(ParserConfig{Geolocator: geo, MaxConcurrency: 2}, zerolog.Nop())
}
