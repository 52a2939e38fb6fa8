package dataset

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/insight/internal/schema"
	"github.com/basekick-labs/insight/internal/storage"
)

type storeFixture struct {
	dir     string
	catalog *Catalog
	backend *storage.LocalBackend
}

func newStoreFixture(t *testing.T, dir string) *storeFixture {
	t.Helper()
	catalog, err := OpenCatalog(filepath.Join(dir, "insight.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	backend, err := storage.NewLocalBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	return &storeFixture{dir: dir, catalog: catalog, backend: backend}
}

func (f *storeFixture) store() *Store {
	return NewStore(StoreConfig{Catalog: f.catalog, Backend: f.backend}, zerolog.Nop())
}

func sampleDataset(id string) *Dataset {
	return &Dataset{
		Info: Info{ID: id, Kind: schema.KindSections},
		Records: []Record{
			{"Subject": "cpsc", "Avg": 80.0},
			{"Subject": "math", "Avg": 70.0},
		},
	}
}

func TestStore_AddPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	f := newStoreFixture(t, dir)
	ctx := context.Background()

	s := f.store()
	require.NoError(t, s.Add(ctx, sampleDataset("b")))
	require.NoError(t, s.Add(ctx, sampleDataset("a")))
	assert.Equal(t, []string{"a", "b"}, s.IDs())

	_, err := f.backend.Read(ctx, "datasets/a.json.zst")
	require.NoError(t, err)

	reloaded := f.store()
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []Info{
		{ID: "a", Kind: schema.KindSections, NumRows: 2},
		{ID: "b", Kind: schema.KindSections, NumRows: 2},
	}, reloaded.List())

	d, ok := reloaded.Get("a")
	require.True(t, ok)
	assert.Equal(t, sampleDataset("a").Records, d.Records)
}

func TestStore_AddRejects(t *testing.T) {
	s := NewStore(StoreConfig{}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, sampleDataset("a")))
	assert.ErrorIs(t, s.Add(ctx, sampleDataset("a")), ErrExists)
	assert.ErrorIs(t, s.Add(ctx, sampleDataset("a_b")), ErrInvalidID)
	assert.ErrorIs(t, s.Add(ctx, sampleDataset(" ")), ErrInvalidID)

	bad := sampleDataset("c")
	bad.Kind = "courses"
	assert.Error(t, s.Add(ctx, bad))
}

func TestStore_Remove(t *testing.T) {
	f := newStoreFixture(t, t.TempDir())
	ctx := context.Background()
	s := f.store()

	require.NoError(t, s.Add(ctx, sampleDataset("a")))
	require.NoError(t, s.Remove(ctx, "a"))
	assert.Empty(t, s.IDs())

	assert.ErrorIs(t, s.Remove(ctx, "a"), ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "a_b"), ErrInvalidID)

	_, err := f.backend.Read(ctx, "datasets/a.json.zst")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	reloaded := f.store()
	require.NoError(t, reloaded.Load(ctx))
	assert.Empty(t, reloaded.List())
}

func TestStore_LoadSkipsCorruptBodies(t *testing.T) {
	f := newStoreFixture(t, t.TempDir())
	ctx := context.Background()
	s := f.store()

	require.NoError(t, s.Add(ctx, sampleDataset("good")))
	require.NoError(t, s.Add(ctx, sampleDataset("corrupt")))
	require.NoError(t, s.Add(ctx, sampleDataset("missing")))
	require.NoError(t, f.backend.Write(ctx, "datasets/corrupt.json.zst", []byte("garbage")))
	require.NoError(t, f.backend.Delete(ctx, "datasets/missing.json.zst"))

	reloaded := f.store()
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"good"}, reloaded.IDs())
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := NewStore(StoreConfig{}, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, sampleDataset("a")))

	snap := s.Snapshot()
	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Add(ctx, sampleDataset("b")))

	assert.Equal(t, []Info{{ID: "a", Kind: schema.KindSections, NumRows: 2}}, snap.Datasets())
	records, err := snap.Records("a")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = snap.Records("b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadDeletesOrphanedBodies(t *testing.T) {
	f := newStoreFixture(t, t.TempDir())
	ctx := context.Background()

	s := f.store()
	require.NoError(t, s.Add(ctx, sampleDataset("kept")))
	require.NoError(t, f.backend.Write(ctx, "datasets/orphan.json.zst", []byte("left over")))

	reloaded := f.store()
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"kept"}, reloaded.IDs())

	paths, err := f.backend.List(ctx, "datasets/")
	require.NoError(t, err)
	assert.Equal(t, []string{"datasets/kept.json.zst"}, paths)
}

// gatedBackend blocks every Write until release is closed.
type gatedBackend struct {
	storage.Backend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Write(ctx context.Context, path string, data []byte) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Backend.Write(ctx, path, data)
}

func TestStore_ReadsDoNotWaitOnPersistence(t *testing.T) {
	f := newStoreFixture(t, t.TempDir())
	ctx := context.Background()
	gate := &gatedBackend{Backend: f.backend, entered: make(chan struct{}, 2), release: make(chan struct{})}
	s := NewStore(StoreConfig{Catalog: f.catalog, Backend: gate}, zerolog.Nop())

	first := make(chan error, 1)
	go func() { first <- s.Add(ctx, sampleDataset("slow")) }()
	<-gate.entered

	second := make(chan error, 1)
	go func() { second <- s.Add(ctx, sampleDataset("slow")) }()

	read := make(chan []Info, 1)
	go func() { read <- s.Snapshot().Datasets() }()
	select {
	case infos := <-read:
		assert.Empty(t, infos)
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot blocked behind a backend write")
	}

	close(gate.release)
	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, ErrExists)
	assert.Equal(t, []string{"slow"}, s.IDs())
}
