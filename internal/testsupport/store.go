package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/history"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/storage"
)

// MustOpenMetadata opens the metadata store configured by cfg.
func MustOpenMetadata(t testing.TB, cfg *config.Config) *metadata.Store {
	t.Helper()

	store, err := metadata.Open(cfg.Paths.MetadataPath, logging.NewNop())
	if err != nil {
		t.Fatalf("metadata.Open: %v", err)
	}
	return store
}

// MustOpenHistory opens the history journal and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Layout returns the storage layout configured by cfg.
func Layout(t testing.TB, cfg *config.Config) *storage.Layout {
	t.Helper()

	layout, err := storage.NewLayout(cfg.Paths.BlobDir, cfg.Paths.DerivedDir)
	if err != nil {
		t.Fatalf("storage.NewLayout: %v", err)
	}
	return layout
}

// NewVideo writes a blob of size bytes and inserts a matching video record
// created at the given time.
func NewVideo(t testing.TB, cfg *config.Config, store *metadata.Store, name string, size int64, createdAt time.Time) metadata.FileRecord {
	t.Helper()

	id, err := storage.NewID()
	if err != nil {
		t.Fatalf("storage.NewID: %v", err)
	}
	WriteFile(t, Layout(t, cfg).BlobPath(id), size)
	rec := metadata.FileRecord{
		ID:          id,
		DisplayName: name,
		ByteSize:    size,
		ContentType: "video/mp4",
		CreatedAt:   createdAt.UTC(),
		DedupeKey:   metadata.NewDedupeKey(name, size),
	}
	if err := store.Insert(rec); err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return rec
}

// WriteCompleteOutput writes a finished HLS output for id and returns the
// manifest path.
func WriteCompleteOutput(t testing.TB, cfg *config.Config, id string) string {
	t.Helper()

	layout := Layout(t, cfg)
	WriteFile(t, filepath.Join(layout.OutputDir(id), "segment_00000.ts"), 188)
	manifest := layout.ManifestPath(id)
	WriteText(t, manifest, "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:4.0,\nsegment_00000.ts\n"+storage.CompletionMarker+"\n")
	return manifest
}
