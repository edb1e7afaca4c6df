package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelvault/internal/storage"
)

func newLayout(t *testing.T) *storage.Layout {
	t.Helper()
	base := t.TempDir()
	layout, err := storage.NewLayout(filepath.Join(base, "uploads"), filepath.Join(base, "hls"))
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return layout
}

func TestNewIDIsUniqueHex(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 64; i++ {
		id, err := storage.NewID()
		if err != nil {
			t.Fatal(err)
		}
		if !storage.ValidID(id) {
			t.Fatalf("id %q is not 32 lowercase hex characters", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidDerivedName(t *testing.T) {
	cases := map[string]bool{
		"index.m3u8":          true,
		"segment_00000.ts":    true,
		"segment_123456.ts":   true,
		"segment_1.ts":        false,
		"../index.m3u8":       false,
		"segment_00000.ts.gz": false,
		"other.m3u8":          false,
	}
	for name, want := range cases {
		if got := storage.ValidDerivedName(name); got != want {
			t.Fatalf("ValidDerivedName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWriteBlobCommitsAtomically(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()
	payload := bytes.Repeat([]byte("v"), 4096)

	n, err := layout.WriteBlob(context.Background(), id, bytes.NewReader(payload), 0)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	if !layout.BlobExists(id) {
		t.Fatal("expected blob to exist")
	}
	if _, err := os.Stat(layout.PartialPath(id)); !os.IsNotExist(err) {
		t.Fatalf("expected partial file gone, stat err=%v", err)
	}
}

type failingReader struct{ after int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), f.after)
	f.after -= n
	return n, nil
}

func TestWriteBlobFailureRemovesPartial(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()

	if _, err := layout.WriteBlob(context.Background(), id, &failingReader{after: 100}, 0); err == nil {
		t.Fatal("expected stream error")
	}
	if layout.BlobExists(id) {
		t.Fatal("blob must not exist after failed upload")
	}
	if _, err := os.Stat(layout.PartialPath(id)); !os.IsNotExist(err) {
		t.Fatalf("expected partial removed, stat err=%v", err)
	}
}

func TestWriteBlobEnforcesLimit(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()

	_, err := layout.WriteBlob(context.Background(), id, strings.NewReader(strings.Repeat("x", 11)), 10)
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if layout.BlobExists(id) {
		t.Fatal("oversized blob must not be committed")
	}

	if _, err := layout.WriteBlob(context.Background(), id, strings.NewReader(strings.Repeat("x", 10)), 10); err != nil {
		t.Fatalf("exact-limit upload should succeed: %v", err)
	}
}

func TestWriteBlobHonorsCancellation(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := layout.WriteBlob(ctx, id, io.LimitReader(zeroReader{}, 1<<20), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if layout.BlobExists(id) {
		t.Fatal("cancelled upload must not be committed")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestOutputCompleteRequiresEndList(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()

	if layout.OutputComplete(id) {
		t.Fatal("missing manifest cannot be complete")
	}
	dir, err := layout.ResetOutput(id)
	if err != nil {
		t.Fatalf("ResetOutput: %v", err)
	}
	partial := "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nsegment_00000.ts\n"
	if err := os.WriteFile(filepath.Join(dir, storage.ManifestName), []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}
	if layout.OutputComplete(id) {
		t.Fatal("manifest without ENDLIST cannot be complete")
	}
	if err := os.WriteFile(filepath.Join(dir, storage.ManifestName), []byte(partial+"#EXT-X-ENDLIST\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !layout.OutputComplete(id) {
		t.Fatal("manifest with ENDLIST should be complete")
	}

	if _, err := layout.ResetOutput(id); err != nil {
		t.Fatal(err)
	}
	if layout.OutputComplete(id) {
		t.Fatal("reset must empty the output directory")
	}
	if err := layout.RemoveOutput(id); err != nil {
		t.Fatal(err)
	}
	if layout.OutputExists(id) {
		t.Fatal("expected output removed")
	}
}

func TestListBlobsAndOutputs(t *testing.T) {
	layout := newLayout(t)
	stored, _ := storage.NewID()
	inflight, _ := storage.NewID()
	withOutput, _ := storage.NewID()

	if _, err := layout.WriteBlob(context.Background(), stored, strings.NewReader("data"), 0); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layout.PartialPath(inflight), []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(layout.BlobDir(), "README"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := layout.ResetOutput(withOutput); err != nil {
		t.Fatal(err)
	}

	blobs, err := layout.ListBlobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(blobs) != 2 {
		t.Fatalf("expected 2 blob entries, got %+v", blobs)
	}
	partials := 0
	for _, entry := range blobs {
		if entry.Partial {
			partials++
			if entry.ID != inflight {
				t.Fatalf("unexpected partial id %s", entry.ID)
			}
		}
	}
	if partials != 1 {
		t.Fatalf("expected one partial entry, got %d", partials)
	}

	outputs, err := layout.ListOutputs()
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 1 || outputs[0] != withOutput {
		t.Fatalf("unexpected outputs %v", outputs)
	}

	if err := layout.RemoveBlob(stored); err != nil {
		t.Fatal(err)
	}
	if err := layout.RemoveBlob(stored); err != nil {
		t.Fatalf("removing a missing blob should not fail: %v", err)
	}
}

func TestDerivedFilePathRejectsTraversal(t *testing.T) {
	layout := newLayout(t)
	id, _ := storage.NewID()
	if _, err := layout.DerivedFilePath(id, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := layout.DerivedFilePath("not-an-id", storage.ManifestName); err == nil {
		t.Fatal("expected invalid id rejection")
	}
	path, err := layout.DerivedFilePath(id, "segment_00003.ts")
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(layout.DerivedDir(), id, "segment_00003.ts") {
		t.Fatalf("unexpected path %s", path)
	}
	if layout.DerivedRelPath(id) != id+"/index.m3u8" {
		t.Fatalf("unexpected rel path %s", layout.DerivedRelPath(id))
	}
}
