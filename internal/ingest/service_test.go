package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/ingest"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/services"
	"reelvault/internal/storage"
	"reelvault/internal/testsupport"
)

type recordingEnqueuer struct {
	ids      []string
	disabled bool
}

func (r *recordingEnqueuer) Enqueue(id string) bool {
	r.ids = append(r.ids, id)
	return true
}

func (r *recordingEnqueuer) Enabled() bool { return !r.disabled }

type ingestEnv struct {
	cfg    *config.Config
	store  *metadata.Store
	layout *storage.Layout
	queue  *recordingEnqueuer
	svc    *ingest.Service
}

func newIngestEnv(t *testing.T, opts ...testsupport.ConfigOption) ingestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	env := ingestEnv{
		cfg:    cfg,
		store:  testsupport.MustOpenMetadata(t, cfg),
		layout: testsupport.Layout(t, cfg),
		queue:  &recordingEnqueuer{},
	}
	env.svc = ingest.NewService(env.store, env.layout, env.queue, cfg.Upload.MaxBytes, logging.NewNop())
	return env
}

func (e ingestEnv) blobCount(t *testing.T) int {
	t.Helper()
	blobs, err := e.layout.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs failed: %v", err)
	}
	return len(blobs)
}

func upload(t *testing.T, svc *ingest.Service, name string, body []byte, declared int64) ingest.Result {
	t.Helper()
	res, err := svc.Upload(context.Background(), ingest.Request{
		DisplayName:  name,
		DeclaredSize: declared,
		Body:         bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Upload(%s) failed: %v", name, err)
	}
	return res
}

func TestUploadStoresBlobAndRecord(t *testing.T) {
	env := newIngestEnv(t)
	body := bytes.Repeat([]byte("v"), 2048)

	res := upload(t, env.svc, "../holiday.mp4", body, int64(len(body)))
	if res.Existing {
		t.Fatal("first upload must not be reported as existing")
	}
	if !storage.ValidID(res.Record.ID) {
		t.Fatalf("unexpected id shape %q", res.Record.ID)
	}
	if res.Record.DisplayName != "holiday.mp4" || res.Record.ContentType != "video/mp4" || res.Record.ByteSize != 2048 {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
	if res.Record.DerivedReady {
		t.Fatal("new record must not be ready")
	}
	if !res.Transcoding || len(env.queue.ids) != 1 || env.queue.ids[0] != res.Record.ID {
		t.Fatalf("expected video to be enqueued, got %v", env.queue.ids)
	}
	data, err := os.ReadFile(env.layout.BlobPath(res.Record.ID))
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatal("blob contents differ from upload")
	}
	stored, err := env.store.Get(res.Record.ID)
	if err != nil || stored.DedupeKey != metadata.NewDedupeKey("holiday.mp4", 2048) {
		t.Fatalf("unexpected stored record %+v (err %v)", stored, err)
	}
}

func TestConcurrentUploadsGetDistinctIDs(t *testing.T) {
	env := newIngestEnv(t)
	body := []byte("same bytes")
	results := make(chan ingest.Result, 8)
	for i := 0; i < 8; i++ {
		go func() {
			res, err := env.svc.Upload(context.Background(), ingest.Request{DisplayName: "same.mkv", Body: bytes.NewReader(body)})
			if err != nil {
				t.Errorf("Upload failed: %v", err)
			}
			results <- res
		}()
	}
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		res := <-results
		if seen[res.Record.ID] {
			t.Fatalf("duplicate id %s", res.Record.ID)
		}
		seen[res.Record.ID] = true
	}
	if got := env.blobCount(t); got != 8 {
		t.Fatalf("expected 8 blobs, got %d", got)
	}
	if env.store.Len() != 8 {
		t.Fatalf("expected 8 records, got %d", env.store.Len())
	}
}

func TestUploadDeduplicatesReadyRecord(t *testing.T) {
	env := newIngestEnv(t)
	body := bytes.Repeat([]byte("x"), 512)
	first := upload(t, env.svc, "clip.mov", body, 512)
	if _, err := env.store.Update(first.Record.ID, func(rec *metadata.FileRecord) error {
		rec.DerivedReady = true
		rec.DerivedPath = env.layout.DerivedRelPath(rec.ID)
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reader := bytes.NewReader(body)
	res, err := env.svc.Upload(context.Background(), ingest.Request{
		DisplayName:  "clip.mov",
		DeclaredSize: 512,
		SetName:      "wall",
		Body:         reader,
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !res.Existing || res.Record.ID != first.Record.ID {
		t.Fatalf("expected existing record %s, got %+v", first.Record.ID, res)
	}
	if res.Record.SetName != "wall" {
		t.Fatalf("expected duplicate upload to tag set, got %q", res.Record.SetName)
	}
	if reader.Len() != 0 {
		t.Fatal("expected duplicate body to be drained")
	}
	if got := env.blobCount(t); got != 1 {
		t.Fatalf("expected no new blob, got %d", got)
	}
	if len(env.queue.ids) != 1 {
		t.Fatalf("duplicate upload must not enqueue, got %v", env.queue.ids)
	}
}

func TestUploadWithUnknownSizeDedupesAfterStreaming(t *testing.T) {
	env := newIngestEnv(t)
	body := bytes.Repeat([]byte("y"), 300)
	first := upload(t, env.svc, "loop.webm", body, 0)
	if _, err := env.store.Update(first.Record.ID, func(rec *metadata.FileRecord) error {
		rec.DerivedReady = true
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	res := upload(t, env.svc, "loop.webm", body, 0)
	if !res.Existing || res.Record.ID != first.Record.ID {
		t.Fatalf("expected post-stream dedupe, got %+v", res)
	}
	if got := env.blobCount(t); got != 1 {
		t.Fatalf("expected duplicate blob removed, got %d blobs", got)
	}
}

func TestUploadDoesNotDedupeUnreadyRecord(t *testing.T) {
	env := newIngestEnv(t)
	body := []byte("pending")
	first := upload(t, env.svc, "pending.mp4", body, int64(len(body)))
	second := upload(t, env.svc, "pending.mp4", body, int64(len(body)))
	if second.Existing || second.Record.ID == first.Record.ID {
		t.Fatal("records without finished output must not dedupe")
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	env := newIngestEnv(t, testsupport.WithUploadLimit(100))
	_, err := env.svc.Upload(context.Background(), ingest.Request{
		DisplayName: "big.mp4",
		Body:        bytes.NewReader(make([]byte, 101)),
	})
	if !errors.Is(err, storage.ErrTooLarge) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected too-large validation error, got %v", err)
	}
	if got := env.blobCount(t); got != 0 {
		t.Fatalf("expected no blobs after rejection, got %d", got)
	}
	if env.store.Len() != 0 {
		t.Fatal("expected no record after rejection")
	}
}

type failingReader struct {
	remaining int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := min(len(p), f.remaining)
	f.remaining -= n
	return n, nil
}

func TestUploadFailureLeavesNoPartial(t *testing.T) {
	env := newIngestEnv(t)
	_, err := env.svc.Upload(context.Background(), ingest.Request{DisplayName: "cut.mp4", Body: &failingReader{remaining: 4096}})
	if err == nil {
		t.Fatal("expected upload error")
	}
	entries, _ := os.ReadDir(env.cfg.Paths.BlobDir)
	if len(entries) != 0 {
		t.Fatalf("expected empty blob dir, found %d entries", len(entries))
	}
	if env.store.Len() != 0 {
		t.Fatal("expected no record after failed upload")
	}
}

func TestUploadHonoursCancelledContext(t *testing.T) {
	env := newIngestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.svc.Upload(ctx, ingest.Request{DisplayName: "c.mp4", Body: strings.NewReader("data")}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := env.blobCount(t); got != 0 {
		t.Fatalf("expected no blobs, got %d", got)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newIngestEnv(t)
	_, err := env.svc.Upload(context.Background(), ingest.Request{DisplayName: "  ", Body: strings.NewReader("x")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	_, err = env.svc.Upload(context.Background(), ingest.Request{DisplayName: "short.mp4", DeclaredSize: 10, Body: strings.NewReader("x")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for size mismatch, got %v", err)
	}
	if got := env.blobCount(t); got != 0 {
		t.Fatalf("expected mismatched blob removed, got %d", got)
	}
}

func TestNonVideoUploadIsNotTranscoded(t *testing.T) {
	env := newIngestEnv(t)
	res := upload(t, env.svc, "notes.txt", []byte("hello"), 5)
	if res.Transcoding || len(env.queue.ids) != 0 {
		t.Fatal("non-video upload must not be enqueued")
	}
	if !strings.HasPrefix(res.Record.ContentType, "text/plain") {
		t.Fatalf("unexpected content type %q", res.Record.ContentType)
	}
}

func TestDisabledTranscodingSkipsEnqueue(t *testing.T) {
	env := newIngestEnv(t)
	env.queue.disabled = true
	res := upload(t, env.svc, "clip.mp4", []byte("video"), 5)
	if res.Transcoding || len(env.queue.ids) != 0 {
		t.Fatal("disabled transcoding must not enqueue")
	}
	if time.Since(res.Record.CreatedAt) > time.Minute {
		t.Fatalf("unexpected createdAt %s", res.Record.CreatedAt)
	}
}
