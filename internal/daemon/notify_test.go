package daemon

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"reelvault/internal/api"
	"reelvault/internal/logging"
	"reelvault/internal/notifications"
	"reelvault/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func (r *recordingNotifier) snapshot() ([]notifications.Event, notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), r.last
}

func TestTranscodeOutcomePublished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := &recordingNotifier{}
	d, err := New(context.Background(), cfg, logging.NewNop(),
		WithCapabilities(softwareOnly()),
		WithEncoder(&hlsEncoder{}),
		WithNotifier(rec),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client, err := api.NewClient(d.Addr())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	body := bytes.Repeat([]byte("n"), 512)
	up, err := client.Upload(context.Background(), api.UploadRequest{
		Name:        "notify.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		events, payload := rec.snapshot()
		if len(events) == 1 {
			if events[0] != notifications.EventTranscodeCompleted {
				t.Fatalf("unexpected event %s", events[0])
			}
			if payload["id"] != up.ID || payload["name"] != "notify.mp4" {
				t.Fatalf("unexpected payload %+v", payload)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one published outcome, got %v", events)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
