package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/encoding"
	"reelvault/internal/history"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/storage"
	"reelvault/internal/testsupport"
)

type encodeCall struct {
	kind      encoding.Kind
	outputDir string
	entries   int
}

type fakeEncoder struct {
	calls []encodeCall
	fn    func(ctx context.Context, kind encoding.Kind, outputDir string, progress func(int)) error
}

func (f *fakeEncoder) Encode(ctx context.Context, kind encoding.Kind, input, outputDir string, progress func(int)) error {
	entries, _ := os.ReadDir(outputDir)
	f.calls = append(f.calls, encodeCall{kind: kind, outputDir: outputDir, entries: len(entries)})
	return f.fn(ctx, kind, outputDir, progress)
}

func writeManifest(t *testing.T, dir string, complete bool) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(dir, "segment_00000.ts"), 188)
	body := "#EXTM3U\n#EXTINF:4.0,\nsegment_00000.ts\n"
	if complete {
		body += storage.CompletionMarker + "\n"
	}
	testsupport.WriteText(t, filepath.Join(dir, storage.ManifestName), body)
}

type workerEnv struct {
	cfg     *config.Config
	store   *metadata.Store
	layout  *storage.Layout
	journal *history.Store
	rec     metadata.FileRecord
}

func newWorkerEnv(t *testing.T, opts ...testsupport.ConfigOption) workerEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenMetadata(t, cfg)
	env := workerEnv{
		cfg:     cfg,
		store:   store,
		layout:  testsupport.Layout(t, cfg),
		journal: testsupport.MustOpenHistory(t, cfg),
	}
	env.rec = testsupport.NewVideo(t, cfg, store, "clip.mp4", 4096, time.Now())
	return env
}

func (e workerEnv) worker(enc Encoder, hardware bool) *Worker {
	return NewWorker(e.cfg, e.store, e.layout, enc, e.journal, hardware, logging.NewNop())
}

func (e workerEnv) attempts(t *testing.T) []history.Attempt {
	t.Helper()
	attempts, err := e.journal.ForFile(context.Background(), e.rec.ID)
	if err != nil {
		t.Fatalf("ForFile failed: %v", err)
	}
	return attempts
}

func TestWorkerSoftwareSuccessMarksRecordReady(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, _ encoding.Kind, dir string, progress func(int)) error {
		progress(50)
		progress(100)
		writeManifest(t, dir, true)
		return nil
	}}
	var updates []Update
	outcome := env.worker(enc, false).Process(context.Background(), env.rec.ID, func(u Update) {
		updates = append(updates, u)
	})

	if outcome.Status != StatusComplete || outcome.EncoderKind != encoding.KindSoftware {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(enc.calls) != 1 || enc.calls[0].kind != encoding.KindSoftware {
		t.Fatalf("expected one software attempt, got %+v", enc.calls)
	}
	rec, err := env.store.Get(env.rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.DerivedReady || rec.DerivedPath != env.rec.ID+"/index.m3u8" {
		t.Fatalf("record not marked ready: %+v", rec)
	}
	if last := updates[len(updates)-1]; last.Progress != 100 {
		t.Fatalf("expected final progress 100, got %+v", last)
	}
	if attempts := env.attempts(t); len(attempts) != 1 || attempts[0].Outcome != history.OutcomeComplete {
		t.Fatalf("unexpected history: %+v", attempts)
	}
}

func TestWorkerFallsBackToSoftwareOnceAfterHardwareFailure(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, kind encoding.Kind, dir string, _ func(int)) error {
		if kind == encoding.KindHardware {
			writeManifest(t, dir, false)
			return &encoding.EncodeError{Kind: kind, HardwareFailure: true, Tail: []string{"Failed to initialise VAAPI connection"}, Err: errors.New("exit status 1")}
		}
		writeManifest(t, dir, true)
		return nil
	}}

	outcome := env.worker(enc, true).Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusComplete || outcome.EncoderKind != encoding.KindSoftware {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(enc.calls) != 2 {
		t.Fatalf("expected exactly two attempts, got %d", len(enc.calls))
	}
	if enc.calls[0].kind != encoding.KindHardware || enc.calls[1].kind != encoding.KindSoftware {
		t.Fatalf("unexpected attempt plan: %+v", enc.calls)
	}
	if enc.calls[1].entries != 0 {
		t.Fatalf("software attempt started with %d leftover files from the hardware attempt", enc.calls[1].entries)
	}
	attempts := env.attempts(t)
	if len(attempts) != 2 || attempts[0].Outcome != history.OutcomeFallback || attempts[1].Outcome != history.OutcomeComplete {
		t.Fatalf("unexpected history: %+v", attempts)
	}
	if !strings.Contains(attempts[0].Reason, "VAAPI") {
		t.Fatalf("expected fallback reason to carry stderr, got %q", attempts[0].Reason)
	}
}

func TestWorkerDoesNotRetryAfterSoftwareFailure(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, kind encoding.Kind, dir string, _ func(int)) error {
		writeManifest(t, dir, false)
		return &encoding.EncodeError{Kind: kind, HardwareFailure: kind == encoding.KindHardware, Err: errors.New("exit status 1")}
	}}

	outcome := env.worker(enc, true).Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusFailed || outcome.EncoderKind != encoding.KindSoftware {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(enc.calls) != 2 {
		t.Fatalf("expected hardware plus one software attempt, got %d", len(enc.calls))
	}
	if env.layout.OutputExists(env.rec.ID) {
		t.Fatal("expected partial output removed after failure")
	}
	rec, _ := env.store.Get(env.rec.ID)
	if rec.DerivedReady || !env.layout.BlobExists(env.rec.ID) {
		t.Fatalf("failure must leave record not ready and original intact: %+v", rec)
	}
}

func TestWorkerFailsWithoutRetryOnGenericHardwareError(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, kind encoding.Kind, _ string, _ func(int)) error {
		return &encoding.EncodeError{Kind: kind, Tail: []string{"Invalid data found when processing input"}, Err: errors.New("exit status 1")}
	}}

	outcome := env.worker(enc, true).Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusFailed || outcome.EncoderKind != encoding.KindHardware {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(enc.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(enc.calls))
	}
	if !strings.Contains(outcome.Reason, "Invalid data") {
		t.Fatalf("expected reason to carry ffmpeg verdict, got %q", outcome.Reason)
	}
}

func TestWorkerRejectsIncompleteManifest(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, _ encoding.Kind, dir string, _ func(int)) error {
		writeManifest(t, dir, false)
		return nil
	}}

	outcome := env.worker(enc, false).Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusFailed || outcome.Reason != ReasonIncompleteOutput {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if env.layout.OutputExists(env.rec.ID) {
		t.Fatal("expected incomplete output removed")
	}
}

func TestWorkerPreconditions(t *testing.T) {
	never := &fakeEncoder{fn: func(context.Context, encoding.Kind, string, func(int)) error {
		return errors.New("encoder must not run")
	}}

	t.Run("missing record", func(t *testing.T) {
		env := newWorkerEnv(t)
		outcome := env.worker(never, false).Process(context.Background(), "0123456789abcdef0123456789abcdef", nil)
		if outcome.Status != StatusFailed || outcome.Reason != ReasonRecordMissing {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	t.Run("missing blob", func(t *testing.T) {
		env := newWorkerEnv(t)
		if err := env.layout.RemoveBlob(env.rec.ID); err != nil {
			t.Fatalf("RemoveBlob failed: %v", err)
		}
		outcome := env.worker(never, false).Process(context.Background(), env.rec.ID, nil)
		if outcome.Reason != ReasonSourceMissing {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	t.Run("original removed", func(t *testing.T) {
		env := newWorkerEnv(t)
		if _, err := env.store.Update(env.rec.ID, func(rec *metadata.FileRecord) error {
			rec.OriginalRemoved = true
			return nil
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		outcome := env.worker(never, false).Process(context.Background(), env.rec.ID, nil)
		if outcome.Reason != ReasonOriginalRemoved {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	t.Run("low disk", func(t *testing.T) {
		env := newWorkerEnv(t)
		env.cfg.Transcode.MinFreeGiB = 1 << 30
		outcome := env.worker(never, false).Process(context.Background(), env.rec.ID, nil)
		if outcome.Reason != ReasonInsufficientSpace {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
	})

	if len(never.calls) != 0 {
		t.Fatalf("encoder ran despite failed preconditions: %+v", never.calls)
	}
}

func TestWorkerTimeoutFailsAndCleansUp(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(ctx context.Context, _ encoding.Kind, dir string, _ func(int)) error {
		writeManifest(t, dir, false)
		<-ctx.Done()
		return ctx.Err()
	}}
	w := env.worker(enc, true)
	w.timeout = 50 * time.Millisecond

	outcome := w.Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusFailed || outcome.Reason != ReasonTimeout {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(enc.calls) != 1 {
		t.Fatalf("timeout must not trigger a fallback attempt, got %d calls", len(enc.calls))
	}
	if env.layout.OutputExists(env.rec.ID) {
		t.Fatal("expected output removed after timeout")
	}
	if attempts := env.attempts(t); len(attempts) != 1 || attempts[0].Outcome != history.OutcomeTimeout {
		t.Fatalf("unexpected history: %+v", attempts)
	}
}

func TestWorkerCancellationRemovesOutput(t *testing.T) {
	env := newWorkerEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	enc := &fakeEncoder{fn: func(ctx context.Context, _ encoding.Kind, dir string, _ func(int)) error {
		writeManifest(t, dir, false)
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}

	outcome := env.worker(enc, false).Process(ctx, env.rec.ID, nil)
	if outcome.Status != StatusCancelled {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if env.layout.OutputExists(env.rec.ID) {
		t.Fatal("expected output removed after cancellation")
	}
}

func TestWorkerDiscardsOutputWhenRecordDeletedMidEncode(t *testing.T) {
	env := newWorkerEnv(t)
	enc := &fakeEncoder{fn: func(_ context.Context, _ encoding.Kind, dir string, _ func(int)) error {
		writeManifest(t, dir, true)
		if _, err := env.store.Delete(env.rec.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		return nil
	}}

	outcome := env.worker(enc, false).Process(context.Background(), env.rec.ID, nil)
	if outcome.Status != StatusCancelled || outcome.Reason != ReasonRecordDeleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if env.layout.OutputExists(env.rec.ID) {
		t.Fatal("expected orphaned output removed")
	}
}

func TestSchedulerWithRunnerAndStubFFmpeg(t *testing.T) {
	script := `for last; do :; done
dir=$(dirname "$last")
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 1000 kb/s" >&2
printf 'frame=  100 fps=50 time=00:00:05.00 bitrate=1000kbits/s\r' >&2
: > "$dir/segment_00000.ts"
printf '#EXTM3U\n#EXTINF:4.0,\nsegment_00000.ts\n#EXT-X-ENDLIST\n' > "$last"
`
	env := newWorkerEnv(t, testsupport.WithFFmpegScript(script))
	runner := encoding.NewRunner(encoding.SettingsFromConfig(env.cfg))
	worker := env.worker(runner, false)
	s := NewScheduler(worker, Options{MaxConcurrent: 1, Enabled: true}, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)

	if !s.Enqueue(env.rec.ID) {
		t.Fatal("enqueue failed")
	}
	waitStatus(t, s, env.rec.ID, StatusComplete)
	rec, _ := env.store.Get(env.rec.ID)
	if !rec.DerivedReady {
		t.Fatalf("expected record ready, got %+v", rec)
	}
	if !env.layout.OutputComplete(env.rec.ID) {
		t.Fatal("expected complete manifest on disk")
	}
}

func TestSchedulerFailsMissingSourceBeforeAdmission(t *testing.T) {
	env := newWorkerEnv(t)
	if err := env.layout.RemoveBlob(env.rec.ID); err != nil {
		t.Fatalf("RemoveBlob failed: %v", err)
	}
	enc := &fakeEncoder{fn: func(context.Context, encoding.Kind, string, func(int)) error {
		return errors.New("encoder must not run")
	}}
	s := NewScheduler(env.worker(enc, false), Options{MaxConcurrent: 1, Enabled: true}, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)

	if !s.Enqueue(env.rec.ID) {
		t.Fatal("enqueue failed")
	}
	job, ok := s.Status(env.rec.ID)
	if !ok || job.Status != StatusFailed || job.Reason != ReasonSourceMissing {
		t.Fatalf("expected failure at admission, got %+v", job)
	}
	if queued, active := s.Counts(); queued != 0 || active != 0 {
		t.Fatalf("expected no queued or active jobs, got %d/%d", queued, active)
	}
	if len(enc.calls) != 0 {
		t.Fatalf("encoder ran for a rejected job: %+v", enc.calls)
	}
}
