package transcode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelvault/internal/encoding"
	"reelvault/internal/logging"
)

type fakeProcessor struct {
	mu       sync.Mutex
	started  []string
	release  map[string]chan Outcome
	cleaned  map[string]bool
	running  atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
	startedC chan string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		release:  make(map[string]chan Outcome),
		cleaned:  make(map[string]bool),
		startedC: make(chan string, 128),
	}
}

func (f *fakeProcessor) gate(id string) chan Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.release[id]
	if !ok {
		ch = make(chan Outcome, 1)
		f.release[id] = ch
	}
	return ch
}

func (f *fakeProcessor) Process(ctx context.Context, fileID string, report func(Update)) Outcome {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.started = append(f.started, fileID)
	hold := f.hold
	f.mu.Unlock()
	report(Update{Kind: encoding.KindSoftware, Progress: 42})
	f.startedC <- fileID

	if hold > 0 {
		select {
		case <-time.After(hold):
			return Outcome{Status: StatusComplete, EncoderKind: encoding.KindSoftware}
		case <-ctx.Done():
		}
	} else {
		select {
		case out := <-f.gate(fileID):
			return out
		case <-ctx.Done():
		}
	}
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	f.cleaned[fileID] = true
	f.mu.Unlock()
	return Outcome{Status: StatusCancelled}
}

func (f *fakeProcessor) finish(id string, status Status) {
	f.gate(id) <- Outcome{Status: status, EncoderKind: encoding.KindSoftware}
}

func (f *fakeProcessor) startedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func waitStarted(t *testing.T, f *fakeProcessor, want string) {
	t.Helper()
	select {
	case got := <-f.startedC:
		if got != want {
			t.Fatalf("expected %s to start next, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to start", want)
	}
}

func waitStatus(t *testing.T, s *Scheduler, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := s.Status(id); ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.Status(id)
	t.Fatalf("timed out waiting for %s to reach %s (last %+v)", id, want, job)
	return Job{}
}

func startScheduler(t *testing.T, p Processor, max int) *Scheduler {
	t.Helper()
	s := NewScheduler(p, Options{MaxConcurrent: max, Enabled: true, OutcomeTTL: time.Minute}, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerAdmitsInFIFOOrderWithSingleSlot(t *testing.T) {
	proc := newFakeProcessor()
	s := startScheduler(t, proc, 1)

	for _, id := range []string{"a", "b", "c"} {
		if !s.Enqueue(id) {
			t.Fatalf("Enqueue(%s) returned false", id)
		}
	}
	waitStarted(t, proc, "a")
	if queued, active := s.Counts(); queued != 2 || active != 1 {
		t.Fatalf("expected 2 queued and 1 active, got %d/%d", queued, active)
	}
	if job, _ := s.Status("b"); job.Status != StatusQueued {
		t.Fatalf("expected b queued, got %s", job.Status)
	}

	proc.finish("a", StatusComplete)
	waitStarted(t, proc, "b")
	if job := waitStatus(t, s, "a", StatusComplete); job.Progress != 100 {
		t.Fatalf("expected complete job at 100%%, got %d", job.Progress)
	}

	proc.finish("b", StatusFailed)
	waitStarted(t, proc, "c")
	waitStatus(t, s, "b", StatusFailed)

	proc.finish("c", StatusComplete)
	waitStatus(t, s, "c", StatusComplete)

	order := proc.startedOrder()
	if fmt.Sprint(order) != "[a b c]" {
		t.Fatalf("unexpected admission order: %v", order)
	}
}

func TestSchedulerBoundsActiveSetUnderChurn(t *testing.T) {
	proc := newFakeProcessor()
	proc.hold = 10 * time.Millisecond
	s := startScheduler(t, proc, 2)

	const jobs = 25
	for i := 0; i < jobs; i++ {
		s.Enqueue(fmt.Sprintf("job-%02d", i))
		if i%5 == 0 {
			_, active := s.Counts()
			if active > 2 {
				t.Fatalf("active set exceeded bound: %d", active)
			}
		}
	}
	for i := 0; i < jobs; i++ {
		waitStatus(t, s, fmt.Sprintf("job-%02d", i), StatusComplete)
	}
	if peak := proc.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, observed %d", peak)
	}
	if queued, active := s.Counts(); queued != 0 || active != 0 {
		t.Fatalf("expected drained scheduler, got %d queued %d active", queued, active)
	}
}

func TestSchedulerEnqueueIsIdempotent(t *testing.T) {
	proc := newFakeProcessor()
	s := startScheduler(t, proc, 1)

	if !s.Enqueue("a") {
		t.Fatal("first enqueue should succeed")
	}
	waitStarted(t, proc, "a")
	if s.Enqueue("a") {
		t.Fatal("enqueue of an active id should be a no-op")
	}
	if !s.Enqueue("b") || s.Enqueue("b") {
		t.Fatal("second enqueue of a queued id should be a no-op")
	}
	if queued, _ := s.Counts(); queued != 1 {
		t.Fatalf("expected one queued job, got %d", queued)
	}
	proc.finish("a", StatusComplete)
	waitStarted(t, proc, "b")
	proc.finish("b", StatusComplete)
	waitStatus(t, s, "b", StatusComplete)

	if !s.Enqueue("a") {
		t.Fatal("a finished job may be enqueued again")
	}
	waitStarted(t, proc, "a")
	proc.finish("a", StatusComplete)
}

func TestSchedulerCancelQueuedJob(t *testing.T) {
	proc := newFakeProcessor()
	s := startScheduler(t, proc, 1)

	s.Enqueue("a")
	s.Enqueue("b")
	s.Enqueue("c")
	waitStarted(t, proc, "a")

	if !s.Cancel("b") {
		t.Fatal("expected Cancel of queued job to succeed")
	}
	if job, _ := s.Status("b"); job.Status != StatusCancelled {
		t.Fatalf("expected cancelled outcome, got %s", job.Status)
	}
	proc.finish("a", StatusComplete)
	waitStarted(t, proc, "c")
	proc.finish("c", StatusComplete)

	if s.Cancel("unknown") {
		t.Fatal("Cancel of unknown id should report false")
	}
}

func TestSchedulerCancelActiveWaitsForCleanup(t *testing.T) {
	proc := newFakeProcessor()
	s := startScheduler(t, proc, 1)

	s.Enqueue("a")
	s.Enqueue("b")
	waitStarted(t, proc, "a")
	if job, _ := s.Status("a"); job.Progress != 42 || job.EncoderKind != encoding.KindSoftware {
		t.Fatalf("expected reported progress on active job, got %+v", job)
	}

	if !s.Cancel("a") {
		t.Fatal("expected Cancel of active job to succeed")
	}
	proc.mu.Lock()
	cleaned := proc.cleaned["a"]
	proc.mu.Unlock()
	if !cleaned {
		t.Fatal("Cancel returned before the worker finished cleanup")
	}
	if job, _ := s.Status("a"); job.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", job.Status)
	}
	waitStarted(t, proc, "b")
	proc.finish("b", StatusComplete)
}

func TestSchedulerCancelForgetsFinishedOutcome(t *testing.T) {
	proc := newFakeProcessor()
	s := startScheduler(t, proc, 1)

	s.Enqueue("a")
	waitStarted(t, proc, "a")
	proc.finish("a", StatusComplete)
	waitStatus(t, s, "a", StatusComplete)

	if s.Cancel("a") {
		t.Fatal("Cancel of a finished job should report false")
	}
	if job, ok := s.Status("a"); ok {
		t.Fatalf("expected outcome dropped, got %+v", job)
	}
}

func TestSchedulerHoldsQueueUntilStart(t *testing.T) {
	proc := newFakeProcessor()
	s := NewScheduler(proc, Options{MaxConcurrent: 1, Enabled: true}, logging.NewNop())
	t.Cleanup(s.Stop)

	s.Enqueue("early")
	if queued, active := s.Counts(); queued != 1 || active != 0 {
		t.Fatalf("expected job held before start, got %d/%d", queued, active)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, proc, "early")
	proc.finish("early", StatusComplete)
}

func TestDisabledSchedulerRejectsJobs(t *testing.T) {
	s := NewScheduler(newFakeProcessor(), Options{MaxConcurrent: 1, Enabled: false}, logging.NewNop())
	if s.Enabled() {
		t.Fatal("expected scheduler disabled")
	}
	if s.Enqueue("a") {
		t.Fatal("disabled scheduler must not accept jobs")
	}
}

func TestSchedulerStopCancelsActiveJobs(t *testing.T) {
	proc := newFakeProcessor()
	s := NewScheduler(proc, Options{MaxConcurrent: 2, Enabled: true}, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Enqueue("a")
	s.Enqueue("b")
	s.Enqueue("c")
	<-proc.startedC
	<-proc.startedC

	s.Stop()
	if queued, active := s.Counts(); queued != 0 || active != 0 {
		t.Fatalf("expected empty scheduler after stop, got %d/%d", queued, active)
	}
	job, _ := s.Status("a")
	if job.Status != StatusCancelled || job.Reason != ReasonStopped {
		t.Fatalf("expected stopped cancellation, got %+v", job)
	}
	if s.Enqueue("d") {
		t.Fatal("stopped scheduler must not accept jobs")
	}
}

type admittingProcessor struct {
	*fakeProcessor
	reject map[string]string
}

func (p admittingProcessor) Admit(fileID string) string {
	return p.reject[fileID]
}

func TestSchedulerRejectsAtAdmissionWithoutTakingSlot(t *testing.T) {
	proc := admittingProcessor{fakeProcessor: newFakeProcessor(), reject: map[string]string{"doomed": ReasonSourceMissing}}
	finished := make(chan Job, 8)
	s := NewScheduler(proc, Options{
		MaxConcurrent: 1,
		Enabled:       true,
		OnFinish:      func(job Job) { finished <- job },
	}, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)

	s.Enqueue("a")
	waitStarted(t, proc.fakeProcessor, "a")
	s.Enqueue("doomed")
	s.Enqueue("b")
	proc.finish("a", StatusComplete)
	waitStarted(t, proc.fakeProcessor, "b")

	job, _ := s.Status("doomed")
	if job.Status != StatusFailed || job.Reason != ReasonSourceMissing || !job.StartedAt.IsZero() {
		t.Fatalf("expected rejected job failed before starting, got %+v", job)
	}
	for _, id := range proc.startedOrder() {
		if id == "doomed" {
			t.Fatal("rejected job reached the processor")
		}
	}
	seen := map[string]Status{}
	for len(seen) < 2 {
		select {
		case job := <-finished:
			seen[job.FileID] = job.Status
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for finish hooks, got %v", seen)
		}
	}
	if seen["a"] != StatusComplete || seen["doomed"] != StatusFailed {
		t.Fatalf("unexpected finish hooks: %v", seen)
	}

	if queued, active := s.Counts(); queued != 0 || active != 1 {
		t.Fatalf("rejected job must not stay queued or hold a slot, got %d/%d", queued, active)
	}
	proc.finish("b", StatusComplete)
}
