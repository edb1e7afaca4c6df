package transcode

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"reelvault/internal/logging"
	"reelvault/internal/metrics"
	"reelvault/internal/services"
)

const defaultOutcomeCapacity = 4096

// Processor runs one admitted job to completion. It must honour ctx
// cancellation and finish its cleanup before returning.
type Processor interface {
	Process(ctx context.Context, fileID string, report func(Update)) Outcome
}

// Admitter is implemented by processors that can reject a job before it takes
// a slot. A non-empty reason fails the job without running it.
type Admitter interface {
	Admit(fileID string) string
}

// Options configures a Scheduler.
type Options struct {
	MaxConcurrent   int
	Enabled         bool
	OutcomeTTL      time.Duration
	OutcomeCapacity int
	// OnFinish runs outside the scheduler lock after a job reaches a
	// terminal state, including jobs rejected at admission.
	OnFinish func(Job)
}

type activeJob struct {
	job       Job
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Scheduler admits queued jobs to a bounded set of slots in FIFO order.
type Scheduler struct {
	processor Processor
	admitter  Admitter
	logger    *slog.Logger
	max       int
	enabled   bool
	onFinish  func(Job)

	mu       sync.Mutex
	queue    []string
	pending  map[string]time.Time
	active   map[string]*activeJob
	outcomes *expirable.LRU[string, Job]
	baseCtx  context.Context
	cancel   context.CancelFunc
	running  bool
	stopped  bool
	wg       sync.WaitGroup
}

// NewScheduler constructs an idle scheduler. Jobs may be enqueued before
// Start; they are admitted once the scheduler runs.
func NewScheduler(processor Processor, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.OutcomeTTL <= 0 {
		opts.OutcomeTTL = time.Hour
	}
	if opts.OutcomeCapacity <= 0 {
		opts.OutcomeCapacity = defaultOutcomeCapacity
	}
	admitter, _ := processor.(Admitter)
	return &Scheduler{
		processor: processor,
		admitter:  admitter,
		logger:    logging.NewComponentLogger(logger, "transcode"),
		max:       opts.MaxConcurrent,
		enabled:   opts.Enabled && processor != nil,
		onFinish:  opts.OnFinish,
		pending:   make(map[string]time.Time),
		active:    make(map[string]*activeJob),
		outcomes:  expirable.NewLRU[string, Job](opts.OutcomeCapacity, nil, opts.OutcomeTTL),
	}
}

// Enabled reports whether the scheduler accepts jobs.
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// MaxConcurrent returns the slot count.
func (s *Scheduler) MaxConcurrent() int {
	return s.max
}

// Start begins admitting jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("transcode scheduler already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return errors.New("transcode scheduler stopped")
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.logger.Info("transcode scheduler started",
		logging.Int("max_concurrent", s.max),
		logging.Bool("enabled", s.enabled),
		logging.Int("queued", len(s.queue)),
	)
	rejected := s.dispatchLocked()
	s.mu.Unlock()
	s.announce(rejected...)
	return nil
}

// Stop cancels every active job, drops the queue, and waits for workers to
// finish their cleanup.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	dropped := len(s.queue)
	s.queue = nil
	s.pending = make(map[string]time.Time)
	for _, a := range s.active {
		a.cancelled = true
	}
	cancel := s.cancel
	s.publishGaugesLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("transcode scheduler stopped", logging.Int("dropped_queued", dropped))
}

// Enqueue appends fileID to the queue. It returns false when the id is
// already queued or active, or when the scheduler does not accept jobs.
func (s *Scheduler) Enqueue(fileID string) bool {
	if !s.enabled || fileID == "" {
		return false
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	_, queued := s.pending[fileID]
	_, running := s.active[fileID]
	if queued || running {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fileID)
	s.pending[fileID] = time.Now().UTC()
	s.outcomes.Remove(fileID)
	s.logger.Debug("transcode job queued",
		logging.String(logging.FieldFileID, fileID),
		logging.Int("queue_depth", len(s.queue)),
	)
	rejected := s.dispatchLocked()
	s.mu.Unlock()
	s.announce(rejected...)
	return true
}

// Cancel removes a queued job or cancels an active one. For active jobs it
// blocks until the worker has cleaned up and released its slot. With no
// queued or active job it forgets any recent outcome for fileID and returns
// false.
func (s *Scheduler) Cancel(fileID string) bool {
	s.mu.Lock()
	if queuedAt, ok := s.pending[fileID]; ok {
		s.removeQueuedLocked(fileID)
		s.outcomes.Add(fileID, Job{
			FileID:     fileID,
			Status:     StatusCancelled,
			QueuedAt:   queuedAt,
			FinishedAt: time.Now().UTC(),
		})
		metrics.TranscodeJobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
		s.publishGaugesLocked()
		s.mu.Unlock()
		s.logger.Info("queued transcode job cancelled", logging.String(logging.FieldFileID, fileID))
		return true
	}
	a, ok := s.active[fileID]
	if !ok {
		s.outcomes.Remove(fileID)
		s.mu.Unlock()
		return false
	}
	a.cancelled = true
	a.cancel()
	done := a.done
	s.mu.Unlock()

	<-done
	return true
}

// Status returns the live job for fileID, or its recent outcome.
func (s *Scheduler) Status(fileID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.active[fileID]; ok {
		return a.job, true
	}
	if queuedAt, ok := s.pending[fileID]; ok {
		return Job{FileID: fileID, Status: StatusQueued, QueuedAt: queuedAt}, true
	}
	if job, ok := s.outcomes.Get(fileID); ok {
		return job, true
	}
	return Job{}, false
}

// Snapshot lists queued jobs in admission order followed by active jobs
// ordered by start time.
func (s *Scheduler) Snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.queue)+len(s.active))
	for _, id := range s.queue {
		out = append(out, Job{FileID: id, Status: StatusQueued, QueuedAt: s.pending[id]})
	}
	active := make([]Job, 0, len(s.active))
	for _, a := range s.active {
		active = append(active, a.job)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].FileID < active[j].FileID
		}
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return append(out, active...)
}

// Counts returns the number of queued and active jobs.
func (s *Scheduler) Counts() (queued, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), len(s.active)
}

// dispatchLocked fills free slots from the front of the queue. Jobs the
// admitter rejects fail without taking a slot; they are returned so the
// caller can announce them after releasing s.mu.
func (s *Scheduler) dispatchLocked() []Job {
	var rejected []Job
	for s.running && len(s.active) < s.max && len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		queuedAt := s.pending[id]
		delete(s.pending, id)

		if s.admitter != nil {
			if reason := s.admitter.Admit(id); reason != "" {
				job := Job{
					FileID:     id,
					Status:     StatusFailed,
					Reason:     reason,
					QueuedAt:   queuedAt,
					FinishedAt: time.Now().UTC(),
				}
				s.outcomes.Add(id, job)
				metrics.TranscodeJobsTotal.WithLabelValues(string(StatusFailed)).Inc()
				rejected = append(rejected, job)
				continue
			}
		}

		ctx, cancel := context.WithCancel(s.baseCtx)
		a := &activeJob{
			job: Job{
				FileID:    id,
				Status:    StatusTranscoding,
				QueuedAt:  queuedAt,
				StartedAt: time.Now().UTC(),
			},
			cancel: cancel,
			done:   make(chan struct{}),
		}
		s.active[id] = a
		s.wg.Add(1)
		go s.run(ctx, a)
	}
	s.publishGaugesLocked()
	return rejected
}

func (s *Scheduler) run(ctx context.Context, a *activeJob) {
	defer s.wg.Done()
	id := a.job.FileID
	ctx = services.WithFileID(ctx, id)
	outcome := s.processor.Process(ctx, id, func(u Update) {
		s.report(a, u)
	})
	s.finish(a, outcome)
}

func (s *Scheduler) report(a *activeJob, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Kind != "" && u.Kind != a.job.EncoderKind {
		a.job.EncoderKind = u.Kind
		a.job.Progress = 0
	}
	if u.Progress >= 0 && u.Progress <= 100 {
		a.job.Progress = u.Progress
	}
}

func (s *Scheduler) finish(a *activeJob, outcome Outcome) {
	s.mu.Lock()
	a.cancel()
	job := a.job
	job.Status = outcome.Status
	job.Reason = outcome.Reason
	if outcome.EncoderKind != "" {
		job.EncoderKind = outcome.EncoderKind
	}
	if a.cancelled && s.stopped {
		job.Status = StatusCancelled
		job.Reason = ReasonStopped
	} else if a.cancelled {
		job.Status = StatusCancelled
		job.Reason = ""
	}
	if !job.Status.Terminal() {
		job.Status = StatusFailed
	}
	if job.Status == StatusComplete {
		job.Progress = 100
	}
	job.FinishedAt = time.Now().UTC()

	delete(s.active, job.FileID)
	s.outcomes.Add(job.FileID, job)
	metrics.TranscodeJobsTotal.WithLabelValues(string(job.Status)).Inc()
	rejected := s.dispatchLocked()
	s.mu.Unlock()

	s.announce(append([]Job{job}, rejected...)...)
	close(a.done)
}

// announce logs finished jobs and hands them to the OnFinish hook.
func (s *Scheduler) announce(jobs ...Job) {
	for _, job := range jobs {
		s.announceOne(job)
	}
}

func (s *Scheduler) announceOne(job Job) {
	attrs := []logging.Attr{
		logging.String(logging.FieldFileID, job.FileID),
		logging.String("status", string(job.Status)),
		logging.String("encoder_kind", string(job.EncoderKind)),
	}
	if !job.StartedAt.IsZero() {
		attrs = append(attrs, logging.Duration("elapsed", job.FinishedAt.Sub(job.StartedAt)))
	}
	if job.Status == StatusFailed {
		logging.WarnWithContext(s.logger, "transcode job failed", "transcode_failed",
			append(attrs,
				logging.String("reason", job.Reason),
				logging.String(logging.FieldErrorHint, "check ffmpeg output in the daemon log; trigger a new transcode once fixed"),
				logging.String(logging.FieldImpact, "file stays available only as the original upload"),
			)...,
		)
	} else {
		s.logger.Info("transcode job finished", logging.Args(attrs...)...)
	}
	if s.onFinish != nil {
		s.onFinish(job)
	}
}

func (s *Scheduler) removeQueuedLocked(fileID string) {
	delete(s.pending, fileID)
	for i, id := range s.queue {
		if id == fileID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) publishGaugesLocked() {
	metrics.TranscodeQueued.Set(float64(len(s.queue)))
	metrics.TranscodeActive.Set(float64(len(s.active)))
}
