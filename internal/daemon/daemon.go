package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"reelvault/internal/api"
	"reelvault/internal/config"
	"reelvault/internal/deps"
	"reelvault/internal/encoding"
	"reelvault/internal/history"
	"reelvault/internal/ingest"
	"reelvault/internal/lifecycle"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/notifications"
	"reelvault/internal/preflight"
	"reelvault/internal/storage"
	"reelvault/internal/transcode"
)

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	caps     *deps.Capabilities
	encoder  transcode.Encoder
	notifier notifications.Service
	logPath  string
}

// WithCapabilities skips the encoder probe and uses caps instead.
func WithCapabilities(caps deps.Capabilities) Option {
	return func(o *options) {
		o.caps = &caps
	}
}

// WithEncoder replaces the ffmpeg runner (primarily for tests).
func WithEncoder(enc transcode.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) {
		o.notifier = svc
	}
}

// WithLogPath records the current log file for status output.
func WithLogPath(path string) Option {
	return func(o *options) {
		o.logPath = path
	}
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	logPath string

	store     *metadata.Store
	layout    *storage.Layout
	history   *history.Store
	caps      deps.Capabilities
	worker    *transcode.Worker
	scheduler *transcode.Scheduler
	ingest    *ingest.Service
	lifecycle *lifecycle.Manager
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// New opens the stores, probes encoders, and wires every component. The
// returned daemon is idle until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	layout, err := storage.NewLayout(cfg.Paths.BlobDir, cfg.Paths.DerivedDir)
	if err != nil {
		return nil, fmt.Errorf("storage layout: %w", err)
	}
	store, err := metadata.Open(cfg.Paths.MetadataPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	journal, err := history.Open(cfg.Paths.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	caps := deps.Capabilities{}
	if o.caps != nil {
		caps = *o.caps
	} else {
		caps = deps.ProbeEncoders(ctx, deps.ProbeOptions{
			FFmpegBinary:      cfg.FFmpegBinary(),
			HardwareRequested: cfg.HardwareRequested(),
			VAAPIDevice:       cfg.Transcode.VAAPIDevice,
		})
	}
	enabled := cfg.Transcode.Enabled && caps.TranscodeEnabled()
	hardware := cfg.HardwareRequested() && caps.Hardware
	if cfg.Transcode.Enabled && !enabled {
		logging.WarnWithContext(logger, "transcoding disabled", "transcode_disabled",
			logging.String("detail", caps.Detail),
			logging.String(logging.FieldErrorHint, "install ffmpeg with libx264 or set transcode.ffmpeg_binary"),
			logging.String(logging.FieldImpact, "uploads are stored but no HLS output is produced"),
		)
	}

	encoder := o.encoder
	if encoder == nil {
		encoder = encoding.NewRunner(encoding.SettingsFromConfig(cfg))
	}
	worker := transcode.NewWorker(cfg, store, layout, encoder, journal, hardware, logger)
	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	scheduler := transcode.NewScheduler(worker, transcode.Options{
		MaxConcurrent: cfg.Transcode.MaxConcurrent,
		Enabled:       enabled,
		OutcomeTTL:    cfg.OutcomeTTL(),
		OnFinish:      outcomeNotifier(notifier, store, logger),
	}, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "reelvaultd.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		logPath:   o.logPath,
		store:     store,
		layout:    layout,
		history:   journal,
		caps:      caps,
		worker:    worker,
		scheduler: scheduler,
		ingest:    ingest.NewService(store, layout, scheduler, cfg.Upload.MaxBytes, logger),
		lifecycle: lifecycle.NewManager(cfg, store, layout, scheduler, journal, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, reconciles storage, then launches the
// scheduler, the expiry sweep, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelvault daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.logPreflight()
	if _, err := d.lifecycle.ReconcileOnStartup(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "startup reconciliation incomplete", "reconcile_incomplete",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on blob_dir and derived_dir"),
			logging.String(logging.FieldImpact, "orphaned files may remain on disk until the next restart"),
		)
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.lifecycle.Start(runCtx)
	if err := d.api.start(runCtx); err != nil {
		d.lifecycle.Stop()
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("reelvault daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()),
		logging.Bool("transcode_enabled", d.scheduler.Enabled()),
		logging.Bool("hardware", d.caps.Hardware && d.cfg.HardwareRequested()),
	)
	return nil
}

// Stop shuts the API down, stops background work, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.lifecycle.Stop()
	d.scheduler.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("reelvault daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Addr returns the address the API listens on once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	queued, active := d.scheduler.Counts()
	plan := d.worker.Plan()
	kinds := make([]string, 0, len(plan))
	for _, kind := range plan {
		kinds = append(kinds, string(kind))
	}
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Records:      d.store.Len(),
		MetadataPath: d.store.Path(),
		HistoryPath:  d.history.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Transcode: api.TranscodeStatus{
			Enabled:       d.scheduler.Enabled(),
			Hardware:      d.caps.Hardware && d.cfg.HardwareRequested(),
			Plan:          kinds,
			MaxConcurrent: d.scheduler.MaxConcurrent(),
			Queued:        queued,
			Active:        active,
			Detail:        d.caps.Detail,
		},
		Dependencies: []api.DependencyStatus{dependencyView(d.caps.FFmpeg)},
		Storage:      preflight.StatusChecks(d.cfg),
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.UTC().Format(time.RFC3339)
	}
	return status
}

func (d *Daemon) logPreflight() {
	for _, r := range preflight.RunAll(d.cfg) {
		switch r.Severity() {
		case "error":
			logging.ErrorWithContext(d.logger, "storage preflight failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String(logging.FieldErrorHint, r.Detail),
				logging.String(logging.FieldImpact, "uploads or transcodes touching this directory will fail"),
			)
		case "warn":
			logging.WarnWithContext(d.logger, "storage preflight warning", "preflight_warning",
				logging.String("check", r.Name),
				logging.String(logging.FieldErrorHint, r.Detail),
				logging.String(logging.FieldImpact, "transcodes may be refused until space is freed"),
			)
		default:
			d.logger.Debug("storage preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
		}
	}
}

func dependencyView(s deps.Status) api.DependencyStatus {
	return api.DependencyStatus{
		Name:        s.Name,
		Command:     s.Command,
		Description: s.Description,
		Optional:    s.Optional,
		Available:   s.Available,
		Detail:      s.Detail,
	}
}
