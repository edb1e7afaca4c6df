package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/encoding"
	"reelvault/internal/fileutil"
	"reelvault/internal/history"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/metrics"
	"reelvault/internal/services"
	"reelvault/internal/storage"
)

// Encoder runs one ffmpeg attempt. encoding.Runner satisfies it.
type Encoder interface {
	Encode(ctx context.Context, kind encoding.Kind, input, outputDir string, progress func(int)) error
}

// Journal records finished attempts. history.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, attempt history.Attempt) (history.Attempt, error)
}

// Worker executes transcode jobs for the scheduler.
type Worker struct {
	store        *metadata.Store
	layout       *storage.Layout
	encoder      Encoder
	journal      Journal
	hardware     bool
	minFreeBytes uint64
	timeout      time.Duration
	logger       *slog.Logger
}

// NewWorker builds a Worker. hardware enables the VAAPI attempt ahead of the
// software fallback; journal may be nil.
func NewWorker(cfg *config.Config, store *metadata.Store, layout *storage.Layout, encoder Encoder, journal Journal, hardware bool, logger *slog.Logger) *Worker {
	return &Worker{
		store:        store,
		layout:       layout,
		encoder:      encoder,
		journal:      journal,
		hardware:     hardware,
		minFreeBytes: cfg.MinFreeBytes(),
		timeout:      cfg.JobTimeout(),
		logger:       logging.NewComponentLogger(logger, "transcode-worker"),
	}
}

// Plan returns the encoder kinds tried in order.
func (w *Worker) Plan() []encoding.Kind {
	if w.hardware {
		return []encoding.Kind{encoding.KindHardware, encoding.KindSoftware}
	}
	return []encoding.Kind{encoding.KindSoftware}
}

// Process checks preconditions and then walks the encoder plan. Partial
// output is removed on every path that does not end in a complete manifest.
func (w *Worker) Process(ctx context.Context, fileID string, report func(Update)) Outcome {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, w.logger)

	input, reason := w.checkPreconditions(fileID)
	if reason != "" {
		logging.WarnWithContext(logger, "transcode preconditions not met", "transcode_precondition_failed",
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "verify the upload still exists and the HLS volume has free space"),
			logging.String(logging.FieldImpact, "no encoder was started for this file"),
		)
		return Outcome{Status: StatusFailed, Reason: reason}
	}

	plan := w.Plan()
	for i, kind := range plan {
		attempt := i + 1
		attemptCtx := services.WithAttempt(ctx, fmt.Sprintf("%d/%s", attempt, kind))
		attemptLogger := logging.WithContext(attemptCtx, w.logger)
		if report != nil {
			report(Update{Kind: kind, Progress: 0})
		}

		started := time.Now().UTC()
		err := w.runAttempt(attemptCtx, attemptLogger, fileID, kind, input, report)
		finished := time.Now().UTC()
		metrics.TranscodeDuration.WithLabelValues(string(kind)).Observe(finished.Sub(started).Seconds())

		if err == nil {
			if outcome, ok := w.finalize(fileID, kind); !ok {
				w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeCancelled, outcome.Reason, started, finished)
				return outcome
			}
			w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeComplete, "", started, finished)
			attemptLogger.Info("transcode attempt complete",
				logging.String(logging.FieldEventType, "transcode_complete"),
				logging.Duration("elapsed", finished.Sub(started)),
			)
			return Outcome{Status: StatusComplete, EncoderKind: kind}
		}

		w.discardOutput(attemptLogger, fileID)

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeTimeout, ReasonTimeout, started, finished)
				return Outcome{Status: StatusFailed, EncoderKind: kind, Reason: ReasonTimeout}
			}
			w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeCancelled, "", started, finished)
			return Outcome{Status: StatusCancelled, EncoderKind: kind}
		}

		if kind == encoding.KindHardware && encoding.IsHardwareFailure(err) && i < len(plan)-1 {
			w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeFallback, err.Error(), started, finished)
			logging.WarnWithContext(attemptLogger, "hardware encoder failed; retrying with software encoder", "transcode_hardware_fallback",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the VAAPI driver and render device permissions"),
				logging.String(logging.FieldImpact, "encoding continues on the CPU and takes longer"),
			)
			continue
		}

		w.journalAttempt(ctx, fileID, attempt, kind, history.OutcomeFailed, err.Error(), started, finished)
		return Outcome{Status: StatusFailed, EncoderKind: kind, Reason: err.Error()}
	}
	return Outcome{Status: StatusFailed, Reason: "no encoder attempts planned"}
}

// Admit runs the record, source and free-space checks before the scheduler
// grants a slot. Process repeats them since conditions can change while queued.
func (w *Worker) Admit(fileID string) string {
	_, reason := w.checkPreconditions(fileID)
	return reason
}

func (w *Worker) checkPreconditions(fileID string) (string, string) {
	rec, err := w.store.Get(fileID)
	if err != nil {
		return "", ReasonRecordMissing
	}
	if rec.OriginalRemoved {
		return "", ReasonOriginalRemoved
	}
	if !w.layout.BlobExists(fileID) {
		return "", ReasonSourceMissing
	}
	if w.minFreeBytes > 0 {
		free, err := fileutil.FreeBytes(w.layout.DerivedDir())
		if err != nil {
			w.logger.Debug("free space probe failed", logging.Error(err))
		} else if free < w.minFreeBytes {
			return "", ReasonInsufficientSpace
		}
	}
	return w.layout.BlobPath(fileID), ""
}

func (w *Worker) runAttempt(ctx context.Context, logger *slog.Logger, fileID string, kind encoding.Kind, input string, report func(Update)) error {
	outputDir, err := w.layout.ResetOutput(fileID)
	if err != nil {
		return err
	}
	logger.Info("transcode attempt started",
		logging.String(logging.FieldEventType, "transcode_started"),
		logging.String("encoder_kind", string(kind)),
	)

	sampler := logging.NewProgressSampler(10)
	label := string(kind)
	err = w.encoder.Encode(ctx, kind, input, outputDir, func(pct int) {
		if report != nil {
			report(Update{Kind: kind, Progress: pct})
		}
		if sampler.ShouldLog(pct, label) {
			logger.Info("transcode progress", logging.Int("percent", pct))
		}
	})
	outcome := history.OutcomeComplete
	if err == nil && !w.layout.OutputComplete(fileID) {
		err = errors.New(ReasonIncompleteOutput)
	}
	if err != nil {
		outcome = history.OutcomeFailed
	}
	metrics.TranscodeAttemptsTotal.WithLabelValues(string(kind), outcome).Inc()
	return err
}

// finalize marks the record ready. It reports false when the record vanished
// while encoding, in which case the fresh output is removed.
func (w *Worker) finalize(fileID string, kind encoding.Kind) (Outcome, bool) {
	relPath := w.layout.DerivedRelPath(fileID)
	_, err := w.store.Update(fileID, func(rec *metadata.FileRecord) error {
		rec.DerivedReady = true
		rec.DerivedPath = relPath
		return nil
	})
	if err == nil {
		return Outcome{}, true
	}
	w.discardOutput(w.logger, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		return Outcome{Status: StatusCancelled, EncoderKind: kind, Reason: ReasonRecordDeleted}, false
	}
	logging.ErrorWithContext(w.logger, "failed to persist transcode result", "metadata_update_failed",
		logging.String(logging.FieldFileID, fileID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check permissions and free space for the metadata document"),
	)
	return Outcome{Status: StatusFailed, EncoderKind: kind, Reason: "persist result: " + err.Error()}, false
}

func (w *Worker) discardOutput(logger *slog.Logger, fileID string) {
	if err := w.layout.RemoveOutput(fileID); err != nil {
		logging.WarnWithContext(logger, "failed to remove partial HLS output", "transcode_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually; startup reconcile also clears it"),
			logging.String(logging.FieldImpact, "disk space is held until the next cleanup"),
		)
	}
}

func (w *Worker) journalAttempt(ctx context.Context, fileID string, attempt int, kind encoding.Kind, outcome, reason string, started, finished time.Time) {
	if w.journal == nil {
		return
	}
	// Written after cancellation too, so detach from the job context.
	_, err := w.journal.Record(context.WithoutCancel(ctx), history.Attempt{
		FileID:      fileID,
		Attempt:     attempt,
		EncoderKind: string(kind),
		Outcome:     outcome,
		Reason:      reason,
		StartedAt:   started,
		FinishedAt:  finished,
	})
	if err != nil {
		w.logger.Warn("failed to journal transcode attempt",
			logging.String(logging.FieldFileID, fileID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "history_record_failed"),
			logging.String(logging.FieldErrorHint, "check the history database"),
			logging.String(logging.FieldImpact, "attempt is missing from transcode history"),
		)
	}
}
