package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/metrics"
	"reelvault/internal/services"
	"reelvault/internal/storage"
	"reelvault/internal/textutil"
)

// Enqueuer hands file ids to the transcode scheduler.
type Enqueuer interface {
	Enqueue(fileID string) bool
	Enabled() bool
}

// Request describes one upload. DeclaredSize is 0 when unknown.
type Request struct {
	DisplayName  string
	ContentType  string
	SetName      string
	DeclaredSize int64
	Body         io.Reader
}

// Result reports the stored (or matched) record.
type Result struct {
	Record      metadata.FileRecord
	Existing    bool
	Transcoding bool
}

// Service stores uploads.
type Service struct {
	store    *metadata.Store
	layout   *storage.Layout
	enqueuer Enqueuer
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs an ingest service. enqueuer may be nil when
// transcoding is unavailable; maxBytes <= 0 disables the size limit.
func NewService(store *metadata.Store, layout *storage.Layout, enqueuer Enqueuer, maxBytes int64, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		layout:   layout,
		enqueuer: enqueuer,
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		now:      time.Now,
	}
}

// Upload streams req.Body into a new blob and records it. A ready record
// with the same dedupe key short-circuits the write.
func (s *Service) Upload(ctx context.Context, req Request) (Result, error) {
	name := textutil.SanitizeDisplayName(req.DisplayName)
	if name == "" {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return Result{}, services.Wrap(services.ErrValidation, "ingest", "upload", "display name is required", nil)
	}
	if req.Body == nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return Result{}, services.Wrap(services.ErrValidation, "ingest", "upload", "upload body is empty", nil)
	}
	setName := textutil.SanitizeSetName(req.SetName)

	if key := metadata.NewDedupeKey(name, req.DeclaredSize); key.Valid() {
		if existing, ok := s.readyMatch(key); ok {
			if _, err := io.Copy(io.Discard, req.Body); err != nil {
				s.logger.Debug("draining duplicate upload failed", logging.Error(err))
			}
			return s.reuse(existing, setName)
		}
	}

	id, err := storage.NewID()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return Result{}, services.Wrap(services.ErrTransient, "ingest", "upload", "allocate file id", err)
	}
	logger := s.logger.With(logging.String(logging.FieldFileID, id))

	written, err := s.layout.WriteBlob(ctx, id, req.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			return Result{}, services.Wrap(services.ErrValidation, "ingest", "upload",
				fmt.Sprintf("upload exceeds %d bytes", s.maxBytes), err)
		}
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		logging.WarnWithContext(logger, "upload aborted before completion", "upload_failed",
			logging.String("display_name", name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "client disconnected or blob storage is unwritable"),
			logging.String(logging.FieldImpact, "partial upload discarded; no record created"),
		)
		return Result{}, services.Wrap(services.ErrTransient, "ingest", "upload", "store upload", err)
	}
	if req.DeclaredSize > 0 && written != req.DeclaredSize {
		s.discardBlob(logger, id)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return Result{}, services.Wrap(services.ErrValidation, "ingest", "upload",
			fmt.Sprintf("received %d bytes, declared %d", written, req.DeclaredSize), nil)
	}

	key := metadata.NewDedupeKey(name, written)
	if req.DeclaredSize <= 0 && key.Valid() {
		if existing, ok := s.readyMatch(key); ok {
			s.discardBlob(logger, id)
			return s.reuse(existing, setName)
		}
	}

	rec := metadata.FileRecord{
		ID:          id,
		DisplayName: name,
		ByteSize:    written,
		ContentType: InferContentType(req.ContentType, name),
		CreatedAt:   s.now().UTC(),
		SetName:     setName,
		DedupeKey:   key,
	}
	if err := s.store.Insert(rec); err != nil {
		s.discardBlob(logger, id)
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		logging.ErrorWithContext(logger, "failed to persist upload record", "metadata_insert_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space for the metadata document"),
		)
		return Result{}, services.Wrap(services.ErrTransient, "ingest", "upload", "persist record", err)
	}
	metrics.UploadsTotal.WithLabelValues("stored").Inc()
	metrics.UploadBytesTotal.Add(float64(written))
	metrics.FilesTotal.Set(float64(s.store.Len()))

	transcoding := false
	if rec.IsVideo() && s.enqueuer != nil && s.enqueuer.Enabled() {
		transcoding = s.enqueuer.Enqueue(id)
	}
	logger.Info("upload stored",
		logging.String(logging.FieldEventType, "upload_stored"),
		logging.String("display_name", name),
		logging.Int64("bytes", written),
		logging.String("content_type", rec.ContentType),
		logging.Bool("transcoding", transcoding),
	)
	return Result{Record: rec, Transcoding: transcoding}, nil
}

func (s *Service) readyMatch(key metadata.DedupeKey) (metadata.FileRecord, bool) {
	existing, ok := s.store.FindByDedupeKey(key)
	if !ok || !existing.DerivedReady {
		return metadata.FileRecord{}, false
	}
	return existing, true
}

// reuse returns a matched record, tagging it with setName when the upload
// named a set the record is not yet part of.
func (s *Service) reuse(existing metadata.FileRecord, setName string) (Result, error) {
	if setName != "" && existing.SetName != setName {
		updated, err := s.store.Update(existing.ID, func(rec *metadata.FileRecord) error {
			rec.SetName = setName
			return nil
		})
		if err == nil {
			existing = updated
		} else {
			s.logger.Warn("failed to associate duplicate upload with set",
				logging.String(logging.FieldFileID, existing.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "dedupe_associate_failed"),
				logging.String(logging.FieldErrorHint, "associate the file manually"),
				logging.String(logging.FieldImpact, "file keeps its previous set name"),
			)
		}
	}
	metrics.UploadsTotal.WithLabelValues("existing").Inc()
	s.logger.Info("upload matched existing file",
		logging.String(logging.FieldFileID, existing.ID),
		logging.String(logging.FieldEventType, "upload_deduplicated"),
	)
	return Result{Record: existing, Existing: true}, nil
}

func (s *Service) discardBlob(logger *slog.Logger, id string) {
	if err := s.layout.RemoveBlob(id); err != nil {
		logging.WarnWithContext(logger, "failed to remove discarded blob", "blob_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "startup reconcile removes orphaned blobs"),
			logging.String(logging.FieldImpact, "disk space is held until the next restart"),
		)
	}
}
