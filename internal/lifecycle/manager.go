package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/metrics"
	"reelvault/internal/services"
	"reelvault/internal/storage"
	"reelvault/internal/textutil"
)

// Transcoder is the part of the transcode scheduler lifecycle operations drive.
type Transcoder interface {
	Enqueue(fileID string) bool
	Cancel(fileID string) bool
	Enabled() bool
}

// HistoryPruner drops old transcode history rows.
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Removal causes reported in metrics and logs.
const (
	CauseExpired  = "expired"
	CauseDeleted  = "deleted"
	CausePurged   = "purged"
	CauseOrphaned = "orphaned"
)

// Manager applies retention and deletion rules to stored files.
type Manager struct {
	store            *metadata.Store
	layout           *storage.Layout
	jobs             Transcoder
	history          HistoryPruner
	retention        time.Duration
	interval         time.Duration
	historyRetention time.Duration
	logger           *slog.Logger
	now              func() time.Time

	runMu   sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewManager constructs a Manager. jobs and history may be nil.
func NewManager(cfg *config.Config, store *metadata.Store, layout *storage.Layout, jobs Transcoder, history HistoryPruner, logger *slog.Logger) *Manager {
	return &Manager{
		store:            store,
		layout:           layout,
		jobs:             jobs,
		history:          history,
		retention:        cfg.Retention(),
		interval:         cfg.SweepInterval(),
		historyRetention: cfg.HistoryRetention(),
		logger:           logging.NewComponentLogger(logger, "lifecycle"),
		now:              time.Now,
	}
}

// Associate tags every known id with setName and returns how many records
// matched. Unknown ids are ignored.
func (m *Manager) Associate(ids []string, setName string) (int, error) {
	setName = textutil.SanitizeSetName(setName)
	if setName == "" {
		return 0, services.Wrap(services.ErrValidation, "lifecycle", "associate", "set name is required", nil)
	}
	updated := 0
	for _, id := range ids {
		_, err := m.store.Update(id, func(rec *metadata.FileRecord) error {
			rec.SetName = setName
			return nil
		})
		if errors.Is(err, metadata.ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, services.Wrap(services.ErrTransient, "lifecycle", "associate", "persist set name", err)
		}
		updated++
	}
	m.logger.Info("files associated with set",
		logging.String("set_name", setName),
		logging.Int("requested", len(ids)),
		logging.Int("updated", updated),
	)
	return updated, nil
}

// Purge deletes every record in setName, or every record when setName is empty.
func (m *Manager) Purge(ctx context.Context, setName string) (int, error) {
	setName = textutil.SanitizeSetName(setName)
	removed := 0
	var errs []error
	inSet := func(rec metadata.FileRecord) bool {
		return setName == "" || rec.SetName == setName
	}
	for _, rec := range m.store.List() {
		if !inSet(rec) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		_, ok, err := m.removeRecord(rec, CausePurged, inSet)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	m.logger.Info("purge complete",
		logging.String("set_name", setName),
		logging.Int("removed", removed),
	)
	if len(errs) > 0 {
		return removed, services.Wrap(services.ErrTransient, "lifecycle", "purge", "some records could not be removed", errors.Join(errs...))
	}
	return removed, nil
}

// DeleteAll removes id's original, derived output, and record.
func (m *Manager) DeleteAll(ctx context.Context, id string) error {
	rec, err := m.get(id, "delete")
	if err != nil {
		return err
	}
	_, _, err = m.removeRecord(rec, CauseDeleted, nil)
	return err
}

// DeleteOriginalOnly removes id's original. A completed derived output is
// kept and the record flagged originalRemoved; otherwise the record goes too.
func (m *Manager) DeleteOriginalOnly(ctx context.Context, id string) error {
	rec, err := m.get(id, "delete original")
	if err != nil {
		return err
	}
	m.cancelJob(id)
	// The job may have finished its output before the cancel landed.
	if rec, err = m.get(id, "delete original"); err != nil {
		return err
	}
	outputKept := func(r metadata.FileRecord) bool {
		return r.DerivedReady && m.layout.OutputComplete(r.ID)
	}
	if !outputKept(rec) {
		_, removed, err := m.removeRecord(rec, CauseDeleted, func(r metadata.FileRecord) bool { return !outputKept(r) })
		if err != nil || removed {
			return err
		}
	}
	if rec.OriginalRemoved {
		return nil
	}
	freed := fileSize(m.layout.BlobPath(id))
	if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
		r.OriginalRemoved = true
		return nil
	}); err != nil {
		return services.Wrap(services.ErrTransient, "lifecycle", "delete original", "persist record", err)
	}
	if err := m.layout.RemoveBlob(id); err != nil {
		return services.Wrap(services.ErrTransient, "lifecycle", "delete original", "remove blob", err)
	}
	metrics.BytesFreedTotal.Add(float64(freed))
	m.logger.Info("original removed; derived output kept",
		logging.String(logging.FieldFileID, id),
		logging.Int64("freed_bytes", freed),
	)
	return nil
}

// DeleteDerivedOnly removes id's HLS output and resets the record so it can
// be transcoded again. A record without an original is removed entirely.
func (m *Manager) DeleteDerivedOnly(ctx context.Context, id string) error {
	rec, err := m.get(id, "delete derived")
	if err != nil {
		return err
	}
	if rec.OriginalRemoved {
		_, _, err := m.removeRecord(rec, CauseDeleted, nil)
		return err
	}
	m.cancelJob(id)
	freed, _ := fileutil.DirSize(m.layout.OutputDir(id))
	if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
		r.DerivedReady = false
		r.DerivedPath = ""
		return nil
	}); err != nil {
		return services.Wrap(services.ErrTransient, "lifecycle", "delete derived", "persist record", err)
	}
	if err := m.layout.RemoveOutput(id); err != nil {
		return services.Wrap(services.ErrTransient, "lifecycle", "delete derived", "remove output", err)
	}
	metrics.BytesFreedTotal.Add(float64(freed))
	m.logger.Info("derived output removed",
		logging.String(logging.FieldFileID, id),
		logging.Int64("freed_bytes", freed),
	)
	return nil
}

// Trigger statuses.
const (
	TriggerAlreadyReady = "already_ready"
	TriggerQueued       = "queued"
)

// TriggerResult reports the effect of TriggerTranscode.
type TriggerResult struct {
	Status string `json:"status"`
	Queued bool   `json:"queued"`
}

// TriggerTranscode queues id for transcoding unless its output is already
// complete. Queued is false when a job for id was already queued or running.
func (m *Manager) TriggerTranscode(id string) (TriggerResult, error) {
	rec, err := m.get(id, "trigger transcode")
	if err != nil {
		return TriggerResult{}, err
	}
	if !rec.IsVideo() {
		return TriggerResult{}, services.Wrap(services.ErrValidation, "lifecycle", "trigger transcode", "file is not a video", nil)
	}
	if rec.OriginalRemoved || !m.layout.BlobExists(id) {
		return TriggerResult{}, services.Wrap(services.ErrValidation, "lifecycle", "trigger transcode", "original has been removed", nil)
	}
	if m.jobs == nil || !m.jobs.Enabled() {
		return TriggerResult{}, services.Wrap(services.ErrValidation, "lifecycle", "trigger transcode", "transcoding is disabled", nil)
	}
	if rec.DerivedReady {
		if m.layout.OutputComplete(id) {
			return TriggerResult{Status: TriggerAlreadyReady}, nil
		}
		if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
			r.DerivedReady = false
			r.DerivedPath = ""
			return nil
		}); err != nil {
			return TriggerResult{}, services.Wrap(services.ErrTransient, "lifecycle", "trigger transcode", "reset record", err)
		}
	}
	queued := m.jobs.Enqueue(id)
	m.logger.Info("transcode triggered",
		logging.String(logging.FieldFileID, id),
		logging.Bool("newly_queued", queued),
	)
	return TriggerResult{Status: TriggerQueued, Queued: queued}, nil
}

func (m *Manager) get(id, operation string) (metadata.FileRecord, error) {
	rec, err := m.store.Get(id)
	if errors.Is(err, metadata.ErrNotFound) {
		return rec, services.Wrap(services.ErrNotFound, "lifecycle", operation, "unknown file "+id, err)
	}
	return rec, err
}

func (m *Manager) cancelJob(id string) {
	if m.jobs != nil && m.jobs.Cancel(id) {
		m.logger.Debug("transcode job cancelled for lifecycle operation", logging.String(logging.FieldFileID, id))
	}
}

// removeRecord cancels id's job, then deletes the record and its files when
// match (nil for unconditional) still accepts the record as it stands after
// the cancel. A record that disappeared concurrently counts as removed.
func (m *Manager) removeRecord(rec metadata.FileRecord, cause string, match func(metadata.FileRecord) bool) (int64, bool, error) {
	id := rec.ID
	m.cancelJob(id)
	freed := fileSize(m.layout.BlobPath(id))
	if size, err := fileutil.DirSize(m.layout.OutputDir(id)); err == nil {
		freed += size
	}

	_, deleted, err := m.store.DeleteIf(id, match)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
	case err != nil:
		return 0, false, services.Wrap(services.ErrTransient, "lifecycle", cause, "delete record "+id, err)
	case !deleted:
		m.logger.Info("record changed during removal; kept",
			logging.String(logging.FieldFileID, id),
			logging.String("cause", cause),
		)
		return 0, false, nil
	}
	var fileErrs []error
	if err := m.layout.RemoveBlob(id); err != nil {
		fileErrs = append(fileErrs, err)
	}
	if err := m.layout.RemoveOutput(id); err != nil {
		fileErrs = append(fileErrs, err)
	}
	if len(fileErrs) > 0 {
		logging.WarnWithContext(m.logger, "record removed but files remain", "lifecycle_cleanup_failed",
			logging.String(logging.FieldFileID, id),
			logging.Error(errors.Join(fileErrs...)),
			logging.String(logging.FieldErrorHint, "check storage permissions; startup reconcile removes orphaned files"),
			logging.String(logging.FieldImpact, "disk space is held until the next cleanup"),
		)
	}

	metrics.FilesRemovedTotal.WithLabelValues(cause).Inc()
	metrics.BytesFreedTotal.Add(float64(freed))
	metrics.FilesTotal.Set(float64(m.store.Len()))
	m.logger.Info("file removed",
		logging.String(logging.FieldFileID, id),
		logging.String("cause", cause),
		logging.String("display_name", rec.DisplayName),
		logging.Int64("freed_bytes", freed),
	)
	return freed, true, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ParseScope maps the API delete scope to an operation name.
func ParseScope(scope string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", "all":
		return "all", nil
	case "original":
		return "original", nil
	case "derived":
		return "derived", nil
	default:
		return "", services.Wrap(services.ErrValidation, "lifecycle", "delete", "scope must be all, original, or derived", nil)
	}
}

// Delete dispatches to the scope-specific delete operation.
func (m *Manager) Delete(ctx context.Context, id, scope string) error {
	normalized, err := ParseScope(scope)
	if err != nil {
		return err
	}
	switch normalized {
	case "original":
		return m.DeleteOriginalOnly(ctx, id)
	case "derived":
		return m.DeleteDerivedOnly(ctx, id)
	default:
		return m.DeleteAll(ctx, id)
	}
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
