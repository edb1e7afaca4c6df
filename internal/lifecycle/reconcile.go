package lifecycle

import (
	"context"
	"errors"
	"time"

	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/metrics"
)

// ReconcileResult summarizes the startup reconcile.
type ReconcileResult struct {
	Adopted        int           `json:"adopted"`
	Requeued       int           `json:"requeued"`
	Reset          int           `json:"reset"`
	RecordsDropped int           `json:"recordsDropped"`
	OrphanBlobs    int           `json:"orphanBlobs"`
	OrphanOutputs  int           `json:"orphanOutputs"`
	StalePartials  int           `json:"stalePartials"`
	Duration       time.Duration `json:"duration"`
}

// ReconcileOnStartup repairs state left behind by a crash or restart. It must
// run before uploads are accepted since in-flight .partial files are treated
// as stale.
func (m *Manager) ReconcileOnStartup(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	result := ReconcileResult{}
	var errs []error

	known := make(map[string]struct{})
	for _, rec := range m.store.List() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		known[rec.ID] = struct{}{}
		if err := m.reconcileRecord(rec, &result); err != nil {
			errs = append(errs, err)
		}
	}

	blobs, err := m.layout.ListBlobs()
	if err != nil {
		errs = append(errs, err)
	}
	for _, blob := range blobs {
		if blob.Partial {
			if err := removeFile(m.layout.PartialPath(blob.ID)); err != nil {
				errs = append(errs, err)
				continue
			}
			result.StalePartials++
			continue
		}
		if _, ok := known[blob.ID]; ok {
			continue
		}
		if err := m.layout.RemoveBlob(blob.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		result.OrphanBlobs++
		metrics.FilesRemovedTotal.WithLabelValues(CauseOrphaned).Inc()
	}

	outputs, err := m.layout.ListOutputs()
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range outputs {
		if _, ok := known[id]; ok {
			continue
		}
		if err := m.layout.RemoveOutput(id); err != nil {
			errs = append(errs, err)
			continue
		}
		result.OrphanOutputs++
	}

	result.Duration = time.Since(start)
	metrics.FilesTotal.Set(float64(m.store.Len()))
	m.logger.Info("startup reconcile complete",
		logging.String(logging.FieldEventType, "startup_reconcile"),
		logging.Int("adopted", result.Adopted),
		logging.Int("requeued", result.Requeued),
		logging.Int("reset", result.Reset),
		logging.Int("records_dropped", result.RecordsDropped),
		logging.Int("orphan_blobs", result.OrphanBlobs),
		logging.Int("orphan_outputs", result.OrphanOutputs),
		logging.Int("stale_partials", result.StalePartials),
		logging.Duration("duration", result.Duration),
	)
	return result, errors.Join(errs...)
}

func (m *Manager) reconcileRecord(rec metadata.FileRecord, result *ReconcileResult) error {
	id := rec.ID
	complete := m.layout.OutputComplete(id)
	hasOriginal := rec.HasOriginal() && m.layout.BlobExists(id)

	if !hasOriginal && !complete {
		if _, _, err := m.removeRecord(rec, CauseOrphaned, nil); err != nil {
			return err
		}
		result.RecordsDropped++
		return nil
	}
	if !hasOriginal && !rec.OriginalRemoved {
		if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
			r.OriginalRemoved = true
			return nil
		}); err != nil {
			return err
		}
	}

	switch {
	case rec.DerivedReady && complete:
		return nil
	case complete:
		if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
			r.DerivedReady = true
			r.DerivedPath = m.layout.DerivedRelPath(id)
			return nil
		}); err != nil {
			return err
		}
		result.Adopted++
		return nil
	}

	// Output is missing or incomplete and the original is present.
	if err := m.layout.RemoveOutput(id); err != nil {
		return err
	}
	if rec.DerivedReady {
		if _, err := m.store.Update(id, func(r *metadata.FileRecord) error {
			r.DerivedReady = false
			r.DerivedPath = ""
			return nil
		}); err != nil {
			return err
		}
		result.Reset++
	}
	if rec.IsVideo() && m.jobs != nil && m.jobs.Enabled() && m.jobs.Enqueue(id) {
		result.Requeued++
	}
	return nil
}
