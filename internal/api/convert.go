package api

import (
	"time"

	"reelvault/internal/history"
	"reelvault/internal/metadata"
	"reelvault/internal/storage"
	"reelvault/internal/transcode"
)

// OriginalURL is the path the daemon serves an original upload on.
func OriginalURL(id string) string {
	return "/files/" + id
}

// DerivedURL is the path the daemon serves an HLS manifest on.
func DerivedURL(id string) string {
	return "/hls/" + id + "/" + storage.ManifestName
}

// FromRecord converts a metadata record and its optional job to the API view.
func FromRecord(rec metadata.FileRecord, job transcode.Job, hasJob bool) FileView {
	view := FileView{
		ID:              rec.ID,
		DisplayName:     rec.DisplayName,
		ByteSize:        rec.ByteSize,
		ContentType:     rec.ContentType,
		SetName:         rec.SetName,
		OriginalRemoved: rec.OriginalRemoved,
		DerivedReady:    rec.DerivedReady,
	}
	if !rec.CreatedAt.IsZero() {
		view.CreatedAt = formatTime(rec.CreatedAt)
	}
	if rec.HasOriginal() {
		view.OriginalURL = OriginalURL(rec.ID)
	}
	if rec.DerivedReady {
		view.DerivedURL = DerivedURL(rec.ID)
	}
	status := StatusFor(rec, job, hasJob)
	view.Status = status.Status
	view.Progress = status.Progress
	view.EncoderKind = status.EncoderKind
	view.Reason = status.Reason
	return view
}

// StatusFor reports the job when present, else a status derived from the
// record's derivedReady flag.
func StatusFor(rec metadata.FileRecord, job transcode.Job, hasJob bool) JobStatus {
	if hasJob {
		return JobStatus{
			FileID:      rec.ID,
			Status:      string(job.Status),
			Progress:    job.Progress,
			EncoderKind: string(job.EncoderKind),
			Reason:      job.Reason,
		}
	}
	if rec.DerivedReady {
		return JobStatus{FileID: rec.ID, Status: string(transcode.StatusComplete), Progress: 100}
	}
	return JobStatus{FileID: rec.ID, Status: StatusNone}
}

// FromJob converts a scheduler snapshot entry. displayName may be empty when
// the record was removed while the job was still listed.
func FromJob(job transcode.Job, displayName string) QueueEntry {
	entry := QueueEntry{
		JobStatus: JobStatus{
			FileID:      job.FileID,
			Status:      string(job.Status),
			Progress:    job.Progress,
			EncoderKind: string(job.EncoderKind),
			Reason:      job.Reason,
		},
		DisplayName: displayName,
	}
	if !job.QueuedAt.IsZero() {
		entry.QueuedAt = formatTime(job.QueuedAt)
	}
	if !job.StartedAt.IsZero() {
		entry.StartedAt = formatTime(job.StartedAt)
	}
	return entry
}

// FromAttempt converts a journaled attempt.
func FromAttempt(a history.Attempt) HistoryEntry {
	return HistoryEntry{
		ID:          a.ID,
		FileID:      a.FileID,
		Attempt:     a.Attempt,
		EncoderKind: a.EncoderKind,
		Outcome:     a.Outcome,
		Reason:      a.Reason,
		StartedAt:   formatTime(a.StartedAt),
		FinishedAt:  formatTime(a.FinishedAt),
		DurationMS:  a.Duration().Milliseconds(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(dateTimeFormat)
}
