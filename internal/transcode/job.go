package transcode

import (
	"time"

	"reelvault/internal/encoding"
)

// Status is the lifecycle state of a transcode job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusTranscoding Status = "transcoding"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status ends a job.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Failure reasons reported on failed jobs.
const (
	ReasonRecordMissing     = "record missing"
	ReasonOriginalRemoved   = "original removed"
	ReasonSourceMissing     = "source blob missing"
	ReasonInsufficientSpace = "insufficient disk space"
	ReasonTimeout           = "timeout"
	ReasonIncompleteOutput  = "manifest missing end marker"
	ReasonRecordDeleted     = "record deleted during transcode"
	ReasonStopped           = "scheduler stopped"
)

// Job is a read-only view of one transcode job.
type Job struct {
	FileID      string        `json:"fileId"`
	Status      Status        `json:"status"`
	Progress    int           `json:"progress"`
	EncoderKind encoding.Kind `json:"encoderKind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	QueuedAt    time.Time     `json:"queuedAt"`
	StartedAt   time.Time     `json:"startedAt,omitzero"`
	FinishedAt  time.Time     `json:"finishedAt,omitzero"`
}

// Update is a progress report from a running job.
type Update struct {
	Kind     encoding.Kind
	Progress int
}

// Outcome is the terminal result a Processor returns.
type Outcome struct {
	Status      Status
	EncoderKind encoding.Kind
	Reason      string
}
