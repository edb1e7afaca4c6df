package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StatusNone reports a file that has no job and no ready output.
const StatusNone = "none"

// FileView describes a stored file in a transport-friendly format.
type FileView struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	ByteSize        int64  `json:"byteSize"`
	ContentType     string `json:"contentType"`
	CreatedAt       string `json:"createdAt,omitempty"`
	SetName         string `json:"setName,omitempty"`
	OriginalURL     string `json:"originalUrl,omitempty"`
	OriginalRemoved bool   `json:"originalRemoved,omitempty"`
	DerivedReady    bool   `json:"derivedReady"`
	DerivedURL      string `json:"derivedUrl,omitempty"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	EncoderKind     string `json:"encoderKind,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// FileListResponse wraps a collection of files.
type FileListResponse struct {
	Files []FileView `json:"files"`
}

// UploadResponse is returned by POST /api/files.
type UploadResponse struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	DerivedReady bool   `json:"derivedReady"`
	Transcoding  bool   `json:"transcoding"`
	Existing     bool   `json:"existing"`
}

// JobStatus is the transcode status of one file.
type JobStatus struct {
	FileID      string `json:"fileId"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	EncoderKind string `json:"encoderKind,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// QueueEntry is one queued or active job in admission order.
type QueueEntry struct {
	JobStatus
	DisplayName string `json:"displayName,omitempty"`
	QueuedAt    string `json:"queuedAt,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
}

// QueueResponse wraps GET /api/jobs.
type QueueResponse struct {
	Jobs []QueueEntry `json:"jobs"`
}

// TriggerResponse is returned by POST /api/files/{id}/transcode.
type TriggerResponse struct {
	Status string `json:"status"`
	Queued bool   `json:"queued"`
}

// AssociateRequest tags files with a set name.
type AssociateRequest struct {
	IDs     []string `json:"ids"`
	SetName string   `json:"setName"`
}

// AssociateResponse reports how many records were tagged.
type AssociateResponse struct {
	Updated int `json:"updated"`
}

// PurgeRequest removes every file, or only those in SetName when set.
type PurgeRequest struct {
	SetName string `json:"setName,omitempty"`
}

// PurgeResponse reports how many records were removed.
type PurgeResponse struct {
	Removed int `json:"removed"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// TranscodeStatus summarizes scheduler capacity and encoder selection.
type TranscodeStatus struct {
	Enabled       bool     `json:"enabled"`
	Hardware      bool     `json:"hardware"`
	Plan          []string `json:"plan"`
	MaxConcurrent int      `json:"maxConcurrent"`
	Queued        int      `json:"queued"`
	Active        int      `json:"active"`
	Detail        string   `json:"detail,omitempty"`
}

// StorageCheck is one directory readiness result. Severity is ok, warn, or error.
type StorageCheck struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    string             `json:"startedAt,omitempty"`
	Records      int                `json:"records"`
	MetadataPath string             `json:"metadataPath"`
	HistoryPath  string             `json:"historyPath"`
	LockFilePath string             `json:"lockFilePath"`
	LogPath      string             `json:"logPath,omitempty"`
	Transcode    TranscodeStatus    `json:"transcode"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Storage      []StorageCheck     `json:"storage,omitempty"`
}

// HistoryEntry is one journaled transcode attempt.
type HistoryEntry struct {
	ID          int64  `json:"id"`
	FileID      string `json:"fileId"`
	Attempt     int    `json:"attempt"`
	EncoderKind string `json:"encoderKind"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	StartedAt   string `json:"startedAt"`
	FinishedAt  string `json:"finishedAt"`
	DurationMS  int64  `json:"durationMs"`
}

// HistoryResponse wraps journal entries.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
