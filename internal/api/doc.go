// Package api defines wire-format types, converters, and the HTTP client for
// the reelvault daemon API. It translates metadata records and live transcode
// jobs into transport-friendly DTOs so the CLI and other consumers can render
// them without coupling to internal types.
//
// # Key Types
//
// FileView: a stored file merged with its live or recently finished transcode
// job, including the URLs the daemon serves the original and HLS output on.
//
// JobStatus: the {status, progress, encoderKind, reason} view of one file.
//
// DaemonStatus: aggregated runtime information including transcode capacity
// and dependency availability.
//
// # Converters
//
// FromRecord: metadata.FileRecord plus an optional transcode.Job -> FileView.
//
// StatusFor: job if present, else a status derived from derivedReady.
//
// FromAttempt: history.Attempt -> HistoryEntry.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds in
// UTC. A file with no job and no ready output reports status "none".
package api
