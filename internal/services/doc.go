// Package services defines shared utilities consumed by the ingest, transcode,
// lifecycle, and HTTP layers.
//
// Key responsibilities:
//   - Context helpers that stamp file IDs, attempt labels, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures so
//     the HTTP layer can translate them into consistent status codes.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability) stays uniform across the service.
package services
