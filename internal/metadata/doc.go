// Package metadata persists FileRecords in a single JSON document.
//
// The Store is the only coordination surface shared by ingest, transcoding,
// and lifecycle code: every read and mutation is serialized by one mutex,
// callers only ever receive copies, and each mutation rewrites the whole
// document through an atomic temp-file rename. A missing document starts an
// empty store; a corrupt one is set aside and the store starts empty with a
// warning instead of failing the daemon.
package metadata
