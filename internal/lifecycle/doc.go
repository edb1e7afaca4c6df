// Package lifecycle owns the lifetime of uploaded files after ingest: set
// association, fine-grained deletion, manual transcode triggers, the periodic
// expiry sweep, and the startup reconcile that brings metadata and disk back
// into agreement after a crash.
//
// Every destructive operation cancels the file's transcode job first and
// waits for the worker to clean up, so no encoder writes into a directory
// that is being removed.
package lifecycle
