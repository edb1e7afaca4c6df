// Package daemon coordinates the long-running reelvault process.
//
// It wires configuration, the metadata store, the storage layout, the
// transcode history journal, the transcode scheduler, ingest, and lifecycle
// management into a single lifecycle with flock-based locking to prevent
// multiple instances. Startup reconciles disk and metadata before the HTTP
// API begins answering, so clients never observe records the sweep is about
// to drop.
//
// The HTTP surface lives here as well: a chi router with request-id,
// logging, metrics, and per-client upload throttling middleware, JSON
// handlers for file management, byte-range serving of originals, and HLS
// artifact serving with cache headers.
//
// Keep orchestration logic here: individual operations live in their
// respective packages while the daemon focuses on startup, shutdown, and
// request plumbing.
package daemon
