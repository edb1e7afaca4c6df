// Package main hosts the reelvault CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into HTTP calls
// against the daemon API: uploads, file listing and inspection, deletes,
// transcode triggers, set management, and attempt history. It also controls
// the daemon process itself (start, stop, restart, status) and scaffolds
// configuration files.
//
// Keep this package lean: new behaviour belongs in the internal packages and
// the daemon API first, then gets surfaced here as a command or flag.
package main
