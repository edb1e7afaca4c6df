// Package logs reads the daemon's current log file for `reelvault logs`.
//
// A Follower remembers its byte offset, so the CLI can print the last N lines
// and then poll for appended lines with bounded memory. A file that shrinks
// (for example after the pointer moves to a new run) restarts from the top.
package logs
