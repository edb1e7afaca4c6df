// Package history journals every transcode attempt into a small SQLite
// database so operators can see which encoder ran and why it failed long
// after the in-memory job outcome has expired.
//
// The database runs in WAL mode with an embedded schema and a schema_version
// row; writes retry with backoff while SQLite reports the database busy.
package history
