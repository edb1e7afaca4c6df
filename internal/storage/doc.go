// Package storage owns the on-disk layout for originals and HLS output.
//
// Originals live as flat blobs named by file id under blob_dir; an upload in
// flight is written to <id>.partial and renamed once complete. Each file's HLS
// output lives in <derived_dir>/<id>/ as index.m3u8 plus numbered segments. A
// manifest counts as complete only when it carries #EXT-X-ENDLIST.
package storage
