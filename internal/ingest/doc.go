// Package ingest accepts uploaded bytes, stores them as blobs, and creates the
// matching metadata record. Video uploads are handed to the transcode
// scheduler once their record exists.
//
// Uploads whose (name, size) pair matches a record with a finished HLS output
// are not stored again; the existing record is returned instead.
package ingest
