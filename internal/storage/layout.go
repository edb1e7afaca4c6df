package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"reelvault/internal/fileutil"
)

const (
	// ManifestName is the HLS playlist written for every file.
	ManifestName = "index.m3u8"
	// SegmentPattern is the ffmpeg segment filename template.
	SegmentPattern = "segment_%05d.ts"
	// PartialSuffix marks an upload that has not finished streaming.
	PartialSuffix = ".partial"
	// CompletionMarker terminates a finished VOD playlist.
	CompletionMarker = "#EXT-X-ENDLIST"
)

// ErrTooLarge is returned when an upload exceeds the configured byte limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

var (
	idPattern      = regexp.MustCompile(`^[0-9a-f]{32}$`)
	segmentPattern = regexp.MustCompile(`^segment_[0-9]{5,}\.ts$`)
)

// NewID returns a random 128-bit identifier rendered as 32 lowercase hex characters.
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate file id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidDerivedName reports whether name is a servable HLS artifact name.
func ValidDerivedName(name string) bool {
	return name == ManifestName || segmentPattern.MatchString(name)
}

// IsManifest reports whether name is the playlist rather than a segment.
func IsManifest(name string) bool {
	return name == ManifestName
}

// Layout resolves blob and HLS output paths.
type Layout struct {
	blobDir    string
	derivedDir string
}

// NewLayout creates both roots when missing.
func NewLayout(blobDir, derivedDir string) (*Layout, error) {
	for _, dir := range []string{blobDir, derivedDir} {
		if strings.TrimSpace(dir) == "" {
			return nil, errors.New("storage directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}
	return &Layout{blobDir: blobDir, derivedDir: derivedDir}, nil
}

func (l *Layout) BlobDir() string    { return l.blobDir }
func (l *Layout) DerivedDir() string { return l.derivedDir }

func (l *Layout) BlobPath(id string) string {
	return filepath.Join(l.blobDir, id)
}

func (l *Layout) PartialPath(id string) string {
	return filepath.Join(l.blobDir, id+PartialSuffix)
}

func (l *Layout) OutputDir(id string) string {
	return filepath.Join(l.derivedDir, id)
}

func (l *Layout) ManifestPath(id string) string {
	return filepath.Join(l.derivedDir, id, ManifestName)
}

// DerivedRelPath is the manifest path relative to the derived root, as stored
// in FileRecord.DerivedPath.
func (l *Layout) DerivedRelPath(id string) string {
	return id + "/" + ManifestName
}

// DerivedFilePath resolves a servable artifact inside id's output directory.
func (l *Layout) DerivedFilePath(id, name string) (string, error) {
	if !ValidID(id) || !ValidDerivedName(name) {
		return "", fmt.Errorf("invalid derived artifact %q/%q", id, name)
	}
	return filepath.Join(l.derivedDir, id, name), nil
}

// BlobExists reports whether the original for id is on disk.
func (l *Layout) BlobExists(id string) bool {
	info, err := os.Stat(l.BlobPath(id))
	return err == nil && info.Mode().IsRegular()
}

// OutputExists reports whether id has an output directory.
func (l *Layout) OutputExists(id string) bool {
	info, err := os.Stat(l.OutputDir(id))
	return err == nil && info.IsDir()
}

// OutputComplete reports whether id's manifest carries the completion marker.
func (l *Layout) OutputComplete(id string) bool {
	file, err := os.Open(l.ManifestPath(id))
	if err != nil {
		return false
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == CompletionMarker {
			return true
		}
	}
	return false
}

// WriteBlob streams r to id's partial blob, fsyncs it, and renames it into
// place. Any failure removes the partial file. A limit of 0 disables the size check.
func (l *Layout) WriteBlob(ctx context.Context, id string, r io.Reader, limit int64) (int64, error) {
	partial := l.PartialPath(id)
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create partial blob: %w", err)
	}
	fail := func(err error) (int64, error) {
		_ = file.Close()
		_ = os.Remove(partial)
		return 0, err
	}

	src := io.Reader(&contextReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	written, err := io.Copy(file, src)
	if err != nil {
		return fail(fmt.Errorf("write blob: %w", err))
	}
	if limit > 0 && written > limit {
		return fail(ErrTooLarge)
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("sync blob: %w", err))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(partial, l.BlobPath(id)); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("commit blob: %w", err)
	}
	_ = fileutil.SyncDir(l.blobDir)
	return written, nil
}

// RemoveBlob deletes id's original. Missing files are not an error.
func (l *Layout) RemoveBlob(id string) error {
	if err := os.Remove(l.BlobPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", id, err)
	}
	return nil
}

// RemoveOutput deletes id's HLS output directory.
func (l *Layout) RemoveOutput(id string) error {
	if err := os.RemoveAll(l.OutputDir(id)); err != nil {
		return fmt.Errorf("remove output %s: %w", id, err)
	}
	return nil
}

// ResetOutput recreates id's output directory empty and returns its path.
func (l *Layout) ResetOutput(id string) (string, error) {
	if err := l.RemoveOutput(id); err != nil {
		return "", err
	}
	dir := l.OutputDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output %s: %w", id, err)
	}
	return dir, nil
}

// BlobEntry is one file found in blob_dir.
type BlobEntry struct {
	ID      string
	Partial bool
}

// ListBlobs returns the ids of stored and in-flight blobs. Files not named
// by an id are ignored.
func (l *Layout) ListBlobs() ([]BlobEntry, error) {
	entries, err := os.ReadDir(l.blobDir)
	if err != nil {
		return nil, fmt.Errorf("read blob dir: %w", err)
	}
	out := make([]BlobEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		partial := strings.HasSuffix(name, PartialSuffix)
		id := strings.TrimSuffix(name, PartialSuffix)
		if !ValidID(id) {
			continue
		}
		out = append(out, BlobEntry{ID: id, Partial: partial})
	}
	return out, nil
}

// ListOutputs returns the ids that have an output directory.
func (l *Layout) ListOutputs() ([]string, error) {
	entries, err := os.ReadDir(l.derivedDir)
	if err != nil {
		return nil, fmt.Errorf("read derived dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && ValidID(entry.Name()) {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
