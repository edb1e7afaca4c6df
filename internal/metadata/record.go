package metadata

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DedupeKey identifies upload content by its original display name and size.
type DedupeKey struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewDedupeKey builds a key from a display name (trimmed, NFC-normalized) and size.
func NewDedupeKey(name string, size int64) DedupeKey {
	return DedupeKey{Name: norm.NFC.String(strings.TrimSpace(name)), Size: size}
}

// Valid reports whether the key can match anything. Unknown sizes never dedupe.
func (k DedupeKey) Valid() bool {
	return k.Name != "" && k.Size > 0
}

// FileRecord describes one uploaded blob and the state of its HLS output.
type FileRecord struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	ByteSize        int64     `json:"byteSize"`
	ContentType     string    `json:"contentType"`
	CreatedAt       time.Time `json:"createdAt"`
	SetName         string    `json:"setName,omitempty"`
	DerivedReady    bool      `json:"derivedReady"`
	DerivedPath     string    `json:"derivedPath,omitempty"`
	DedupeKey       DedupeKey `json:"dedupeKey"`
	OriginalRemoved bool      `json:"originalRemoved,omitempty"`
}

// IsVideo reports whether the record's content type is a video type.
func (r FileRecord) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(r.ContentType), "video/")
}

// HasSet reports whether the record is associated with a named set.
func (r FileRecord) HasSet() bool {
	return strings.TrimSpace(r.SetName) != ""
}

// HasOriginal reports whether the original blob is still expected on disk.
func (r FileRecord) HasOriginal() bool {
	return !r.OriginalRemoved
}

// Expired reports whether an unassociated record is older than retention at now.
// Records with a set name never expire.
func (r FileRecord) Expired(now time.Time, retention time.Duration) bool {
	if r.HasSet() || retention <= 0 {
		return false
	}
	return now.Sub(r.CreatedAt) > retention
}
