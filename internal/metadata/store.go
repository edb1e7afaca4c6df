package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
)

var (
	// ErrNotFound is returned for unknown record ids.
	ErrNotFound = errors.New("file record not found")
	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("file record id already exists")
)

// Store is the durable id → FileRecord map.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]FileRecord
	logger  *slog.Logger
}

// Open loads the document at path. Missing or corrupt documents yield an
// empty store; only an unusable path is an error.
func Open(path string, logger *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("metadata path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure metadata directory: %w", err)
	}
	s := &Store{
		path:    path,
		records: make(map[string]FileRecord),
		logger:  logging.NewComponentLogger(logger, "metadata"),
	}
	s.load()
	return s, nil
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("metadata document not found; starting empty",
			logging.String("path", s.path),
			logging.String(logging.FieldEventType, "metadata_empty"),
		)
		return
	}
	if err == nil {
		var doc map[string]FileRecord
		if err = json.Unmarshal(data, &doc); err == nil {
			for id, rec := range doc {
				if strings.TrimSpace(rec.ID) == "" {
					rec.ID = id
				}
				if rec.ID != id {
					continue
				}
				s.records[id] = rec
			}
			s.logger.Info("metadata loaded",
				logging.String("path", s.path),
				logging.Int("records", len(s.records)),
				logging.String(logging.FieldEventType, "metadata_loaded"),
			)
			return
		}
	}

	preserved := s.path + ".corrupt-" + time.Now().UTC().Format("20060102T150405Z")
	if renameErr := os.Rename(s.path, preserved); renameErr != nil {
		preserved = ""
	}
	logging.WarnWithContext(s.logger, "metadata document unreadable; starting empty", "metadata_load_failed",
		logging.String("path", s.path),
		logging.String("preserved_as", preserved),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the preserved document and restore records manually if needed"),
		logging.String(logging.FieldImpact, "previously stored files are unlisted until restored"),
	)
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns all records ordered by creation time, then id.
func (s *Store) List() []FileRecord {
	s.mu.Lock()
	out := make([]FileRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sortRecords(out)
	return out
}

// FindByDedupeKey returns a record with key, preferring one whose derived
// output is ready, then the oldest.
func (s *Store) FindByDedupeKey(key DedupeKey) (FileRecord, bool) {
	if !key.Valid() {
		return FileRecord{}, false
	}
	var matches []FileRecord
	s.mu.Lock()
	for _, rec := range s.records {
		if rec.DedupeKey == key {
			matches = append(matches, rec)
		}
	}
	s.mu.Unlock()
	if len(matches) == 0 {
		return FileRecord{}, false
	}
	sortRecords(matches)
	for _, rec := range matches {
		if rec.DerivedReady {
			return rec, true
		}
	}
	return matches[0], true
}

// Insert persists a new record.
func (s *Store) Insert(rec FileRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("file record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateID
	}
	next := s.cloneLocked()
	next[rec.ID] = rec
	return s.commitLocked(next)
}

// Update applies fn to a copy of the record and persists the result. When fn
// returns an error nothing changes.
func (s *Store) Update(id string, fn func(*FileRecord) error) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	updated := current
	if err := fn(&updated); err != nil {
		return current, err
	}
	updated.ID = id
	next := s.cloneLocked()
	next[id] = updated
	if err := s.commitLocked(next); err != nil {
		return current, err
	}
	return updated, nil
}

// Delete removes the record with id and returns its last state.
func (s *Store) Delete(id string) (FileRecord, error) {
	rec, _, err := s.DeleteIf(id, nil)
	return rec, err
}

// DeleteIf removes id only when match accepts its current state. It reports
// false with a nil error when match declines; unknown ids yield ErrNotFound.
func (s *Store) DeleteIf(id string, match func(FileRecord) bool) (FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return FileRecord{}, false, ErrNotFound
	}
	if match != nil && !match(current) {
		return current, false, nil
	}
	next := s.cloneLocked()
	delete(next, id)
	if err := s.commitLocked(next); err != nil {
		return FileRecord{}, false, err
	}
	return current, true, nil
}

func (s *Store) cloneLocked() map[string]FileRecord {
	next := make(map[string]FileRecord, len(s.records)+1)
	for id, rec := range s.records {
		next[id] = rec
	}
	return next
}

// commitLocked writes next to disk and only then makes it the live state.
func (s *Store) commitLocked(next map[string]FileRecord) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		logging.ErrorWithContext(s.logger, "metadata write failed", "metadata_write_failed",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the metadata directory"),
		)
		return fmt.Errorf("persist metadata: %w", err)
	}
	s.records = next
	return nil
}

func sortRecords(records []FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
