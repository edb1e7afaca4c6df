package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema version.
var ErrSchemaMismatch = errors.New("history schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultRecentLimit      = 50
)

// Outcome values stored for each attempt.
const (
	OutcomeComplete  = "complete"
	OutcomeFailed    = "failed"
	OutcomeFallback  = "fallback"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
)

// Attempt is one encoder run for a file.
type Attempt struct {
	ID          int64     `json:"id"`
	FileID      string    `json:"fileId"`
	Attempt     int       `json:"attempt"`
	EncoderKind string    `json:"encoderKind"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Duration reports how long the attempt ran.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.Before(a.StartedAt) {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// Store persists transcode attempts in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record appends an attempt and returns it with its assigned row id.
func (s *Store) Record(ctx context.Context, attempt Attempt) (Attempt, error) {
	if s == nil || s.db == nil {
		return attempt, errors.New("history store is closed")
	}
	if strings.TrimSpace(attempt.FileID) == "" {
		return attempt, errors.New("attempt file id is empty")
	}
	if attempt.FinishedAt.IsZero() {
		attempt.FinishedAt = time.Now().UTC()
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = attempt.FinishedAt
	}
	ctx = ensureContext(ctx)

	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`INSERT INTO attempts (file_id, attempt, encoder_kind, outcome, reason, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			attempt.FileID,
			attempt.Attempt,
			attempt.EncoderKind,
			attempt.Outcome,
			attempt.Reason,
			formatTime(attempt.StartedAt),
			formatTime(attempt.FinishedAt),
		)
		return execErr
	})
	if err != nil {
		return attempt, fmt.Errorf("insert attempt: %w", err)
	}
	if id, idErr := res.LastInsertId(); idErr == nil {
		attempt.ID = id
	}
	return attempt, nil
}

// Recent returns the newest attempts first. A non-positive limit uses the default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.query(ctx,
		`SELECT id, file_id, attempt, encoder_kind, outcome, reason, started_at, finished_at
		 FROM attempts ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
}

// ForFile returns every attempt for fileID in the order they ran.
func (s *Store) ForFile(ctx context.Context, fileID string) ([]Attempt, error) {
	return s.query(ctx,
		`SELECT id, file_id, attempt, encoder_kind, outcome, reason, started_at, finished_at
		 FROM attempts WHERE file_id = ? ORDER BY started_at ASC, id ASC`, fileID)
}

// Prune removes attempts that finished before the cutoff and returns how many were deleted.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM attempts WHERE finished_at < ?`, formatTime(before))
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Attempt, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is closed")
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a        Attempt
			started  string
			finished string
		)
		if err := rows.Scan(&a.ID, &a.FileID, &a.Attempt, &a.EncoderKind, &a.Outcome, &a.Reason, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = parseTime(started)
		a.FinishedAt = parseTime(finished)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Timestamps use a fixed-width layout so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
