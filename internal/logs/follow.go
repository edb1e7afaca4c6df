package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	maxLineBytes = 1 << 20
	pollInterval = 250 * time.Millisecond
)

// Follower reads lines from a log file starting at a tracked offset.
type Follower struct {
	path   string
	offset int64
}

// NewFollower returns a follower positioned at the start of path.
func NewFollower(path string) *Follower {
	return &Follower{path: path}
}

// Offset reports the byte position the next read starts from.
func (f *Follower) Offset() int64 {
	return f.offset
}

// Last returns up to n trailing lines and moves the offset to end of file.
// A missing file yields no lines.
func (f *Follower) Last(n int) ([]string, error) {
	file, err := f.open()
	if err != nil || file == nil {
		return nil, err
	}
	defer file.Close()

	var ring []string
	if n > 0 {
		ring = make([]string, 0, n)
	}
	end, err := scan(file, func(line string) {
		if n <= 0 {
			return
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	})
	if err != nil {
		return nil, err
	}
	f.offset = end
	return ring, nil
}

// Next returns lines appended since the last read. With wait > 0 it polls
// until at least one line arrives, wait elapses, or ctx is done.
func (f *Follower) Next(ctx context.Context, wait time.Duration) ([]string, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		lines, err := f.readNew()
		if err != nil || len(lines) > 0 || wait <= 0 || time.Now().After(deadline) {
			return lines, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Follower) readNew() ([]string, error) {
	file, err := f.open()
	if err != nil || file == nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < f.offset {
		f.offset = 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	end, err := scan(file, func(line string) { lines = append(lines, line) })
	if err != nil {
		return nil, err
	}
	f.offset = end
	return lines, nil
}

func (f *Follower) open() (*os.File, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.offset = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", f.path)
	}
	return file, nil
}

// scan feeds complete lines to fn and returns the offset just past the last
// newline, so a partially written line is re-read on the next call.
func scan(file *os.File, fn func(string)) (int64, error) {
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	consumed := start
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		text := line[:len(line)-1]
		if len(text) > 0 && text[len(text)-1] == '\r' {
			text = text[:len(text)-1]
		}
		if len(text) > maxLineBytes {
			text = text[:maxLineBytes]
		}
		fn(text)
	}
}
