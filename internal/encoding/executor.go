package encoding

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a cancelled ffmpeg gets between SIGTERM and SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// CommandExecutor runs binaries as child processes in their own process
// group. Cancelling ctx sends SIGTERM to the group and SIGKILL after Grace.
// Run always waits for the process, so it is reaped on every path.
type CommandExecutor struct {
	Grace time.Duration
}

func (e CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	grace := e.Grace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	lines := &lineWriter{onLine: onLine}
	cmd.Stdout = lines
	cmd.Stderr = lines

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}
	err := cmd.Wait()
	lines.Flush()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("wait %s: %w", binary, err)
	}
	return nil
}

// lineWriter splits a byte stream on \r and \n. ffmpeg rewrites its stats
// line with carriage returns, so both count as terminators.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emitLocked()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

// Flush emits a trailing line that had no terminator.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitLocked()
}

func (w *lineWriter) emitLocked() {
	if w.buf.Len() == 0 {
		return
	}
	line := w.buf.String()
	w.buf.Reset()
	if w.onLine != nil {
		w.onLine(line)
	}
}
