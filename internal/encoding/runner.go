package encoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// tailLines bounds how much stderr is kept for failure reasons.
const tailLines = 12

// EncodeError describes a failed ffmpeg attempt.
type EncodeError struct {
	Kind            Kind
	HardwareFailure bool
	Tail            []string
	Err             error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s attempt failed", e.Kind)
	if e.HardwareFailure {
		msg += " (hardware encoder unavailable)"
	}
	if last := e.LastLine(); last != "" {
		msg += ": " + last
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

// LastLine returns the final non-empty stderr line, usually ffmpeg's verdict.
func (e *EncodeError) LastLine() string {
	for i := len(e.Tail) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(e.Tail[i]); line != "" {
			return line
		}
	}
	return ""
}

// IsHardwareFailure reports whether err came from a hardware attempt whose
// stderr matched a VAAPI failure signature.
func IsHardwareFailure(err error) bool {
	var encErr *EncodeError
	return errors.As(err, &encErr) && encErr.HardwareFailure
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner encodes one input into one HLS output directory per call.
type Runner struct {
	settings Settings
	exec     Executor
}

// NewRunner constructs a Runner using the real process executor by default.
func NewRunner(settings Settings, opts ...Option) *Runner {
	if strings.TrimSpace(settings.FFmpegBinary) == "" {
		settings.FFmpegBinary = "ffmpeg"
	}
	r := &Runner{settings: settings, exec: CommandExecutor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the encoder settings in use.
func (r *Runner) Settings() Settings {
	return r.settings
}

// Encode runs ffmpeg for kind and blocks until the process has exited. The
// progress callback receives percentages as they change. Context errors are
// returned unwrapped from the EncodeError so callers can tell cancellation and
// timeouts apart from encoder failures.
func (r *Runner) Encode(ctx context.Context, kind Kind, input, outputDir string, progress func(int)) error {
	args := BuildArgs(r.settings, kind, input, outputDir)
	var (
		tracker  ProgressTracker
		tail     []string
		hwFailed bool
	)
	runErr := r.exec.Run(ctx, r.settings.FFmpegBinary, args, func(line string) {
		if pct, changed := tracker.Feed(line); changed && progress != nil {
			progress(pct)
		}
		if strings.HasPrefix(strings.TrimSpace(line), "frame=") {
			return
		}
		if kind == KindHardware && !hwFailed && MatchHardwareFailure(line) {
			hwFailed = true
		}
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[len(tail)-tailLines:]
		}
	})
	if runErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &EncodeError{Kind: kind, HardwareFailure: hwFailed, Tail: tail, Err: runErr}
}
