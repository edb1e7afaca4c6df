package encoding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type scriptedExecutor struct {
	lines   []string
	err     error
	binary  string
	args    []string
	blockOn context.Context
}

func (s *scriptedExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	s.binary = binary
	s.args = args
	for _, line := range s.lines {
		onLine(line)
	}
	if s.blockOn != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func TestRunnerReportsProgress(t *testing.T) {
	exec := &scriptedExecutor{lines: []string{
		"Input #0, matroska,webm, from 'in.mkv':",
		"  Duration: 00:00:20.00, start: 0.000000, bitrate: 1000 kb/s",
		"frame=1 time=00:00:05.00 bitrate=1",
		"frame=2 time=00:00:10.00 bitrate=1",
		"frame=3 time=00:00:20.00 bitrate=1",
	}}
	runner := NewRunner(Settings{FFmpegBinary: "/opt/ffmpeg"}, WithExecutor(exec))

	var seen []int
	if err := runner.Encode(context.Background(), KindSoftware, "in.mkv", "out", func(p int) { seen = append(seen, p) }); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if exec.binary != "/opt/ffmpeg" {
		t.Fatalf("unexpected binary %q", exec.binary)
	}
	want := []int{25, 50, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress %v, want %v", seen, want)
		}
	}
}

func TestRunnerClassifiesHardwareFailure(t *testing.T) {
	exec := &scriptedExecutor{
		lines: []string{"[AVHWDeviceContext @ 0x1] No VA display found for device /dev/dri/renderD128.", "Device creation failed: -22."},
		err:   errors.New("exit status 187"),
	}
	runner := NewRunner(Settings{}, WithExecutor(exec))

	err := runner.Encode(context.Background(), KindHardware, "in", "out", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !IsHardwareFailure(err) {
		t.Fatalf("expected hardware failure classification, got %v", err)
	}
	var encErr *EncodeError
	if !errors.As(err, &encErr) || encErr.LastLine() != "Device creation failed: -22." {
		t.Fatalf("unexpected tail: %+v", encErr)
	}

	softErr := runner.Encode(context.Background(), KindSoftware, "in", "out", nil)
	if IsHardwareFailure(softErr) {
		t.Fatal("software attempts are never hardware failures")
	}
}

func TestRunnerPlainFailureIsNotHardware(t *testing.T) {
	exec := &scriptedExecutor{
		lines: []string{"in.mkv: Invalid data found when processing input"},
		err:   errors.New("exit status 1"),
	}
	err := NewRunner(Settings{}, WithExecutor(exec)).Encode(context.Background(), KindHardware, "in", "out", nil)
	if err == nil || IsHardwareFailure(err) {
		t.Fatalf("expected non-hardware failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected stderr tail in error, got %q", err.Error())
	}
}

func TestRunnerReturnsContextErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{blockOn: ctx}
	done := make(chan error, 1)
	go func() {
		done <- NewRunner(Settings{}, WithExecutor(exec)).Encode(ctx, KindSoftware, "in", "out", nil)
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		var encErr *EncodeError
		if errors.As(err, &encErr) {
			t.Fatal("cancellation must not be reported as an encode failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Encode did not return after cancel")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCommandExecutorSplitsCarriageReturns(t *testing.T) {
	script := writeScript(t, `printf '  Duration: 00:00:04.00,\nframe=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r' >&2
printf 'tail without newline' >&2
exit 0
`)
	var lines []string
	err := CommandExecutor{}.Run(context.Background(), script, nil, func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"  Duration: 00:00:04.00,", "frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "tail without newline"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines %q, want %q", lines, want)
	}
}

func TestCommandExecutorReportsExitFailure(t *testing.T) {
	script := writeScript(t, "echo 'Conversion failed!' >&2\nexit 3\n")
	if err := (CommandExecutor{}).Run(context.Background(), script, nil, func(string) {}); err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
}

func TestCommandExecutorKillsStubbornProcess(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nwhile true; do sleep 0.1; done\n")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- CommandExecutor{Grace: 200 * time.Millisecond}.Run(ctx, script, nil, func(string) {})
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("process was not killed after the grace period")
	}
}
