package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reelvault/internal/api"
	"reelvault/internal/config"
	"reelvault/internal/deps"
	"reelvault/internal/logging"
	"reelvault/internal/metadata"
	"reelvault/internal/preflight"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// ErrDaemonNotRunning indicates the daemon HTTP API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached reelvault daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForHealthy polls the health endpoint until it answers or timeout passes.
func WaitForHealthy(ctx context.Context, client *api.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := client.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its API already answers.
func EnsureStarted(ctx context.Context, client *api.Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if err := client.Health(ctx); err == nil {
		result := StartResult{State: StartStateAlreadyRunning}
		if status, statusErr := client.Status(ctx); statusErr == nil {
			result.PID = status.PID
		}
		return result, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if err := WaitForHealthy(ctx, client, waitTimeout); err != nil {
		return StartResult{}, err
	}
	result := StartResult{State: StartStateStarted, Launched: true}
	if status, err := client.Status(ctx); err == nil {
		result.PID = status.PID
	}
	return result, nil
}

// WaitForShutdown waits for the daemon API to stop answering.
func WaitForShutdown(ctx context.Context, client *api.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		err := client.Health(ctx)
		if api.IsAPIUnavailable(err) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("daemon did not stop: still answering at %s", client.BaseURL())
}

// ProcessInfo returns whether the daemon API is reachable and its PID when
// available.
func ProcessInfo(ctx context.Context, client *api.Client) (bool, int, error) {
	status, err := client.Status(ctx)
	if err != nil {
		if api.IsAPIUnavailable(err) {
			return false, 0, nil
		}
		return true, 0, err
	}
	return true, status.PID, nil
}

// PIDPath returns the pid file maintained by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "reelvault.pid")
}

// LockPath returns the single-instance lock file.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "reelvaultd.lock")
}

// ReadPID parses the pid file at path. A missing file yields 0 and no error.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds %q", path, raw)
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return 0, err
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	Signalled  bool
	ForcedKill bool
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate sends SIGTERM to the daemon and force-kills it if the API
// still answers after gracePeriod.
func StopAndTerminate(ctx context.Context, client *api.Client, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	status, err := client.Status(ctx)
	if err != nil {
		if api.IsAPIUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	pidPath := PIDPath(cfg)
	lockPath := LockPath(cfg)
	if status.LockFilePath != "" {
		lockPath = status.LockFilePath
		pidPath = filepath.Join(filepath.Dir(status.LockFilePath), filepath.Base(pidPath))
	}

	pid := status.PID
	if pid <= 0 {
		if pid, err = ReadPID(pidPath); err != nil {
			return StopResult{}, err
		}
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, Signalled: true}

	if err := WaitForShutdown(ctx, client, gracePeriod); err == nil {
		return result, nil
	}
	killedPID, killErr := ForceKillProcess(pidPath, lockPath, pid)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(ctx context.Context, client *api.Client, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(ctx, client, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(ctx, client, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// BuildStatusSnapshot returns live daemon status, or an offline view built
// from the metadata document and a local encoder probe.
func BuildStatusSnapshot(ctx context.Context, client *api.Client, cfg *config.Config) (api.DaemonStatus, error) {
	if cfg == nil {
		return api.DaemonStatus{}, errors.New("configuration not available")
	}
	if client != nil {
		status, err := client.Status(ctx)
		if err == nil {
			return status, nil
		}
		if !api.IsAPIUnavailable(err) {
			return api.DaemonStatus{}, err
		}
	}

	status := api.DaemonStatus{
		MetadataPath: cfg.Paths.MetadataPath,
		HistoryPath:  cfg.Paths.HistoryPath,
		LockFilePath: LockPath(cfg),
	}
	if store, err := metadata.Open(cfg.Paths.MetadataPath, logging.NewNop()); err == nil {
		status.Records = store.Len()
	}

	caps := deps.ProbeEncoders(ctx, deps.ProbeOptions{
		FFmpegBinary:      cfg.FFmpegBinary(),
		HardwareRequested: cfg.HardwareRequested(),
		VAAPIDevice:       cfg.Transcode.VAAPIDevice,
	})
	status.Transcode = api.TranscodeStatus{
		Enabled:       cfg.Transcode.Enabled && caps.TranscodeEnabled(),
		Hardware:      cfg.HardwareRequested() && caps.Hardware,
		MaxConcurrent: cfg.Transcode.MaxConcurrent,
		Detail:        caps.Detail,
	}
	status.Dependencies = []api.DependencyStatus{{
		Name:        caps.FFmpeg.Name,
		Command:     caps.FFmpeg.Command,
		Description: caps.FFmpeg.Description,
		Optional:    caps.FFmpeg.Optional,
		Available:   caps.FFmpeg.Available,
		Detail:      caps.FFmpeg.Detail,
	}}
	status.Storage = preflight.StatusChecks(cfg)
	return status, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}
