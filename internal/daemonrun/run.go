package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reelvault/internal/config"
	"reelvault/internal/daemon"
	"reelvault/internal/logging"
)

const (
	logPrefix        = "reelvault-"
	currentLogName   = "reelvault.log"
	pidFileName      = "reelvault.pid"
	retentionCadence = 24 * time.Hour
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, pidFileName)
}

// CurrentLogPath returns the pointer that always resolves to the newest run's log.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, currentLogName)
}

// Run starts the reelvault daemon and blocks until SIGINT/SIGTERM or
// cmdCtx cancellation, then shuts it down.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, logPrefix+runID+".log")

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	pruneLogs(logger, cfg, logPath)

	d, err := daemon.New(signalCtx, cfg, logger, daemon.WithLogPath(logPath))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running instance and data directory access"),
		)
		return err
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		d.Stop()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("reelvault daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"),
		)
		d.Stop()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(retentionCadence)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pruneLogs(logger, cfg, logPath)
			}
		}
	})
	return g.Wait()
}

func pruneLogs(logger *slog.Logger, cfg *config.Config, logPath string) {
	removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logPrefix + "*.log", Exclude: []string{logPath}},
	)
	if removed > 0 {
		logger.Info("pruned old daemon logs",
			logging.String(logging.FieldEventType, "log_retention"),
			logging.Int("removed", removed),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := cfg.FFmpegBinary()
	vaapi := strings.TrimSpace(cfg.Transcode.VAAPIDevice)
	_, vaapiErr := os.Stat(vaapi)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpeg)),
		logging.String("ffmpeg_binary", ffmpeg),
		logging.Bool("transcode_enabled", cfg.Transcode.Enabled),
		logging.Bool("hardware_requested", cfg.HardwareRequested()),
		logging.String("vaapi_device", vaapi),
		logging.Bool("vaapi_device_present", vaapi != "" && vaapiErr == nil),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
