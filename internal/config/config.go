package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, file, and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	BlobDir      string `toml:"blob_dir"`
	DerivedDir   string `toml:"derived_dir"`
	MetadataPath string `toml:"metadata_path"`
	HistoryPath  string `toml:"history_path"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
}

// Upload contains limits applied to incoming uploads.
type Upload struct {
	MaxBytes      int64 `toml:"max_bytes"`
	RatePerMinute int   `toml:"rate_per_minute"`
	RateBurst     int   `toml:"rate_burst"`
}

// Transcode contains configuration for the HLS encoder pool.
type Transcode struct {
	Enabled           bool    `toml:"enabled"`
	FFmpegBinary      string  `toml:"ffmpeg_binary"`
	MaxConcurrent     int     `toml:"max_concurrent"`
	MinFreeGiB        float64 `toml:"min_free_gib"`
	HardwareAccel     string  `toml:"hardware_accel"`
	VAAPIDevice       string  `toml:"vaapi_device"`
	SegmentSeconds    int     `toml:"segment_seconds"`
	MaxHeight         int     `toml:"max_height"`
	SoftwarePreset    string  `toml:"software_preset"`
	CRF               int     `toml:"crf"`
	AudioBitrateKbps  int     `toml:"audio_bitrate_kbps"`
	JobTimeoutMinutes int     `toml:"job_timeout_minutes"`
	OutcomeTTLMinutes int     `toml:"outcome_ttl_minutes"`
}

// Lifecycle contains retention and sweep timing.
type Lifecycle struct {
	RetentionHours       int `toml:"retention_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
	HistoryRetentionDays int `toml:"history_retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures optional ntfy delivery of transcode outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifySuccess         bool   `toml:"notify_success"`
}

// Config encapsulates all configuration values for reelvault.
//
// Configuration sections by subsystem:
//   - Paths: storage layout, log directory, and API bind address
//   - Upload: size and rate limits for ingest
//   - Transcode: ffmpeg binary, concurrency, hardware path, and job timeout
//   - Lifecycle: expiry window and sweep cadence
//   - Logging: log format, level, and retention
//   - Notifications: ntfy endpoint for transcode outcomes
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Transcode     Transcode     `toml:"transcode"`
	Lifecycle     Lifecycle     `toml:"lifecycle"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelvault.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.BlobDir,
		c.Paths.DerivedDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.MetadataPath),
		filepath.Dir(c.Paths.HistoryPath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for transcoding.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Transcode.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// MinFreeBytes converts the configured free-space floor to bytes.
func (c *Config) MinFreeBytes() uint64 {
	if c.Transcode.MinFreeGiB <= 0 {
		return 0
	}
	return uint64(c.Transcode.MinFreeGiB * (1 << 30))
}

// JobTimeout returns the wall-clock limit applied to a single transcode job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Transcode.JobTimeoutMinutes) * time.Minute
}

// OutcomeTTL returns how long finished job outcomes stay visible to status queries.
func (c *Config) OutcomeTTL() time.Duration {
	return time.Duration(c.Transcode.OutcomeTTLMinutes) * time.Minute
}

// Retention returns the age after which records without a set name expire.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Lifecycle.RetentionHours) * time.Hour
}

// SweepInterval returns the cadence of the expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Lifecycle.SweepIntervalMinutes) * time.Minute
}

// HistoryRetention returns how long transcode history rows are kept.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Lifecycle.HistoryRetentionDays) * 24 * time.Hour
}

// NotifyTimeout returns the per-request timeout for ntfy deliveries.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// HardwareRequested reports whether the config asks for the VAAPI encoder path.
func (c *Config) HardwareRequested() bool {
	return c.Transcode.HardwareAccel == HardwareAccelVAAPI
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
