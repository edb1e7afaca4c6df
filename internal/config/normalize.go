package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeTranscode()
	c.normalizeLifecycle()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}

	derived := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.blob_dir", &c.Paths.BlobDir, filepath.Join(c.Paths.DataDir, defaultBlobDirName)},
		{"paths.derived_dir", &c.Paths.DerivedDir, filepath.Join(c.Paths.DataDir, defaultDerivedDirName)},
		{"paths.metadata_path", &c.Paths.MetadataPath, filepath.Join(c.Paths.DataDir, defaultMetadataFileName)},
		{"paths.history_path", &c.Paths.HistoryPath, filepath.Join(c.Paths.DataDir, defaultHistoryFileName)},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = entry.fallback
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}

	if value, ok := os.LookupEnv(apiBindEnv); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = value
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeUpload() {
	if c.Upload.MaxBytes < 0 {
		c.Upload.MaxBytes = 0
	}
	if c.Upload.RatePerMinute < 0 {
		c.Upload.RatePerMinute = 0
	}
	if c.Upload.RatePerMinute > 0 && c.Upload.RateBurst <= 0 {
		c.Upload.RateBurst = defaultUploadRateBurst
	}
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.HardwareAccel = strings.ToLower(strings.TrimSpace(c.Transcode.HardwareAccel))
	switch c.Transcode.HardwareAccel {
	case "", "off", "false", "software":
		c.Transcode.HardwareAccel = HardwareAccelNone
	}
	c.Transcode.VAAPIDevice = strings.TrimSpace(c.Transcode.VAAPIDevice)
	if c.Transcode.VAAPIDevice == "" {
		c.Transcode.VAAPIDevice = defaultVAAPIDevice
	}
	c.Transcode.SoftwarePreset = strings.TrimSpace(c.Transcode.SoftwarePreset)
	if c.Transcode.SoftwarePreset == "" {
		c.Transcode.SoftwarePreset = defaultSoftwarePreset
	}
	if c.Transcode.SegmentSeconds <= 0 {
		c.Transcode.SegmentSeconds = defaultSegmentSeconds
	}
	if c.Transcode.AudioBitrateKbps <= 0 {
		c.Transcode.AudioBitrateKbps = defaultAudioBitrateKbps
	}
	if c.Transcode.OutcomeTTLMinutes <= 0 {
		c.Transcode.OutcomeTTLMinutes = defaultOutcomeTTLMinutes
	}
	if c.Transcode.MaxHeight < 0 {
		c.Transcode.MaxHeight = 0
	}
}

func (c *Config) normalizeLifecycle() {
	if c.Lifecycle.HistoryRetentionDays < 0 {
		c.Lifecycle.HistoryRetentionDays = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}
