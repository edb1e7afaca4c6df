package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateLifecycle(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic %q must be an http(s) URL", topic)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.BlobDir == c.Paths.DerivedDir {
		return errors.New("paths.blob_dir and paths.derived_dir must differ")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if err := ensurePositiveMap(map[string]int{
		"transcode.max_concurrent":      c.Transcode.MaxConcurrent,
		"transcode.job_timeout_minutes": c.Transcode.JobTimeoutMinutes,
	}); err != nil {
		return err
	}
	switch c.Transcode.HardwareAccel {
	case HardwareAccelVAAPI, HardwareAccelNone:
	default:
		return fmt.Errorf("transcode.hardware_accel must be %q or %q, got %q", HardwareAccelVAAPI, HardwareAccelNone, c.Transcode.HardwareAccel)
	}
	if c.Transcode.MinFreeGiB < 0 {
		return errors.New("transcode.min_free_gib must be >= 0")
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
		return errors.New("transcode.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateLifecycle() error {
	return ensurePositiveMap(map[string]int{
		"lifecycle.retention_hours":        c.Lifecycle.RetentionHours,
		"lifecycle.sweep_interval_minutes": c.Lifecycle.SweepIntervalMinutes,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
