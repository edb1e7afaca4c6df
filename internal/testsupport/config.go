package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"reelvault/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.BlobDir = filepath.Join(base, "data", "uploads")
	cfgVal.Paths.DerivedDir = filepath.Join(base, "data", "hls")
	cfgVal.Paths.MetadataPath = filepath.Join(base, "data", "files.json")
	cfgVal.Paths.HistoryPath = filepath.Join(base, "data", "history.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Transcode.HardwareAccel = config.HardwareAccelNone
	cfgVal.Transcode.MinFreeGiB = 0
	cfgVal.Upload.RatePerMinute = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithTranscodeDisabled turns the transcode pool off.
func WithTranscodeDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcode.Enabled = false
	}
}

// WithUploadLimit caps upload size in bytes.
func WithUploadLimit(maxBytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxBytes = maxBytes
	}
}

// WithUploadRate enables per-client upload throttling.
func WithUploadRate(perMinute, burst int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.RatePerMinute = perMinute
		b.cfg.Upload.RateBurst = burst
	}
}

// WithFFmpegScript installs an ffmpeg stub running the given shell body and
// points the config at it.
func WithFFmpegScript(body string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcode.FFmpegBinary = writeStub(b.t, b.baseDir, "ffmpeg", body)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

func writeStub(t testing.TB, baseDir, name, body string) string {
	t.Helper()
	binDir := filepath.Join(baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}
