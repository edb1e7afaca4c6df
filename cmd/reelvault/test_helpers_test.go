package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"reelvault/internal/config"
	"reelvault/internal/daemon"
	"reelvault/internal/deps"
	"reelvault/internal/encoding"
	"reelvault/internal/logging"
	"reelvault/internal/storage"
	"reelvault/internal/testsupport"
)

type segmentEncoder struct{}

func (segmentEncoder) Encode(_ context.Context, _ encoding.Kind, _ string, outputDir string, progress func(int)) error {
	if progress != nil {
		progress(100)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "segment_00000.ts"), bytes.Repeat([]byte{0x47}, 188), 0o644); err != nil {
		return err
	}
	body := "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nsegment_00000.ts\n" + storage.CompletionMarker + "\n"
	return os.WriteFile(filepath.Join(outputDir, storage.ManifestName), []byte(body), 0o644)
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	caps := deps.Capabilities{
		FFmpeg:   deps.Status{Name: "FFmpeg", Command: "ffmpeg", Available: true},
		Software: true,
	}
	d, err := daemon.New(context.Background(), cfg, logging.NewNop(),
		daemon.WithCapabilities(caps),
		daemon.WithEncoder(segmentEncoder{}),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})

	cfg.Paths.APIBind = d.Addr()
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "reelvault.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: configPath,
		baseDir:    base,
	}
}

// offlineEnv writes a config whose API address has nothing listening.
func offlineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithFFmpegScript("exit 1\n"))
	cfg.Paths.APIBind = "127.0.0.1:1"
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "reelvault.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeSource(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte("r"), size), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
