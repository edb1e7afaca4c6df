package encoding

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func testSettings() Settings {
	return Settings{
		FFmpegBinary:     "ffmpeg",
		VAAPIDevice:      "/dev/dri/renderD128",
		SegmentSeconds:   6,
		MaxHeight:        720,
		SoftwarePreset:   "fast",
		CRF:              21,
		AudioBitrateKbps: 160,
	}
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		t.Fatalf("flag %s missing from %v", flag, args)
	}
	return args[idx+1]
}

func TestBuildArgsHardware(t *testing.T) {
	out := filepath.Join("/tmp", "hls", "abc")
	args := BuildArgs(testSettings(), KindHardware, "/in/movie.mkv", out)

	if got := argValue(t, args, "-init_hw_device"); got != "vaapi=va:/dev/dri/renderD128" {
		t.Fatalf("unexpected hw device %q", got)
	}
	if got := argValue(t, args, "-c:v"); got != "h264_vaapi" {
		t.Fatalf("expected h264_vaapi, got %q", got)
	}
	if vf := argValue(t, args, "-vf"); !strings.Contains(vf, "hwupload") || !strings.Contains(vf, "min(720,ih)") {
		t.Fatalf("unexpected hardware filter %q", vf)
	}
	if got := argValue(t, args, "-i"); got != "/in/movie.mkv" {
		t.Fatalf("unexpected input %q", got)
	}
	if slices.Index(args, "-init_hw_device") > slices.Index(args, "-i") {
		t.Fatal("hardware device must be initialised before the input")
	}
}

func TestBuildArgsSoftwareHLSOutput(t *testing.T) {
	out := filepath.Join("/tmp", "hls", "abc")
	args := BuildArgs(testSettings(), KindSoftware, "/in/movie.mkv", out)

	if slices.Contains(args, "-init_hw_device") {
		t.Fatal("software path must not request a hardware device")
	}
	checks := map[string]string{
		"-c:v":                  "libx264",
		"-preset":               "fast",
		"-crf":                  "21",
		"-c:a":                  "aac",
		"-ac":                   "2",
		"-b:a":                  "160k",
		"-f":                    "hls",
		"-hls_time":             "6",
		"-hls_playlist_type":    "vod",
		"-hls_segment_filename": filepath.Join(out, "segment_%05d.ts"),
	}
	for flag, want := range checks {
		if got := argValue(t, args, flag); got != want {
			t.Fatalf("%s = %q, want %q", flag, got, want)
		}
	}
	if last := args[len(args)-1]; last != filepath.Join(out, "index.m3u8") {
		t.Fatalf("expected manifest as final argument, got %q", last)
	}
}

func TestBuildArgsWithoutScaling(t *testing.T) {
	settings := testSettings()
	settings.MaxHeight = 0
	settings.SegmentSeconds = 0
	args := BuildArgs(settings, KindSoftware, "in", "out")
	if slices.Contains(args, "-vf") {
		t.Fatalf("expected no filter when scaling disabled: %v", args)
	}
	if got := argValue(t, args, "-hls_time"); got != "4" {
		t.Fatalf("expected default segment length, got %q", got)
	}
}
