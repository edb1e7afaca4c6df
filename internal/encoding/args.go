package encoding

import (
	"path/filepath"
	"strconv"
	"strings"

	"reelvault/internal/config"
	"reelvault/internal/storage"
)

// Kind selects the encoder path for one attempt.
type Kind string

const (
	KindHardware Kind = "hardware"
	KindSoftware Kind = "software"
)

// Settings holds the encoder knobs derived from configuration.
type Settings struct {
	FFmpegBinary     string
	VAAPIDevice      string
	SegmentSeconds   int
	MaxHeight        int
	SoftwarePreset   string
	CRF              int
	AudioBitrateKbps int
}

// SettingsFromConfig extracts encoder settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		FFmpegBinary:     cfg.FFmpegBinary(),
		VAAPIDevice:      cfg.Transcode.VAAPIDevice,
		SegmentSeconds:   cfg.Transcode.SegmentSeconds,
		MaxHeight:        cfg.Transcode.MaxHeight,
		SoftwarePreset:   cfg.Transcode.SoftwarePreset,
		CRF:              cfg.Transcode.CRF,
		AudioBitrateKbps: cfg.Transcode.AudioBitrateKbps,
	}
}

// BuildArgs returns the ffmpeg arguments (without the binary) that encode
// input into an HLS VOD playlist and segments inside outputDir.
func BuildArgs(s Settings, kind Kind, input, outputDir string) []string {
	segment := s.SegmentSeconds
	if segment <= 0 {
		segment = 4
	}
	args := make([]string, 0, 48)
	args = append(args, "-hide_banner", "-nostdin", "-y")

	if kind == KindHardware {
		args = append(args,
			"-init_hw_device", "vaapi=va:"+s.VAAPIDevice,
			"-filter_hw_device", "va",
		)
	}

	args = append(args, "-i", input, "-map", "0:v:0", "-map", "0:a:0?", "-sn", "-dn")

	switch kind {
	case KindHardware:
		args = append(args,
			"-vf", hardwareFilter(s.MaxHeight),
			"-c:v", "h264_vaapi",
			"-rc_mode", "CQP",
			"-qp", strconv.Itoa(s.CRF),
		)
	default:
		if filter := softwareFilter(s.MaxHeight); filter != "" {
			args = append(args, "-vf", filter)
		}
		preset := strings.TrimSpace(s.SoftwarePreset)
		if preset == "" {
			preset = "veryfast"
		}
		args = append(args,
			"-c:v", "libx264",
			"-preset", preset,
			"-crf", strconv.Itoa(s.CRF),
			"-pix_fmt", "yuv420p",
			"-profile:v", "high",
		)
	}

	// Keyframes on segment boundaries keep segment durations even.
	args = append(args, "-force_key_frames", "expr:gte(t,n_forced*"+strconv.Itoa(segment)+")")

	bitrate := s.AudioBitrateKbps
	if bitrate <= 0 {
		bitrate = 128
	}
	args = append(args, "-c:a", "aac", "-ac", "2", "-b:a", strconv.Itoa(bitrate)+"k")

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(outputDir, storage.SegmentPattern),
		filepath.Join(outputDir, storage.ManifestName),
	)
	return args
}

func hardwareFilter(maxHeight int) string {
	if maxHeight <= 0 {
		return "format=nv12,hwupload"
	}
	return "format=nv12,hwupload,scale_vaapi=w=-2:h='min(" + strconv.Itoa(maxHeight) + ",ih)'"
}

func softwareFilter(maxHeight int) string {
	if maxHeight <= 0 {
		return ""
	}
	return "scale=-2:'min(" + strconv.Itoa(maxHeight) + ",ih)'"
}
