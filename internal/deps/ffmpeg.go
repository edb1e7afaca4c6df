package deps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	encoderSoftware = "libx264"
	encoderHardware = "h264_vaapi"
	probeTimeout    = 15 * time.Second
)

// ProbeOptions controls the encoder capability probe.
type ProbeOptions struct {
	FFmpegBinary      string
	HardwareRequested bool
	VAAPIDevice       string
}

// Capabilities summarizes which transcode paths the host supports.
type Capabilities struct {
	FFmpeg   Status `json:"ffmpeg"`
	Software bool   `json:"software"`
	Hardware bool   `json:"hardware"`
	Detail   string `json:"detail,omitempty"`
}

// TranscodeEnabled reports whether any encoder path is usable.
func (c Capabilities) TranscodeEnabled() bool {
	return c.Software || c.Hardware
}

// ProbeEncoders runs `ffmpeg -hide_banner -encoders` and derives which H.264
// encoder paths are usable. The hardware path additionally requires the
// configured render device to exist.
func ProbeEncoders(ctx context.Context, opts ProbeOptions) Capabilities {
	binary := strings.TrimSpace(opts.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	caps := Capabilities{FFmpeg: resolveBinary("FFmpeg", binary, "Required for HLS transcoding")}
	if !caps.FFmpeg.Available {
		caps.Detail = caps.FFmpeg.Detail
		return caps
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, caps.FFmpeg.Command, "-hide_banner", "-encoders").Output() //nolint:gosec
	if err != nil {
		caps.FFmpeg.Available = false
		caps.FFmpeg.Detail = fmt.Sprintf("encoder listing failed: %v", err)
		caps.Detail = caps.FFmpeg.Detail
		return caps
	}

	encoders := parseEncoderList(string(out))
	_, caps.Software = encoders[encoderSoftware]
	_, hasVAAPI := encoders[encoderHardware]

	var notes []string
	switch {
	case !opts.HardwareRequested:
		notes = append(notes, "hardware path disabled by configuration")
	case !hasVAAPI:
		notes = append(notes, encoderHardware+" not listed")
	case !deviceExists(opts.VAAPIDevice):
		notes = append(notes, fmt.Sprintf("render device %q missing", opts.VAAPIDevice))
	default:
		caps.Hardware = true
	}
	if !caps.Software {
		notes = append(notes, encoderSoftware+" not listed")
	}
	caps.Detail = strings.Join(notes, "; ")
	return caps
}

// parseEncoderList extracts encoder names from ffmpeg's listing, where each
// entry line is " <flags> <name> <description>" below a "------" separator.
func parseEncoderList(output string) map[string]struct{} {
	names := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(output))
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			if strings.HasPrefix(line, "---") {
				started = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			names[fields[1]] = struct{}{}
		}
	}
	return names
}

func deviceExists(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
