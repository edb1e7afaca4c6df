// Package deps checks the external tools reelvault shells out to and probes
// which ffmpeg H.264 encoders the host can use.
package deps
