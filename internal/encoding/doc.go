// Package encoding drives ffmpeg to produce single-rendition HLS output.
//
// It builds argument lists for the VAAPI (h264_vaapi) and software (libx264)
// paths, supervises one ffmpeg process per call through an injectable
// Executor, turns the stderr stream into progress percentages, and classifies
// failures that indicate the hardware encoder is unusable so callers can fall
// back to software exactly once.
package encoding
