// Package config loads, normalizes, and validates reelvault configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), derives the upload, HLS, metadata, and history locations from
// data_dir when they are not set explicitly, and reads TOML files. The Config
// type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
