package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"reelvault/internal/api"
	"reelvault/internal/config"
	"reelvault/internal/fileutil"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Warn   bool
	Detail string
}

// RunAll checks every storage directory named by cfg. The derived directory
// additionally reports free space against transcode.min_free_gib.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Uploads", cfg.Paths.BlobDir),
		CheckDirectoryAccess("HLS output", cfg.Paths.DerivedDir),
		CheckDirectoryAccess("Logs", cfg.Paths.LogDir),
	}
	if results[1].Passed {
		results = append(results, CheckFreeSpace("HLS free space", cfg.Paths.DerivedDir, cfg.MinFreeBytes()))
	}
	return results
}

// StatusChecks runs RunAll and converts the results for the status payload.
func StatusChecks(cfg *config.Config) []api.StorageCheck {
	results := RunAll(cfg)
	out := make([]api.StorageCheck, 0, len(results))
	for _, r := range results {
		out = append(out, api.StorageCheck{Name: r.Name, Severity: r.Severity(), Detail: r.Detail})
	}
	return out
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace compares available bytes under path with floor. Falling
// below the floor is a warning: uploads still work but transcodes fail fast.
func CheckFreeSpace(name, path string, floor uint64) Result {
	free, err := fileutil.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s available", formatGiB(free))
	if floor > 0 {
		detail += fmt.Sprintf(" (floor %s)", formatGiB(floor))
	}
	if free < floor {
		return Result{Name: name, Passed: true, Warn: true, Detail: detail + "; transcodes will be refused"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// Severity maps a result to ok, warn, or error.
func (r Result) Severity() string {
	switch {
	case !r.Passed:
		return "error"
	case r.Warn:
		return "warn"
	default:
		return "ok"
	}
}

func formatGiB(n uint64) string {
	return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
}
