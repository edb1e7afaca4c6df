package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"reelvault/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// dependencyLines renders a summary line followed by one line per dependency.
func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	missingRequired, missingOptional := 0, 0
	body := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			body = append(body, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
			missingOptional++
		} else {
			missingRequired++
		}
		body = append(body, renderStatusLine(dep.Name, kind, detail, colorize))
	}

	available := len(deps) - missingRequired - missingOptional
	summaryKind := statusOK
	summary := fmt.Sprintf("%d/%d available", available, len(deps))
	switch {
	case len(deps) == 0:
		summaryKind, summary = statusInfo, "No dependency checks reported"
	case missingRequired > 0:
		summaryKind = statusError
	case missingOptional > 0:
		summaryKind = statusWarn
	}
	if missingRequired+missingOptional > 0 {
		summary += fmt.Sprintf(" (missing: %d required, %d optional)", missingRequired, missingOptional)
	}
	lines = append(lines, renderStatusLine("Summary", summaryKind, summary, colorize))
	return append(lines, body...)
}

func renderDaemonStatus(w io.Writer, status api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(w, line)
	}
	if status.Running {
		detail := "Running"
		if status.PID > 0 {
			detail += " (pid " + strconv.Itoa(status.PID) + ")"
		}
		if status.StartedAt != "" {
			detail += " since " + status.StartedAt
		}
		fmt.Fprintln(w, renderStatusLine("reelvault", statusOK, detail, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("reelvault", statusWarn, "Not running (run `reelvault start`)", colorize))
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Transcoding", colorize) {
		fmt.Fprintln(w, line)
	}
	t := status.Transcode
	if t.Enabled {
		path := "software"
		if t.Hardware {
			path = "hardware with software fallback"
		}
		fmt.Fprintln(w, renderStatusLine("Encoder", statusOK, path, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Encoder", statusWarn, "Disabled", colorize))
	}
	if t.Detail != "" {
		fmt.Fprintln(w, renderStatusLine("Probe", statusInfo, t.Detail, colorize))
	}
	if status.Running {
		fmt.Fprintln(w, renderStatusLine("Jobs", statusInfo,
			fmt.Sprintf("%d active / %d slots, %d queued", t.Active, t.MaxConcurrent, t.Queued), colorize))
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(w, line)
	}
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Storage", colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, renderStatusLine("Files", statusInfo, strconv.Itoa(status.Records), colorize))
	fmt.Fprintln(w, renderStatusLine("Metadata", statusInfo, status.MetadataPath, colorize))
	fmt.Fprintln(w, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	if status.LogPath != "" {
		fmt.Fprintln(w, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	for _, check := range status.Storage {
		fmt.Fprintln(w, renderStatusLine(check.Name, storageKind(check.Severity), check.Detail, colorize))
	}
}

func storageKind(severity string) statusKind {
	switch severity {
	case "ok":
		return statusOK
	case "warn":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}
