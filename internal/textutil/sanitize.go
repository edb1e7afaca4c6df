package textutil

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes caps display and set names.
const maxNameBytes = 255

// SanitizeDisplayName reduces an uploaded file name to its final path
// component with control characters removed. Both slash styles count as
// separators. Returns "" when nothing printable remains.
func SanitizeDisplayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return truncate(strings.TrimSpace(stripControl(name)))
}

// SanitizeSetName trims a set name and removes control characters.
func SanitizeSetName(name string) string {
	return truncate(strings.TrimSpace(stripControl(name)))
}

func stripControl(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, value)
}

func truncate(value string) string {
	if len(value) <= maxNameBytes {
		return value
	}
	cut := maxNameBytes
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
