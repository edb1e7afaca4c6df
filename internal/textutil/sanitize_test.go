package textutil

import (
	"strings"
	"testing"
)

func TestSanitizeDisplayName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"movie.mp4", "movie.mp4"},
		{"  spaced name.mkv  ", "spaced name.mkv"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\clip.mov`, "clip.mov"},
		{"bad\x00name\x1f.webm", "badname.webm"},
		{"dir/", "dir"},
		{"..", ""},
		{"/", ""},
		{"", ""},
		{"\t\n", ""},
	}
	for _, tc := range cases {
		if got := SanitizeDisplayName(tc.in); got != tc.want {
			t.Errorf("SanitizeDisplayName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeDisplayNameTruncatesOnRuneBoundary(t *testing.T) {
	name := strings.Repeat("é", 200) + ".mp4"
	got := SanitizeDisplayName(name)
	if len(got) > maxNameBytes {
		t.Fatalf("expected at most %d bytes, got %d", maxNameBytes, len(got))
	}
	if !strings.HasPrefix(name, got) || strings.ContainsRune(got, '\uFFFD') {
		t.Fatalf("truncation split a rune: %q", got)
	}
}

func TestSanitizeSetName(t *testing.T) {
	if got := SanitizeSetName("  wall\x07 one "); got != "wall one" {
		t.Fatalf("unexpected set name %q", got)
	}
	if got := SanitizeSetName(" \n "); got != "" {
		t.Fatalf("expected empty set name, got %q", got)
	}
}
