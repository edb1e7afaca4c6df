package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// tsSyncByte opens every MPEG-TS packet; filling with it keeps fake segments
// recognisable in hexdumps.
const tsSyncByte = 0x47

// WriteFile creates path with size filler bytes, creating parent
// directories. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	write(t, path, bytes.Repeat([]byte{tsSyncByte}, int(size)))
}

// WriteText writes contents to path, creating parent directories.
func WriteText(t testing.TB, path, contents string) {
	t.Helper()
	write(t, path, []byte(contents))
}

func write(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
