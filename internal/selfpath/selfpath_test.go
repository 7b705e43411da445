package selfpath

import (
	"path/filepath"
	"testing"
)

func TestDefaultHostLibraryPathJoinsExecutableDir(t *testing.T) {
	dir, err := ExecutableDir()
	if err != nil {
		t.Fatalf("ExecutableDir: %v", err)
	}
	got, err := DefaultHostLibraryPath("lib/libc.so.6")
	if err != nil {
		t.Fatalf("DefaultHostLibraryPath: %v", err)
	}
	want := filepath.Join(dir, "lib/libc.so.6")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
