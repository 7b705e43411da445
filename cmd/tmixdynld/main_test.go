package main

import (
	"testing"

	"github.com/xyproto/tmixdynld/internal/elfimage"
)

func TestDefaultHostLibrarySubpathIsNonEmpty(t *testing.T) {
	got := defaultHostLibrarySubpath()
	if got == "" {
		t.Fatal("defaultHostLibrarySubpath returned empty string")
	}
}

func TestRunReportsOpenFailure(t *testing.T) {
	ctx := &elfimage.Context{PageSize: 0x1000}
	err := run(ctx, "/nonexistent/path/does-not-exist.elf", "", false)
	if err == nil {
		t.Fatal("expected an error for a nonexistent ELF path")
	}
}
