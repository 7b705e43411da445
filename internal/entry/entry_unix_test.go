//go:build unix

package entry

import (
	"runtime"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// retEncoding holds, per architecture, the machine code for a bare
// function that immediately returns — just enough to prove Call actually
// transfers control and comes back rather than crashing or looping.
var retEncoding = map[string][]byte{
	"amd64":   {0xc3},                   // RET
	"arm64":   {0xc0, 0x03, 0x5f, 0xd6},  // RET
	"riscv64": {0x67, 0x80, 0x00, 0x00},  // JALR x0, x1, 0 (ret pseudo-op)
}

func TestCallReturnsToCaller(t *testing.T) {
	code, ok := retEncoding[runtime.GOARCH]
	if !ok {
		t.Skipf("no RET encoding recorded for %s", runtime.GOARCH)
	}

	page, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer unix.Munmap(page)

	copy(page, code)
	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		t.Fatalf("mprotect: %v", err)
	}

	addr := uintptr(unsafe.Pointer(&page[0]))
	Call(addr) // must return; a hang or crash fails the test run
}
