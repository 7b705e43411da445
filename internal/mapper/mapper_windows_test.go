//go:build windows

package mapper

import (
	"testing"

	"golang.org/x/sys/windows"

	"github.com/xyproto/tmixdynld/internal/elfimage"
)

func TestWindowsProtNoAccessWithoutRead(t *testing.T) {
	cases := []elfimage.Protection{
		0,
		elfimage.ProtWrite,
		elfimage.ProtExec,
		elfimage.ProtWrite | elfimage.ProtExec,
	}
	for _, p := range cases {
		if got := windowsProt(p); got != windows.PAGE_NOACCESS {
			t.Errorf("windowsProt(%s) = %#x, want PAGE_NOACCESS", p, got)
		}
	}
}

func TestWindowsProtWithRead(t *testing.T) {
	cases := []struct {
		p    elfimage.Protection
		want uint32
	}{
		{elfimage.ProtRead, windows.PAGE_READONLY},
		{elfimage.ProtRead | elfimage.ProtWrite, windows.PAGE_READWRITE},
		{elfimage.ProtRead | elfimage.ProtExec, windows.PAGE_EXECUTE_READ},
		{elfimage.ProtRead | elfimage.ProtWrite | elfimage.ProtExec, windows.PAGE_EXECUTE_READWRITE},
	}
	for _, c := range cases {
		if got := windowsProt(c.p); got != c.want {
			t.Errorf("windowsProt(%s) = %#x, want %#x", c.p, got, c.want)
		}
	}
}
