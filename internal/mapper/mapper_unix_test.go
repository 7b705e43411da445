//go:build unix

package mapper

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/xyproto/tmixdynld/internal/elfimage"
)

func TestUnixProtNoAccessWithoutRead(t *testing.T) {
	cases := []elfimage.Protection{
		0,
		elfimage.ProtWrite,
		elfimage.ProtExec,
		elfimage.ProtWrite | elfimage.ProtExec,
	}
	for _, p := range cases {
		if got := unixProt(p); got != unix.PROT_NONE {
			t.Errorf("unixProt(%s) = %#x, want PROT_NONE", p, got)
		}
	}
}

func TestUnixProtWithRead(t *testing.T) {
	cases := []struct {
		p    elfimage.Protection
		want int
	}{
		{elfimage.ProtRead, unix.PROT_READ},
		{elfimage.ProtRead | elfimage.ProtWrite, unix.PROT_READ | unix.PROT_WRITE},
		{elfimage.ProtRead | elfimage.ProtExec, unix.PROT_READ | unix.PROT_EXEC},
		{elfimage.ProtRead | elfimage.ProtWrite | elfimage.ProtExec, unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC},
	}
	for _, c := range cases {
		if got := unixProt(c.p); got != c.want {
			t.Errorf("unixProt(%s) = %#x, want %#x", c.p, got, c.want)
		}
	}
}
