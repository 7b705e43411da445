//go:build windows

package mapper

import (
	"io"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
)

type windowsMapper struct{}

// New returns the Windows dialect of Mapper: VirtualAlloc(MEM_RESERVE)
// reserves the whole image span, then every segment is committed and
// filled individually with VirtualAlloc(MEM_COMMIT) + a direct byte copy,
// since Windows has no MAP_FIXED-style "overlay an existing reservation
// with a file mapping" operation — grounded on the wintun memmod loader's
// view/commit pattern.
func New() Mapper { return windowsMapper{} }

func (windowsMapper) Load(ctx *elfimage.Context, desc *elfimage.Descriptor, r io.ReaderAt) (*Image, error) {
	size := alignUp(desc.TotalMemorySize, ctx.PageSize)
	if size == 0 {
		return nil, errs.New(errs.PhaseMap, errs.KindMalformedFile, "image has zero total size")
	}

	base, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, errs.Wrap(errs.PhaseMap, errs.KindMappingFailed, "reserving image span", err)
	}
	img := &Image{Base: base, Size: size}
	ctx.Logf("mapper: reserved %#x bytes at %#x\n", size, base)

	for _, seg := range desc.Segments {
		if err := commitSegment(img, seg, r); err != nil {
			_ = windowsMapper{}.Unload(img)
			return nil, errs.Wrap(errs.PhaseMap, errs.KindMappingFailed, "committing segment", err)
		}
	}
	return img, nil
}

func commitSegment(img *Image, seg elfimage.Segment, r io.ReaderAt) error {
	span := seg.MemSize()
	if span == 0 {
		return nil
	}
	addr := img.Pointer(seg.RelOffset)
	if _, err := windows.VirtualAlloc(addr, uintptr(span), windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		return err
	}

	if !seg.File.Empty() {
		dst := sliceAt(addr, seg.File.Size)
		if _, err := r.ReadAt(dst, int64(seg.File.Offset)); err != nil {
			return err
		}
	}
	// seg.Pad, if any, is left at the zero bytes VirtualAlloc guarantees
	// for freshly committed pages.

	var old uint32
	return windows.VirtualProtect(addr, uintptr(span), windowsProt(seg.Prot), &old)
}

func (windowsMapper) Protect(img *Image, offset, size uint64, prot elfimage.Protection) error {
	var old uint32
	return windows.VirtualProtect(img.Pointer(offset), uintptr(size), windowsProt(prot), &old)
}

func (windowsMapper) Unload(img *Image) error {
	if img == nil || img.Size == 0 {
		return nil
	}
	return windows.VirtualFree(img.Base, 0, windows.MEM_RELEASE)
}

// windowsProt follows spec.md §4.3's protection table: a segment without
// READ gets PAGE_NOACCESS regardless of its WRITE/EXEC bits, checked before
// any Exec/Write case below can match.
func windowsProt(p elfimage.Protection) uint32 {
	switch {
	case !p.Read():
		return windows.PAGE_NOACCESS
	case p.Exec() && p.Write():
		return windows.PAGE_EXECUTE_READWRITE
	case p.Exec():
		return windows.PAGE_EXECUTE_READ
	case p.Write():
		return windows.PAGE_READWRITE
	default:
		return windows.PAGE_READONLY
	}
}

func sliceAt(addr uintptr, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}
