// Package mapper places an inspected ELF image into memory. It has two
// dialects behind build tags: mapper_unix.go reserves the whole image span
// with one anonymous mmap and overlays each segment's file-backed range on
// top of it with MAP_FIXED (an "overlapping mmap" layout, the same
// reserve-then-overlay shape every Unix dynamic linker uses); mapper_windows.go
// reserves the span with VirtualAlloc(MEM_RESERVE) and commits each segment
// individually with VirtualAlloc(MEM_COMMIT) before copying its bytes in (a
// "non-overlapping view/commit" layout, since Windows has no equivalent of
// MAP_FIXED-over-an-existing-mapping). See spec.md §5.
package mapper

import (
	"io"

	"github.com/xyproto/tmixdynld/internal/elfimage"
)

// Image is a loaded, not-yet-linked mapping of one ELF shared object.
// Base is the address the image was placed at; every offset recorded in
// the Descriptor that produced it (RelOffset, PatchOffset, EntryOffset,
// ValueOffset) is relative to Base.
type Image struct {
	Base uintptr
	Size uint64
}

// Pointer returns the absolute address of the byte at offset within the
// image.
func (img *Image) Pointer(offset uint64) uintptr {
	return img.Base + uintptr(offset)
}

func alignUp(v, align uint64) uint64 {
	if align == 0 || v%align == 0 {
		return v
	}
	return v - v%align + align
}

// Mapper loads and unloads images and changes the protection of an
// already-loaded range, the operation RELRO freezing needs.
type Mapper interface {
	// Load reserves space for desc and places every segment's file-backed
	// bytes from r into it (mapped directly off the file descriptor where
	// the dialect and r allow it, copied otherwise), leaving anonymous pad
	// ranges zero-filled. Segments
	// are mapped with their final declared protection immediately; no
	// separate Protect call is required for the common case.
	Load(ctx *elfimage.Context, desc *elfimage.Descriptor, r io.ReaderAt) (*Image, error)

	// Protect changes the protection of the byte range
	// [offset, offset+size) within img, relative to img.Base. Used by
	// link.FreezeRelro to freeze RELRO ranges read-only after relocation.
	Protect(img *Image, offset, size uint64, prot elfimage.Protection) error

	// Unload releases every mapping backing img. Safe to call on a
	// partially-constructed Image (e.g. after Load fails partway through).
	Unload(img *Image) error
}
