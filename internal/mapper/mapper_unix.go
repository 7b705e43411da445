//go:build unix

package mapper

import (
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
)

type unixMapper struct{}

// New returns the Unix dialect of Mapper: reserve the whole image with one
// anonymous mmap, then overlay each file-backed segment on top of it with
// MAP_FIXED, the same pattern every ELF-aware Unix loader uses to get
// overlapping per-segment protections out of a single contiguous region.
func New() Mapper { return unixMapper{} }

func (unixMapper) Load(ctx *elfimage.Context, desc *elfimage.Descriptor, r io.ReaderAt) (*Image, error) {
	size := alignUp(desc.TotalMemorySize, ctx.PageSize)
	if size == 0 {
		return nil, errs.New(errs.PhaseMap, errs.KindMalformedFile, "image has zero total size")
	}

	reserved, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errs.Wrap(errs.PhaseMap, errs.KindMappingFailed, "reserving image span", err)
	}
	base := uintptr(unsafe.Pointer(&reserved[0]))
	img := &Image{Base: base, Size: size}
	ctx.Logf("mapper: reserved %#x bytes at %#x\n", size, base)

	for i, seg := range desc.Segments {
		if err := overlaySegment(ctx, img, seg, r); err != nil {
			_ = unixMapper{}.Unload(img)
			return nil, errs.Wrap(errs.PhaseMap, errs.KindMappingFailed, fmt.Sprintf("segment %d", i), err)
		}
	}
	return img, nil
}

// overlaySegment maps the file-backed portion of seg with MAP_FIXED at its
// final address and protection, then adjusts the protection of the
// anonymous pad portion (already zero-filled by the initial reservation)
// to its own final protection.
func overlaySegment(ctx *elfimage.Context, img *Image, seg elfimage.Segment, r io.ReaderAt) error {
	prot := unixProt(seg.Prot)

	if !seg.File.Empty() {
		fr, ok := r.(fdReaderAt)
		if !ok {
			return copyInBytes(img, seg, r, prot)
		}
		addr := img.Pointer(seg.RelOffset)
		length := alignUp(seg.File.Size, ctx.PageSize)
		_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot),
			uintptr(unix.MAP_FIXED|unix.MAP_PRIVATE), uintptr(fr.Fd()), uintptr(seg.File.Offset))
		if errno != 0 {
			return errno
		}
	}
	if !seg.Pad.Empty() {
		addr := img.Pointer(seg.RelOffset + seg.Pad.Offset)
		length := alignUp(seg.Pad.Size, ctx.PageSize)
		if err := unix.Mprotect(sliceAt(addr, length), prot); err != nil {
			return err
		}
	}
	return nil
}

// copyInBytes is the fallback path for a reader that is not backed by a
// real file descriptor (e.g. an in-memory io.ReaderAt in tests): it reads
// the segment's file-backed bytes and writes them directly into the
// already-reserved anonymous pages, then applies the final protection.
func copyInBytes(img *Image, seg elfimage.Segment, r io.ReaderAt, prot int) error {
	dstStart := seg.RelOffset
	length := seg.File.Size
	dst := sliceAt(img.Pointer(dstStart), length)
	// The anonymous reservation is PROT_NONE; temporarily allow writes.
	if err := unix.Mprotect(dst, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}
	if _, err := r.ReadAt(dst, int64(seg.File.Offset)); err != nil {
		return err
	}
	return unix.Mprotect(dst, prot)
}

func (unixMapper) Protect(img *Image, offset, size uint64, prot elfimage.Protection) error {
	return unix.Mprotect(sliceAt(img.Pointer(offset), size), unixProt(prot))
}

func (unixMapper) Unload(img *Image) error {
	if img == nil || img.Size == 0 {
		return nil
	}
	return unix.Munmap(sliceAt(img.Base, img.Size))
}

// unixProt follows spec.md §4.3's protection table: a segment without READ
// gets no access at all regardless of its WRITE/EXEC bits (unix.PROT_NONE is
// 0, so that case falls straight through without ORing anything in).
func unixProt(p elfimage.Protection) int {
	if !p.Read() {
		return unix.PROT_NONE
	}
	prot := unix.PROT_READ
	if p.Write() {
		prot |= unix.PROT_WRITE
	}
	if p.Exec() {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func sliceAt(addr uintptr, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

// fdReaderAt is satisfied by *os.File; readers that don't implement it fall
// back to copyInBytes instead of a file-descriptor-backed MAP_FIXED.
type fdReaderAt interface {
	io.ReaderAt
	Fd() uintptr
}
