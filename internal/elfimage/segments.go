package elfimage

import (
	"debug/elf"

	"github.com/xyproto/tmixdynld/internal/errs"
)

// loadEntry pairs a PT_LOAD program header with its pre-computed aligned
// base address, so the sort-by-base-address step below does not have to
// recompute it.
type loadEntry struct {
	prog         *elf.Prog
	alignedVaddr uint64
	remainder    uint64
}

// countSegments performs the first pass of the program-header walk: it
// collects every non-empty PT_LOAD entry (for exact-size allocation of the
// segment array, per spec.md §4.1) and counts PT_GNU_RELRO entries.
func countSegments(f *elf.File) ([]loadEntry, int) {
	var loads []loadEntry
	relroCount := 0
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			if p.Memsz == 0 {
				continue
			}
			var remainder, alignedVaddr uint64
			if p.Align != 0 {
				remainder = p.Vaddr % p.Align
				alignedVaddr = p.Vaddr - remainder
			} else {
				alignedVaddr = p.Vaddr
			}
			loads = append(loads, loadEntry{prog: p, alignedVaddr: alignedVaddr, remainder: remainder})
		case elf.PT_GNU_RELRO:
			relroCount++
		}
	}
	return loads, relroCount
}

// protectionFromFlags converts ELF PF_R/PF_W/PF_X bits into a Protection
// set, rejecting the executable-but-not-readable combination spec.md §3
// calls malformed.
func protectionFromFlags(flags elf.ProgFlag) (Protection, error) {
	var p Protection
	if flags&elf.PF_R != 0 {
		p |= ProtRead
	}
	if flags&elf.PF_W != 0 {
		p |= ProtWrite
	}
	if flags&elf.PF_X != 0 {
		p |= ProtExec
	}
	if p.Exec() && !p.Read() {
		return 0, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "segment is executable but not readable")
	}
	return p, nil
}

// buildSegment turns one PT_LOAD entry into a Segment, applying the
// alignment validation and file/pad chunk split from spec.md §4.1 verbatim.
func buildSegment(ctx *Context, le loadEntry, firstVaddr uint64) (Segment, error) {
	p := le.prog

	if p.Align == 0 || p.Align%ctx.PageSize != 0 {
		return Segment{}, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "segment alignment is not a non-zero multiple of the page size")
	}
	if (p.Vaddr-p.Off)%p.Align != 0 {
		return Segment{}, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "segment vaddr/offset cannot satisfy file-backed mapping alignment")
	}

	remainder := le.remainder
	relOffset := le.alignedVaddr - firstVaddr

	var file, pad Chunk
	if p.Filesz > 0 {
		file = Chunk{Offset: p.Off - remainder, Size: p.Filesz + remainder}
	}
	if p.Memsz > p.Filesz {
		if p.Filesz == 0 {
			pad = Chunk{Offset: 0, Size: p.Memsz + remainder}
		} else {
			pages := (file.Size + p.Align - 1) / p.Align
			if pages*p.Align < p.Memsz+remainder {
				pad = Chunk{Offset: pages * p.Align, Size: p.Memsz + remainder - pages*p.Align}
			}
		}
	}

	prot, err := protectionFromFlags(p.Flags)
	if err != nil {
		return Segment{}, err
	}

	return Segment{RelOffset: relOffset, File: file, Pad: pad, Prot: prot}, nil
}

// relroChunk computes a PT_GNU_RELRO range in the same relative coordinate
// system as Segment.RelOffset: it starts at the page-aligned-down vaddr
// and spans memsz+remainder bytes, so it ends at vaddr+memsz.
func relroChunk(ctx *Context, p *elf.Prog, firstVaddr uint64) Chunk {
	remainder := p.Vaddr % ctx.PageSize
	alignedVaddr := p.Vaddr - remainder
	return Chunk{Offset: alignedVaddr - firstVaddr, Size: p.Memsz + remainder}
}
