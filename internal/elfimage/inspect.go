package elfimage

import (
	"debug/elf"
	"io"
	"sort"

	"github.com/xyproto/tmixdynld/internal/errs"
)

// Inspect reads the ELF file reachable through r (which must support
// io.ReaderAt; r's seek position is left undefined afterward) and returns a
// freshly populated Descriptor. On any failure the returned error is an
// *errs.Error with Phase == errs.PhaseInspect and no descriptor is
// returned — see spec.md §4.1.
func Inspect(ctx *Context, r io.ReaderAt) (*Descriptor, error) {
	if err := checkRecordSizes(r); err != nil {
		return nil, err
	}

	f, err := elf.NewFile(r)
	if err != nil {
		return nil, mapOpenErr(err)
	}
	defer f.Close()

	if err := validateHeader(f); err != nil {
		return nil, err
	}

	loads, relroCount := countSegments(f)
	if len(loads) == 0 {
		return nil, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "no loadable segments")
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].alignedVaddr < loads[j].alignedVaddr })
	firstVaddr := loads[0].alignedVaddr

	desc := &Descriptor{
		Segments:    make([]Segment, 0, len(loads)),
		RelroRanges: make([]Chunk, 0, relroCount),
	}

	var totalMem uint64
	for _, le := range loads {
		seg, err := buildSegment(ctx, le, firstVaddr)
		if err != nil {
			return nil, err
		}
		desc.Segments = append(desc.Segments, seg)
		if end := seg.RelOffset + seg.MemSize(); end > totalMem {
			totalMem = end
		}
	}
	desc.TotalMemorySize = totalMem

	stackSeen := false
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			// sized and placed above
		case elf.PT_DYNAMIC:
			if err := parseDynamic(ctx, r, f, p, firstVaddr, desc); err != nil {
				return nil, err
			}
		case elf.PT_GNU_RELRO:
			desc.RelroRanges = append(desc.RelroRanges, relroChunk(ctx, p, firstVaddr))
		case elf.PT_GNU_STACK:
			if stackSeen {
				return nil, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "duplicate PT_GNU_STACK")
			}
			stackSeen = true
			desc.ExecStack = p.Flags&elf.PF_X != 0
		case elf.PT_PHDR, elf.PT_INTERP, elf.PT_NOTE:
			// ignored per spec.md §4.1
		default:
			ctx.Logf("elfimage: unhandled program header type %s\n", p.Type)
		}
	}

	if f.Entry != 0 {
		desc.EntryOffset = f.Entry - firstVaddr
	}

	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// validateDescriptor checks the invariants spec.md §3/§8 place on the
// finished descriptor that can't be enforced incrementally while it is
// being built.
func validateDescriptor(desc *Descriptor) error {
	for _, reloc := range desc.Relocations {
		if reloc.SymbolIndex < 0 || reloc.SymbolIndex >= len(desc.Symbols) {
			return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "relocation symbol index out of range")
		}
		if !desc.Symbols[reloc.SymbolIndex].Imported {
			return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "relocation references a non-imported symbol")
		}
	}
	for _, rr := range desc.RelroRanges {
		if !relroContained(desc.Segments, rr) {
			return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "RELRO range is not contained within a loadable segment")
		}
	}
	return nil
}

func relroContained(segments []Segment, rr Chunk) bool {
	for _, s := range segments {
		if s.RelOffset <= rr.Offset && rr.Offset+rr.Size <= s.RelOffset+s.MemSize() {
			return true
		}
	}
	return false
}

// mapOpenErr classifies a debug/elf parse error as malformed-file or
// io-error. debug/elf.FormatError marks a structural problem; anything
// else is treated as a lower-layer I/O failure (short read, seek failure).
func mapOpenErr(err error) error {
	if _, ok := err.(*elf.FormatError); ok {
		return errs.Wrap(errs.PhaseInspect, errs.KindMalformedFile, "parsing ELF headers", err)
	}
	return errs.Wrap(errs.PhaseInspect, errs.KindIO, "reading ELF file", err)
}

// validateHeader enforces the fatal-on-mismatch checks from spec.md §4.1
// that debug/elf's own parsing does not already perform for us (type,
// OS/ABI, ABI version, and cross-checking against the native machine).
func validateHeader(f *elf.File) error {
	if f.Class != nativeClass() {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "ELF class does not match native word size")
	}
	if f.Data != nativeData() {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "ELF data encoding does not match native endianness")
	}
	if f.Version != elf.EV_CURRENT {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "unsupported ELF version")
	}
	if f.OSABI != elf.ELFOSABI_NONE && f.OSABI != elf.ELFOSABI_LINUX {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "unsupported OS/ABI")
	}
	if f.ABIVersion != 0 {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "unsupported ABI version")
	}
	if f.Type != elf.ET_DYN {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "ELF type is not DYN (shared object / PIE)")
	}
	if f.Machine != nativeMachine() {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "ELF machine does not match native architecture")
	}
	return nil
}
