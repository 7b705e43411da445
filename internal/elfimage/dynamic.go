package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/xyproto/tmixdynld/internal/errs"
)

const (
	dynEntSize = 16 // Elf64_Dyn: int64 d_tag, uint64 d_val/d_ptr

	symEntSize = 24 // Elf64_Sym
	relaEntSize = 24 // Elf64_Rela
	relEntSize  = 16 // Elf64_Rel

	// df1PIE is DF_1_PIE, a bit in the DT_FLAGS_1 value. debug/elf defines
	// the legacy DT_FLAGS bits (DF_*) but not the DT_FLAGS_1 bits, so this
	// one is named locally.
	df1PIE = 0x08000000

	// gnuHashTag is DT_GNU_HASH, which debug/elf does not name.
	gnuHashTag = elf.DynTag(0x6ffffef5)
)

// dynState accumulates the first-pass results of walking the dynamic
// array: pointers/sizes for the tables the second pass dereferences, plus
// the raw DT_NEEDED values in the order they were seen.
type dynState struct {
	strtabVaddr, strtabSize uint64
	symtabVaddr             uint64
	symentSize              uint64
	jmprelVaddr, pltrelsz   uint64
	pltrelIsRela            bool
	neededVals              []uint64
}

// parseDynamic reads the PT_DYNAMIC segment's own byte range (not a
// .dynamic section — this loader never relies on section headers being
// present), extracts needed-library names, and walks the relocation table
// referenced by DT_JMPREL, appending symbols and relocations to desc.
func parseDynamic(ctx *Context, r io.ReaderAt, f *elf.File, dyn *elf.Prog, firstVaddr uint64, desc *Descriptor) error {
	raw := make([]byte, dyn.Filesz)
	if _, err := r.ReadAt(raw, int64(dyn.Off)); err != nil {
		return errs.Wrap(errs.PhaseInspect, errs.KindIO, "reading PT_DYNAMIC", err)
	}

	st, err := walkDynamicTags(ctx, raw)
	if err != nil {
		return err
	}

	if st.strtabSize > 0 {
		strtabOff, err := vaddrToFileOffset(f, st.strtabVaddr)
		if err != nil {
			return err
		}
		strtab := make([]byte, st.strtabSize)
		if _, err := r.ReadAt(strtab, int64(strtabOff)); err != nil {
			return errs.Wrap(errs.PhaseInspect, errs.KindIO, "reading string table", err)
		}

		for _, v := range st.neededVals {
			name, err := cStringAt(strtab, v)
			if err != nil {
				return err
			}
			desc.NeededLibraries = append(desc.NeededLibraries, name)
		}

		if st.jmprelVaddr != 0 && st.pltrelsz > 0 {
			if err := parseRelocations(ctx, r, f, st, strtab, firstVaddr, desc); err != nil {
				return err
			}
		}
	} else if len(st.neededVals) > 0 {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "DT_NEEDED present without DT_STRTAB")
	}

	return nil
}

func walkDynamicTags(ctx *Context, raw []byte) (*dynState, error) {
	st := &dynState{}
	for off := 0; off+dynEntSize <= len(raw); off += dynEntSize {
		tag := elf.DynTag(int64(binary.LittleEndian.Uint64(raw[off:])))
		val := binary.LittleEndian.Uint64(raw[off+8:])

		switch tag {
		case elf.DT_NULL:
			return st, nil
		case elf.DT_NEEDED:
			st.neededVals = append(st.neededVals, val)
		case elf.DT_STRTAB:
			st.strtabVaddr = val
		case elf.DT_STRSZ:
			st.strtabSize = val
		case elf.DT_SYMTAB:
			st.symtabVaddr = val
		case elf.DT_SYMENT:
			st.symentSize = val
			if val != symEntSize {
				return nil, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "DT_SYMENT does not match the native symbol record size")
			}
		case elf.DT_JMPREL:
			st.jmprelVaddr = val
		case elf.DT_PLTRELSZ:
			st.pltrelsz = val
		case elf.DT_PLTREL:
			switch elf.DynTag(val) {
			case elf.DT_RELA:
				st.pltrelIsRela = true
			case elf.DT_REL:
				st.pltrelIsRela = false
			default:
				return nil, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "DT_PLTREL names neither DT_REL nor DT_RELA")
			}
		case elf.DT_FLAGS_1:
			if val&df1PIE == 0 {
				ctx.Logf("elfimage: DT_FLAGS_1 value %#x does not carry DF_1_PIE\n", val)
			}
		case elf.DT_RUNPATH, elf.DT_PLTGOT, gnuHashTag, elf.DT_DEBUG:
			// ignored per spec.md §4.2
		default:
			ctx.Logf("elfimage: unhandled dynamic tag %s\n", tag)
		}
	}
	return nil, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "dynamic array is not DT_NULL terminated")
}

// cStringAt reads a NUL-terminated string starting at byte offset off
// within buf.
func cStringAt(buf []byte, off uint64) (string, error) {
	if off >= uint64(len(buf)) {
		return "", errs.New(errs.PhaseInspect, errs.KindMalformedFile, "string table offset out of range")
	}
	end := off
	for end < uint64(len(buf)) && buf[end] != 0 {
		end++
	}
	if end >= uint64(len(buf)) {
		return "", errs.New(errs.PhaseInspect, errs.KindMalformedFile, "unterminated string in string table")
	}
	return string(buf[off:end]), nil
}

// vaddrToFileOffset translates a virtual address into a file offset by
// finding the PT_LOAD segment whose file-backed range contains it. Dynamic
// tags give virtual addresses; reading their targets back out of the file
// requires this translation since the dynamic parser never assumes the
// file is still mapped.
func vaddrToFileOffset(f *elf.File, vaddr uint64) (uint64, error) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return p.Off + (vaddr - p.Vaddr), nil
		}
	}
	return 0, errs.New(errs.PhaseInspect, errs.KindMalformedFile, "dynamic tag references an address outside any file-backed segment")
}

// parseRelocations walks the DT_JMPREL table, emitting one Symbol (deduped
// by ELF symbol index) and one Relocation per entry.
func parseRelocations(ctx *Context, r io.ReaderAt, f *elf.File, st *dynState, strtab []byte, firstVaddr uint64, desc *Descriptor) error {
	relOff, err := vaddrToFileOffset(f, st.jmprelVaddr)
	if err != nil {
		return err
	}
	relBuf := make([]byte, st.pltrelsz)
	if _, err := r.ReadAt(relBuf, int64(relOff)); err != nil {
		return errs.Wrap(errs.PhaseInspect, errs.KindIO, "reading relocation table", err)
	}

	entSize := relEntSize
	if st.pltrelIsRela {
		entSize = relaEntSize
	}
	if len(relBuf)%entSize != 0 {
		return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "relocation table size is not a multiple of the entry size")
	}

	var symtabOff uint64
	if st.symtabVaddr != 0 {
		symtabOff, err = vaddrToFileOffset(f, st.symtabVaddr)
		if err != nil {
			return err
		}
	}

	seen := make(map[uint32]int)
	allowed := absoluteRelocTypes()

	for off := 0; off < len(relBuf); off += entSize {
		vaddr := binary.LittleEndian.Uint64(relBuf[off:])
		info := binary.LittleEndian.Uint64(relBuf[off+8:])
		symIdx := uint32(info >> 32)
		relType := uint32(info)

		if !allowed[relType] {
			return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "relocation is not an absolute-address kind")
		}
		if symIdx == 0 {
			return errs.New(errs.PhaseInspect, errs.KindMalformedFile, "absolute relocation has no referenced symbol")
		}

		symArrIdx, ok := seen[symIdx]
		if !ok {
			sym, err := readSymbol(r, symtabOff, symIdx, strtab)
			if err != nil {
				return err
			}
			symArrIdx = len(desc.Symbols)
			desc.Symbols = append(desc.Symbols, sym)
			seen[symIdx] = symArrIdx
		}

		desc.Relocations = append(desc.Relocations, Relocation{
			SymbolIndex: symArrIdx,
			PatchOffset: vaddr - firstVaddr,
		})
	}
	return nil
}

func readSymbol(r io.ReaderAt, symtabOff uint64, symIdx uint32, strtab []byte) (Symbol, error) {
	var ent [symEntSize]byte
	if _, err := r.ReadAt(ent[:], int64(symtabOff)+int64(symIdx)*symEntSize); err != nil {
		return Symbol{}, errs.Wrap(errs.PhaseInspect, errs.KindIO, "reading symbol table entry", err)
	}
	nameOff := binary.LittleEndian.Uint32(ent[0:4])
	info := ent[4]

	name, err := cStringAt(strtab, uint64(nameOff))
	if err != nil {
		return Symbol{}, err
	}

	kind := SymbolData
	if elf.ST_TYPE(info) == elf.STT_FUNC {
		kind = SymbolFunc
	}

	return Symbol{Name: name, Kind: kind, Imported: true}, nil
}
