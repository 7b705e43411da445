package testelf

import (
	"debug/elf"
	"runtime"
)

const pageSize = 0x1000

// dynEntSize is the size of one Elf64_Dyn record (d_tag int64, d_val uint64).
const dynEntSize = 16

// NativeMachine mirrors elfimage's own native-architecture selection so
// fixtures built by this package are accepted by Inspect on whatever host
// the tests run on, without this package importing elfimage.
func NativeMachine() elf.Machine {
	switch runtime.GOARCH {
	case "amd64":
		return elf.EM_X86_64
	case "arm64":
		return elf.EM_AARCH64
	case "riscv64":
		return elf.EM_RISCV
	default:
		return elf.EM_NONE
	}
}

// NativeAbsReloc returns a relocation type this host's elfimage accepts as
// an absolute-address kind, for use in the synthesized PLT relocation
// table.
func NativeAbsReloc() uint32 {
	switch NativeMachine() {
	case elf.EM_X86_64:
		return uint32(elf.R_X86_64_GLOB_DAT)
	case elf.EM_AARCH64:
		return uint32(elf.R_AARCH64_GLOB_DAT)
	case elf.EM_RISCV:
		return uint32(elf.R_RISCV_64)
	default:
		return 0
	}
}

// NonAbsReloc returns a relocation type NativeAbsReloc's machine defines
// but that is not in the absolute-address allow-list, for tests exercising
// rejection of relative/PC-relative relocations.
func NonAbsReloc() uint32 {
	switch NativeMachine() {
	case elf.EM_X86_64:
		return uint32(elf.R_X86_64_PC32)
	case elf.EM_AARCH64:
		return uint32(elf.R_AARCH64_RELATIVE)
	case elf.EM_RISCV:
		return uint32(elf.R_RISCV_RELATIVE)
	default:
		return 0xffff
	}
}

// Options describes the shared object Build should synthesize.
type Options struct {
	NeededLibraries []string
	// Symbols is the list of imported function symbols; one DT_JMPREL
	// relocation (of type RelocType) is emitted per entry, in order.
	Symbols []string
	// RelocType overrides the relocation type written for each Symbols
	// entry; zero means NativeAbsReloc().
	RelocType uint32
	IncludeRelro bool
	ExecStack    bool
	// OmitDynamic skips the PT_DYNAMIC segment and its contents entirely,
	// for malformed-file cases that need a file with zero dynamic tags.
	OmitDynamic bool
	// BadSymentSize, when non-zero, is written as DT_SYMENT instead of 24.
	BadSymentSize uint64
}

func alignUp(v, align uint64) uint64 {
	if v%align == 0 {
		return v
	}
	return v - v%align + align
}

// Build synthesizes a minimal ELF64 ET_DYN file matching Options: a single
// executable PT_LOAD segment holding the header, program headers, dynamic
// array, string table, symbol table and relocation table; a second
// zero-fill PT_LOAD segment (exercising the pad-chunk path); a PT_DYNAMIC
// entry unless OmitDynamic is set; a PT_GNU_RELRO entry only when
// IncludeRelro is set (and OmitDynamic is not); and always a PT_GNU_STACK
// entry. This mirrors
// the teacher's own byte-at-a-time emission style (emit.go) applied to ELF
// structure instead of machine code.
func Build(opts Options) []byte {
	relocType := opts.RelocType
	if relocType == 0 {
		relocType = NativeAbsReloc()
	}

	numPhdrs := 2 // two PT_LOAD entries
	if !opts.OmitDynamic {
		numPhdrs++
		if opts.IncludeRelro {
			numPhdrs++
		}
	}
	numPhdrs++ // PT_GNU_STACK

	const ehSize = 64
	const phEntSize = 56
	phOff := uint64(ehSize)
	dynStart := phOff + uint64(numPhdrs)*phEntSize

	// ---- string table layout ----
	var strtab Writer
	strtab.Write(0) // index 0: empty string
	neededOffs := make([]uint64, len(opts.NeededLibraries))
	for i, n := range opts.NeededLibraries {
		neededOffs[i] = strtab.Len()
		strtab.String(n)
	}
	symNameOffs := make([]uint64, len(opts.Symbols))
	for i, n := range opts.Symbols {
		symNameOffs[i] = strtab.Len()
		strtab.String(n)
	}

	symentSize := uint64(24)
	if opts.BadSymentSize != 0 {
		symentSize = opts.BadSymentSize
	}

	// The dynamic array's own size must be known before the tag values
	// that point past it (DT_STRTAB, DT_SYMTAB, DT_JMPREL) can be computed,
	// so its entry count is derived analytically rather than by building
	// the buffer first and measuring it.
	var dynSize uint64
	if !opts.OmitDynamic {
		numDynEntries := uint64(len(neededOffs)) + 4 + 1 // NEEDED* + STRTAB/STRSZ/SYMTAB/SYMENT + NULL
		if len(opts.Symbols) > 0 {
			numDynEntries += 3 // JMPREL, PLTRELSZ, PLTREL
		}
		dynSize = numDynEntries * dynEntSize
	}

	strtabOff := dynStart + dynSize
	strtabSize := strtab.Len()
	symtabOff := strtabOff + strtabSize
	numSyms := uint64(1 + len(opts.Symbols)) // index 0 is the reserved null symbol
	symtabSize := numSyms * 24
	relOff := symtabOff + symtabSize
	relSize := uint64(len(opts.Symbols)) * 24 // Elf64_Rela

	var dyn Writer
	if !opts.OmitDynamic {
		for _, off := range neededOffs {
			dyn.Write8u(uint64(elf.DT_NEEDED))
			dyn.Write8u(off)
		}
		dyn.Write8u(uint64(elf.DT_STRTAB))
		dyn.Write8u(strtabOff)
		dyn.Write8u(uint64(elf.DT_STRSZ))
		dyn.Write8u(strtabSize)
		dyn.Write8u(uint64(elf.DT_SYMTAB))
		dyn.Write8u(symtabOff)
		dyn.Write8u(uint64(elf.DT_SYMENT))
		dyn.Write8u(symentSize)
		if len(opts.Symbols) > 0 {
			dyn.Write8u(uint64(elf.DT_JMPREL))
			dyn.Write8u(relOff)
			dyn.Write8u(uint64(elf.DT_PLTRELSZ))
			dyn.Write8u(relSize)
			dyn.Write8u(uint64(elf.DT_PLTREL))
			dyn.Write8u(uint64(elf.DT_RELA))
		}
		dyn.Write8u(uint64(elf.DT_NULL))
		dyn.Write8u(0)
	}

	var symtab Writer
	// index 0: reserved null symbol
	symtab.Write4u(0) // st_name
	symtab.Write(0)   // st_info
	symtab.Write(0)   // st_other
	symtab.Write2u(0) // st_shndx
	symtab.Write8u(0) // st_value
	symtab.Write8u(0) // st_size
	for _, nameOff := range symNameOffs {
		symtab.Write4u(uint32(nameOff))
		symtab.Write(byte(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)))
		symtab.Write(0)
		symtab.Write2u(uint16(elf.SHN_UNDEF))
		symtab.Write8u(0)
		symtab.Write8u(0)
	}

	var relocs Writer
	// Place each relocation's patch word early in the RW segment, which
	// starts one page past the page-rounded end of the file content.
	fileEndBeforeRelocs := relOff + relSize
	rwBase := alignUp(fileEndBeforeRelocs, pageSize) + pageSize
	for i := range opts.Symbols {
		patchAddr := rwBase + uint64(i)*8
		info := (uint64(i+1) << 32) | uint64(relocType)
		relocs.Write8u(patchAddr)
		relocs.Write8u(info)
		relocs.Write8u(0) // r_addend
	}

	fileEnd := relOff + relSize

	rxVaddr := uint64(0)
	entry := rxVaddr + 16 // arbitrary offset within the RX segment

	// ---- assemble the file ----
	var out Writer
	writeHeader(&out, entry, phOff, uint16(numPhdrs))
	for out.Len() < phOff {
		out.Write(0)
	}

	type phdr struct {
		typ           elf.ProgType
		flags         elf.ProgFlag
		off, vaddr    uint64
		filesz, memsz uint64
		align         uint64
	}
	var phdrs []phdr
	phdrs = append(phdrs, phdr{elf.PT_LOAD, elf.PF_R | elf.PF_X, 0, rxVaddr, fileEnd, fileEnd, pageSize})
	phdrs = append(phdrs, phdr{elf.PT_LOAD, elf.PF_R | elf.PF_W, rwBase, rwBase, 0, pageSize, pageSize})
	if !opts.OmitDynamic {
		phdrs = append(phdrs, phdr{elf.PT_DYNAMIC, elf.PF_R | elf.PF_W, dynStart, dynStart, dynSize, dynSize, 8})
		if opts.IncludeRelro {
			phdrs = append(phdrs, phdr{elf.PT_GNU_RELRO, elf.PF_R, rwBase, rwBase, 0, pageSize, 1})
		}
	}
	stackFlags := elf.PF_R | elf.PF_W
	if opts.ExecStack {
		stackFlags |= elf.PF_X
	}
	phdrs = append(phdrs, phdr{elf.PT_GNU_STACK, stackFlags, 0, 0, 0, 0, 0})

	for _, p := range phdrs {
		out.Write4u(uint32(p.typ))
		out.Write4u(uint32(p.flags))
		out.Write8u(p.off)
		out.Write8u(p.vaddr)
		out.Write8u(p.vaddr) // p_paddr, unused
		out.Write8u(p.filesz)
		out.Write8u(p.memsz)
		out.Write8u(p.align)
	}

	for out.Len() < dynStart {
		out.Write(0)
	}
	out.WriteBytes(dyn.Bytes())
	for out.Len() < strtabOff {
		out.Write(0)
	}
	out.WriteBytes(strtab.Bytes())
	for out.Len() < symtabOff {
		out.Write(0)
	}
	out.WriteBytes(symtab.Bytes())
	for out.Len() < relOff {
		out.Write(0)
	}
	out.WriteBytes(relocs.Bytes())

	return out.Bytes()
}

func writeHeader(w *Writer, entry, phoff uint64, phnum uint16) {
	w.WriteBytes([]byte{0x7f, 'E', 'L', 'F'})
	w.Write(2) // EI_CLASS = ELFCLASS64
	w.Write(1) // EI_DATA = ELFDATA2LSB
	w.Write(1) // EI_VERSION = EV_CURRENT
	w.Write(0) // EI_OSABI = ELFOSABI_NONE
	w.Write(0) // EI_ABIVERSION
	w.WriteN(0, 7)
	w.Write2u(uint16(elf.ET_DYN))
	w.Write2u(uint16(NativeMachine()))
	w.Write4u(1) // e_version
	w.Write8u(entry)
	w.Write8u(phoff)
	w.Write8u(0) // e_shoff
	w.Write4u(0) // e_flags
	w.Write2u(64) // e_ehsize
	w.Write2u(56) // e_phentsize
	w.Write2u(phnum)
	w.Write2u(0) // e_shentsize
	w.Write2u(0) // e_shnum
	w.Write2u(0) // e_shstrndx
}
