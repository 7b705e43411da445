// Package elfimage inspects an opened ELF shared object and produces a
// platform-neutral Descriptor capturing everything the mapper and linker
// need, without retaining the file. See spec.md §3-4.1-4.2.
package elfimage

// VirtAddr is an address relative to the first loadable segment's aligned
// base (never a raw file-independent virtual address once it has left the
// parser). FileOff is a byte offset within the source file. Keeping these
// as distinct types instead of bare uint64 follows the teacher's
// address_types.go discipline of not letting file-relative and
// image-relative quantities get mixed by accident. The Descriptor's own
// fields (Chunk, Segment, Relocation) still use plain uint64.
type VirtAddr uint64

// FileOff is a byte offset within the source ELF file.
type FileOff uint64

// Chunk describes a byte range, either within the file (see Segment.File)
// or within the mapped image (see Segment.Pad, RelroRanges). size == 0
// means the chunk is empty.
type Chunk struct {
	Offset uint64
	Size   uint64
}

// Empty reports whether the chunk covers zero bytes.
func (c Chunk) Empty() bool { return c.Size == 0 }

// Protection is a set of {READ, WRITE, EXEC} access rights for a mapped
// range. EXEC implies READ; the parser rejects segments that violate this
// before a Protection value is ever constructed with EXEC set and READ
// clear.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

func (p Protection) Read() bool  { return p&ProtRead != 0 }
func (p Protection) Write() bool { return p&ProtWrite != 0 }
func (p Protection) Exec() bool  { return p&ProtExec != 0 }

func (p Protection) String() string {
	r, w, x := '-', '-', '-'
	if p.Read() {
		r = 'r'
	}
	if p.Write() {
		w = 'w'
	}
	if p.Exec() {
		x = 'x'
	}
	return string([]rune{rune(r), rune(w), rune(x)})
}

// Segment describes one loadable program-header entry, already reduced to
// the file/pad chunk split the mapper needs. See spec.md §3.
type Segment struct {
	// RelOffset is measured from the base of the first loadable segment;
	// always 0 for that first segment.
	RelOffset uint64
	// File is the file-backed portion: offset aligned down to the
	// segment's alignment, size including the low-address remainder
	// introduced by the alignment-down.
	File Chunk
	// Pad is the anonymous zero-initialised tail following File when
	// memsz exceeds filesz by more than the rounded page slack.
	Pad  Chunk
	Prot Protection
}

// MemSize is the total span of the segment in the mapped image (file
// portion plus pad portion), used by the mapper to know how much of the
// image this segment occupies starting at RelOffset.
func (s Segment) MemSize() uint64 {
	// File.Offset is a file offset, not an image offset: the file portion
	// always starts at RelOffset, so only its size counts here.
	end := s.Pad.Offset + s.Pad.Size
	if s.File.Size > end {
		end = s.File.Size
	}
	return end
}

// SymbolKind distinguishes data objects from functions, mirroring the ELF
// symbol type field.
type SymbolKind uint8

const (
	SymbolData SymbolKind = iota
	SymbolFunc
)

func (k SymbolKind) String() string {
	if k == SymbolFunc {
		return "FUNC"
	}
	return "DATA"
}

// Symbol is either an externally imported name (Imported == true, in which
// case ValueOffset is unused) or a locally defined one (ValueOffset gives
// its offset relative to the first loadable segment). Only symbols
// actually referenced by a relocation are materialised — see spec.md §4.2.
type Symbol struct {
	Name        string
	Kind        SymbolKind
	Imported    bool
	ValueOffset uint64
}

// Relocation names the word that must be overwritten with the resolved
// target address of Symbols[SymbolIndex]. PatchOffset is relative to the
// first loadable segment. Resolved is set by link.Apply once this entry's
// word has actually been patched, so Dump can report each relocation's
// resolved-or-pending status regardless of when -d is used relative to
// linking.
type Relocation struct {
	SymbolIndex int
	PatchOffset uint64
	Resolved    bool
}

// Descriptor is the complete result of inspecting one ELF file. It owns no
// reference back to the file; every field is self-contained.
type Descriptor struct {
	// EntryOffset is 0 when there is no entrypoint, otherwise the raw ELF
	// entry virtual address minus the first segment's aligned base
	// address.
	EntryOffset    uint64
	Segments       []Segment
	TotalMemorySize uint64
	Symbols        []Symbol
	Relocations    []Relocation
	RelroRanges    []Chunk
	NeededLibraries []string
	ExecStack      bool
}

// Free releases resources owned by the descriptor by resetting d to its
// zero value; the garbage collector then reclaims every slice and string
// that was reachable from it. It exists so callers and tests keep the same
// inspect/consume/free lifecycle spec.md §3 describes, and so a future
// pooled-allocator implementation has a single place to hook into.
func (d *Descriptor) Free() {
	*d = Descriptor{}
}
