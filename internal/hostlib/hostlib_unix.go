//go:build unix

package hostlib

import (
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
	"github.com/xyproto/tmixdynld/internal/mapper"
)

// Handle is an opened host library. The Unix dialect loads it through the
// same Inspect+mapper.Load pipeline used for the main image, and reads its
// full exported-symbol table (not just the referenced-symbol subset
// Inspect keeps for ordinary images) directly out of its PT_DYNAMIC
// segment via the GNU hash table, so resolution never needs dlopen/dlsym
// or cgo. The zero value is not usable; obtain one from Open.
type Handle struct {
	path    string
	file    *os.File
	img     *mapper.Image
	exports map[string]uint64
}

// ResolvedPath returns the path Open actually used, after the environment
// override and selfpath default have been applied.
func (h *Handle) ResolvedPath() string { return h.path }

// Open loads the host library at path (or, if path is "", the
// TMIXDYNLD_LIBC_PATH environment override, or else defaultPath) and
// builds its exported-symbol table.
func Open(ctx *elfimage.Context, path, defaultPath string) (*Handle, error) {
	if path == "" {
		path = PathFromEnv()
	}
	if path == "" {
		path = defaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.PhaseLink, errs.KindResolverUnavailable, path, err)
	}

	desc, err := elfimage.Inspect(ctx, f)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.PhaseLink, errs.KindResolverUnavailable, path, err)
	}

	img, err := mapper.New().Load(ctx, desc, f)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.PhaseLink, errs.KindResolverUnavailable, path, err)
	}

	exports, err := readExports(f)
	if err != nil {
		mapper.New().Unload(img)
		f.Close()
		return nil, errs.Wrap(errs.PhaseLink, errs.KindResolverUnavailable, path, err)
	}

	return &Handle{path: path, file: f, img: img, exports: exports}, nil
}

// Resolve looks name up in the host library's exported-symbol table and
// returns its runtime address within the mapped host library image.
func (h *Handle) Resolve(name string, _ elfimage.SymbolKind) (uintptr, error) {
	off, ok := h.exports[name]
	if !ok {
		return 0, errs.New(errs.PhaseLink, errs.KindMissingSymbol, name)
	}
	return h.img.Pointer(off), nil
}

// Close releases the host library's mapping and file handle.
func (h *Handle) Close() error {
	err := mapper.New().Unload(h.img)
	h.file.Close()
	return err
}

// readExports walks the host library's PT_DYNAMIC segment and its
// DT_GNU_HASH table to recover every exported symbol name and its
// segment-relative value, without relying on section headers.
func readExports(f *os.File) (map[string]uint64, error) {
	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	var dyn *elf.Prog
	for _, p := range ef.Progs {
		if p.Type == elf.PT_DYNAMIC {
			dyn = p
			break
		}
	}
	if dyn == nil {
		return nil, errs.New(errs.PhaseLink, errs.KindMalformedFile, "host library has no PT_DYNAMIC segment")
	}

	raw := make([]byte, dyn.Filesz)
	if _, err := f.ReadAt(raw, int64(dyn.Off)); err != nil {
		return nil, err
	}

	var symtabVaddr, strtabVaddr, gnuHashVaddr uint64
dynLoop:
	for off := 0; off+16 <= len(raw); off += 16 {
		tag := elf.DynTag(int64(binary.LittleEndian.Uint64(raw[off:])))
		val := binary.LittleEndian.Uint64(raw[off+8:])
		switch tag {
		case elf.DT_NULL:
			break dynLoop
		case elf.DT_SYMTAB:
			symtabVaddr = val
		case elf.DT_STRTAB:
			strtabVaddr = val
		case gnuHashTag:
			gnuHashVaddr = val
		}
	}
	if symtabVaddr == 0 || strtabVaddr == 0 || gnuHashVaddr == 0 {
		return nil, errs.New(errs.PhaseLink, errs.KindMalformedFile, "host library lacks DT_SYMTAB/DT_STRTAB/DT_GNU_HASH")
	}

	symtabOff, err := vaddrToOff(ef, symtabVaddr)
	if err != nil {
		return nil, err
	}
	strtabOff, err := vaddrToOff(ef, strtabVaddr)
	if err != nil {
		return nil, err
	}
	gnuHashOff, err := vaddrToOff(ef, gnuHashVaddr)
	if err != nil {
		return nil, err
	}

	numSyms, err := gnuHashSymCount(f, gnuHashOff)
	if err != nil {
		return nil, err
	}

	result := make(map[string]uint64, numSyms)
	for i := uint32(0); i < numSyms; i++ {
		var ent [24]byte
		if _, err := f.ReadAt(ent[:], int64(symtabOff)+int64(i)*24); err != nil {
			return nil, err
		}
		nameOff := binary.LittleEndian.Uint32(ent[0:4])
		value := binary.LittleEndian.Uint64(ent[8:16])
		shndx := binary.LittleEndian.Uint16(ent[6:8])
		if shndx == uint16(elf.SHN_UNDEF) {
			continue
		}
		name, err := readCString(f, strtabOff+uint64(nameOff))
		if err != nil {
			continue
		}
		if name != "" {
			result[name] = value
		}
	}
	return result, nil
}

// gnuHashSymCount derives the total dynamic symbol count from a
// DT_GNU_HASH table: the highest chain index referenced by any bucket,
// plus one, following the well-known convention every GNU-hash-aware
// loader uses since the table carries no explicit symbol count.
func gnuHashSymCount(f *os.File, gnuHashOff uint64) (uint32, error) {
	var hdr [16]byte
	if _, err := f.ReadAt(hdr[:], int64(gnuHashOff)); err != nil {
		return 0, err
	}
	nbuckets := binary.LittleEndian.Uint32(hdr[0:4])
	symoffset := binary.LittleEndian.Uint32(hdr[4:8])
	bloomSize := binary.LittleEndian.Uint32(hdr[8:12])

	bucketsOff := gnuHashOff + 16 + uint64(bloomSize)*8
	buckets := make([]byte, uint64(nbuckets)*4)
	if _, err := f.ReadAt(buckets, int64(bucketsOff)); err != nil {
		return 0, err
	}

	maxIdx := symoffset
	chainsOff := bucketsOff + uint64(nbuckets)*4
	for b := uint32(0); b < nbuckets; b++ {
		idx := binary.LittleEndian.Uint32(buckets[b*4:])
		if idx == 0 {
			continue
		}
		for {
			var hashWord [4]byte
			if _, err := f.ReadAt(hashWord[:], int64(chainsOff)+int64(idx-symoffset)*4); err != nil {
				return 0, err
			}
			h := binary.LittleEndian.Uint32(hashWord[:])
			if idx+1 > maxIdx {
				maxIdx = idx + 1
			}
			if h&1 != 0 {
				break
			}
			idx++
		}
	}
	return maxIdx, nil
}

func vaddrToOff(ef *elf.File, vaddr uint64) (uint64, error) {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return p.Off + (vaddr - p.Vaddr), nil
		}
	}
	return 0, errs.New(errs.PhaseLink, errs.KindMalformedFile, "host library dynamic tag outside any segment")
}

func readCString(f *os.File, off uint64) (string, error) {
	buf := make([]byte, 0, 32)
	var b [1]byte
	for i := 0; i < 256; i++ {
		if _, err := f.ReadAt(b[:], int64(off)+int64(i)); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}

// gnuHashTag is DT_GNU_HASH, which debug/elf does not name.
const gnuHashTag = elf.DynTag(0x6ffffef5)
