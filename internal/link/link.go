// Package link resolves external symbols against the host library and
// patches relocation sites in an already-mapped image. See spec.md §6.
package link

import (
	"unsafe"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
	"github.com/xyproto/tmixdynld/internal/mapper"
)

// Resolver looks up one external symbol by name. hostlib.Handle implements
// this; tests supply a map-backed stub.
type Resolver interface {
	Resolve(name string, kind elfimage.SymbolKind) (uintptr, error)
}

// Apply resolves every symbol desc.Relocations reference and writes the
// resolved address into the corresponding patch site in img. On the first
// unresolved symbol it stops and returns a KindMissingSymbol error; the
// image is left partially linked, matching spec.md §6's "best-effort up to
// the first failure" behavior rather than rolling back prior patches.
func Apply(ctx *elfimage.Context, img *mapper.Image, desc *elfimage.Descriptor, resolver Resolver) error {
	for i := range desc.Relocations {
		reloc := &desc.Relocations[i]
		sym := desc.Symbols[reloc.SymbolIndex]
		if !sym.Imported {
			continue
		}
		addr, err := resolver.Resolve(sym.Name, sym.Kind)
		if err != nil {
			return errs.Wrap(errs.PhaseLink, errs.KindMissingSymbol, sym.Name, err)
		}
		ctx.Logf("link: %s -> %#x (patch at +%#x)\n", sym.Name, addr, reloc.PatchOffset)
		writeWord(img.Pointer(reloc.PatchOffset), uint64(addr))
		reloc.Resolved = true
	}
	return nil
}

// writeWord stores v at addr as a native 64-bit little-endian word. Every
// architecture this loader supports (spec.md §9) is 64-bit, so a single
// direct word store covers all of them; there is no 32-bit dialect to
// special-case.
func writeWord(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}
