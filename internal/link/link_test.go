package link

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/mapper"
)

type stubResolver map[string]uintptr

func (s stubResolver) Resolve(name string, _ elfimage.SymbolKind) (uintptr, error) {
	addr, ok := s[name]
	if !ok {
		return 0, errors.New("undefined symbol")
	}
	return addr, nil
}

// backingImage builds a mapper.Image over a plain Go byte slice so Apply's
// raw pointer writes can be asserted against without a real OS mapping.
func backingImage(buf []byte) *mapper.Image {
	return &mapper.Image{Base: uintptr(unsafe.Pointer(&buf[0])), Size: uint64(len(buf))}
}

func TestApplyPatchesRelocations(t *testing.T) {
	buf := make([]byte, 64)
	img := backingImage(buf)
	desc := &elfimage.Descriptor{
		Symbols: []elfimage.Symbol{
			{Name: "malloc", Kind: elfimage.SymbolFunc, Imported: true},
		},
		Relocations: []elfimage.Relocation{
			{SymbolIndex: 0, PatchOffset: 8},
		},
	}
	resolver := stubResolver{"malloc": 0xdeadbeef}

	if err := Apply(&elfimage.Context{}, img, desc, resolver); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := binary.LittleEndian.Uint64(buf[8:16])
	if got != 0xdeadbeef {
		t.Fatalf("patched word = %#x, want 0xdeadbeef", got)
	}
	if !desc.Relocations[0].Resolved {
		t.Fatal("Resolved = false after a successful Apply")
	}
}

func TestApplyStopsAtFirstMissingSymbol(t *testing.T) {
	buf := make([]byte, 32)
	img := backingImage(buf)
	desc := &elfimage.Descriptor{
		Symbols: []elfimage.Symbol{
			{Name: "missing", Kind: elfimage.SymbolFunc, Imported: true},
		},
		Relocations: []elfimage.Relocation{
			{SymbolIndex: 0, PatchOffset: 0},
		},
	}
	err := Apply(&elfimage.Context{}, img, desc, stubResolver{})
	if err == nil {
		t.Fatal("expected an error for an unresolved symbol")
	}
	if desc.Relocations[0].Resolved {
		t.Fatal("Resolved = true for a relocation that failed to resolve")
	}
}
