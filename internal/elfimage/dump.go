package elfimage

import (
	"fmt"
	"io"
)

// Dump writes a human-readable report of the descriptor to w, in the
// teacher's plain fmt.Fprintf reporting idiom (errors.go's
// ErrorCollector.Report). This is the format the front end's -d flag
// prints before loading — see SPEC_FULL.md §6.
func (d *Descriptor) Dump(w io.Writer) {
	fmt.Fprintf(w, "entry offset: %#x\n", d.EntryOffset)
	fmt.Fprintf(w, "total memory size: %#x\n", d.TotalMemorySize)
	fmt.Fprintf(w, "exec stack: %v\n", d.ExecStack)

	fmt.Fprintf(w, "segments (%d):\n", len(d.Segments))
	for i, s := range d.Segments {
		fmt.Fprintf(w, "  [%d] rel=%#x file={off=%#x size=%#x} pad={off=%#x size=%#x} prot=%s\n",
			i, s.RelOffset, s.File.Offset, s.File.Size, s.Pad.Offset, s.Pad.Size, s.Prot)
	}

	fmt.Fprintf(w, "relro ranges (%d):\n", len(d.RelroRanges))
	for i, r := range d.RelroRanges {
		fmt.Fprintf(w, "  [%d] off=%#x size=%#x\n", i, r.Offset, r.Size)
	}

	fmt.Fprintf(w, "needed libraries (%d):\n", len(d.NeededLibraries))
	for _, n := range d.NeededLibraries {
		fmt.Fprintf(w, "  %s\n", n)
	}

	fmt.Fprintf(w, "symbols (%d):\n", len(d.Symbols))
	for i, s := range d.Symbols {
		fmt.Fprintf(w, "  [%d] %s kind=%s imported=%v\n", i, s.Name, s.Kind, s.Imported)
	}

	fmt.Fprintf(w, "relocations (%d):\n", len(d.Relocations))
	for i, r := range d.Relocations {
		name := "?"
		if r.SymbolIndex >= 0 && r.SymbolIndex < len(d.Symbols) {
			name = d.Symbols[r.SymbolIndex].Name
		}
		status := "pending"
		if r.Resolved {
			status = "resolved"
		}
		fmt.Fprintf(w, "  [%d] patch=%#x symbol=%s status=%s\n", i, r.PatchOffset, name, status)
	}
}
