package elfimage

import (
	"fmt"
	"os"
)

// Context groups the values spec.md §9 says should be gathered by an
// explicit initialisation routine instead of pre-main constructors: the
// system page size and a verbosity flag. The mapper and hostlib packages
// take the same shape of context for the same reason.
type Context struct {
	PageSize uint64
	Verbose  bool
}

// Logf writes a trace line to stderr when the context is verbose, mirroring
// the teacher's `if VerboseMode { fmt.Fprintf(os.Stderr, ...) }` convention
// used throughout elf.go and elf_complete.go. Exported so the mapper, link
// and hostlib packages can share the same Context for their own tracing.
func (c *Context) Logf(format string, args ...any) {
	if c == nil || !c.Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}
