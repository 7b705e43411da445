// Command tmixdynld maps a position-independent ELF shared object into
// this process, resolves its external symbols against a host library, and
// transfers control to its entrypoint. See spec.md §6 for the exact
// command-line surface this front end implements.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/entry"
	"github.com/xyproto/tmixdynld/internal/hostlib"
	"github.com/xyproto/tmixdynld/internal/link"
	"github.com/xyproto/tmixdynld/internal/mapper"
	"github.com/xyproto/tmixdynld/internal/selfpath"
)

// defaultHostLibrarySubpath is the relative path joined to the executable's
// own directory when neither -lib nor TMIXDYNLD_LIBC_PATH name a host
// library explicitly, using the platform-appropriate library file name.
func defaultHostLibrarySubpath() string {
	if runtime.GOOS == "windows" {
		return "lib/msvcrt.dll"
	}
	return "lib/libc.so.6"
}

func main() {
	var (
		dumpFlag    = flag.Bool("d", false, "print a human-readable dump of the ELF descriptor before loading")
		verboseFlag = flag.Bool("v", false, "verbose mode (trace each loader phase to stderr)")
		libFlag     = flag.String("lib", "", "path to the host library to resolve symbols against (overrides "+hostlib.EnvVar+")")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-d] [-v] [-lib path] <elf-file>\n", os.Args[0])
		os.Exit(2)
	}
	path := flag.Arg(0)

	ctx := &elfimage.Context{
		PageSize: uint64(os.Getpagesize()),
		Verbose:  *verboseFlag,
	}

	if err := run(ctx, path, *libFlag, *dumpFlag); err != nil {
		fmt.Fprintf(os.Stderr, "tmixdynld: %v\n", err)
		os.Exit(1)
	}
}

// run drives the control flow spec.md §2 lays out: open, inspect, map,
// resolve the host library, relocate, freeze RELRO, then invoke the
// entrypoint. Failure at any stage unwinds everything opened so far.
func run(ctx *elfimage.Context, path, libPath string, dump bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	desc, err := elfimage.Inspect(ctx, f)
	if err != nil {
		return err
	}

	if dump {
		desc.Dump(os.Stdout)
	}

	defaultLibPath, err := selfpath.DefaultHostLibraryPath(defaultHostLibrarySubpath())
	if err != nil {
		return err
	}

	host, err := hostlib.Open(ctx, libPath, defaultLibPath)
	if err != nil {
		return err
	}
	defer host.Close()

	m := mapper.New()
	img, err := m.Load(ctx, desc, f)
	if err != nil {
		return err
	}

	if err := link.Apply(ctx, img, desc, host); err != nil {
		// Apply leaves the image partially linked; tear it down here.
		_ = m.Unload(img)
		return err
	}

	if err := link.FreezeRelro(ctx, m, img, desc); err != nil {
		_ = m.Unload(img)
		return err
	}

	ctx.Logf("tmixdynld: transferring control to entry at +%#x\n", desc.EntryOffset)
	entry.Call(img.Pointer(desc.EntryOffset))

	return fmt.Errorf("entrypoint returned unexpectedly")
}
