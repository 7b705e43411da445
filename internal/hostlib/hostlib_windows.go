//go:build windows

package hostlib

import (
	"golang.org/x/sys/windows"

	"github.com/xyproto/tmixdynld/internal/elfimage"
	"github.com/xyproto/tmixdynld/internal/errs"
)

// Handle is an opened host library. The Windows dialect delegates entirely
// to the native loader (LoadLibrary/GetProcAddress/FreeLibrary) rather than
// parsing ELF, since the host library on this platform is an ordinary DLL
// — grounded on the wintun memmod loader's own use of
// golang.org/x/sys/windows for library resolution. The zero value is not
// usable; obtain one from Open.
type Handle struct {
	path string
	mod  windows.Handle
}

// ResolvedPath returns the path Open actually used, after the environment
// override and selfpath default have been applied.
func (h *Handle) ResolvedPath() string { return h.path }

// Open loads the host library at path (or, if path is "", the
// TMIXDYNLD_LIBC_PATH environment override, or else defaultPath).
func Open(ctx *elfimage.Context, path, defaultPath string) (*Handle, error) {
	if path == "" {
		path = PathFromEnv()
	}
	if path == "" {
		path = defaultPath
	}

	mod, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, errs.Wrap(errs.PhaseLink, errs.KindResolverUnavailable, path, err)
	}
	ctx.Logf("hostlib: loaded %s\n", path)
	return &Handle{path: path, mod: mod}, nil
}

// Resolve looks name up via GetProcAddress.
func (h *Handle) Resolve(name string, _ elfimage.SymbolKind) (uintptr, error) {
	addr, err := windows.GetProcAddress(h.mod, name)
	if err != nil {
		return 0, errs.Wrap(errs.PhaseLink, errs.KindMissingSymbol, name, err)
	}
	return addr, nil
}

// Close releases the library handle.
func (h *Handle) Close() error {
	return windows.FreeLibrary(h.mod)
}
