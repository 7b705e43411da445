// Package selfpath locates the running executable's directory, used to
// derive a default host library path when neither a flag nor the
// TMIXDYNLD_LIBC_PATH environment variable names one. Grounded on the
// original implementation's own executable-relative path resolution
// (common/paths.c), generalized so the relative subpath is a caller-chosen
// parameter instead of a hardcoded constant.
package selfpath

import (
	"os"
	"path/filepath"
)

// ExecutableDir returns the directory containing the running executable,
// resolving any symlink the OS reports os.Executable() through (e.g. a
// package manager's /usr/bin shim pointing into /usr/lib).
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// DefaultHostLibraryPath joins the executable's directory with relSubpath,
// giving the host library path to fall back to when nothing more specific
// was configured.
func DefaultHostLibraryPath(relSubpath string) (string, error) {
	dir, err := ExecutableDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, relSubpath), nil
}
