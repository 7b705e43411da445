// Package hostlib opens the single host-provided library external symbols
// are resolved against and looks symbols up in it. See spec.md §2 and §6.
package hostlib

import (
	"github.com/xyproto/env/v2"
)

// EnvVar names the environment variable that overrides the default host
// library path, read with github.com/xyproto/env/v2 the way the teacher's
// CLI layer reads its own tuning knobs.
const EnvVar = "TMIXDYNLD_LIBC_PATH"

// PathFromEnv returns the EnvVar override, or "" if unset.
func PathFromEnv() string {
	return env.Str(EnvVar)
}
