// Package entry transfers control to a loaded image's entrypoint.
//
// spec.md §6 requires the entrypoint to be "typed to force a System V
// call" on platforms whose native convention differs from it. Go function
// values don't let a caller construct one over a raw, runtime-computed
// code address, so Call is implemented per architecture in assembly: a
// bare System V AMD64 (or the platform's native, where it already matches)
// call with no arguments, matching the contract that the entrypoint takes
// none and that a normal return is itself the unexpected case the front
// end must treat as an error.
package entry

// Call transfers control to the function at addr with no arguments. addr
// is an absolute address within a mapped image (base + EntryOffset).
// Returning from it is the caller's responsibility to treat as unexpected,
// per spec.md §6.
func Call(addr uintptr)
