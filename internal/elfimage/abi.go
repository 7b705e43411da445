package elfimage

import (
	"debug/elf"
	"runtime"
)

// nativeMachine, nativeClass and nativeData select the record layout and
// endianness the header validator requires, the way the teacher's
// GetDefaultTarget (target.go) switches on runtime.GOARCH to pick an
// architecture once per process rather than branching per call.
func nativeMachine() elf.Machine {
	switch runtime.GOARCH {
	case "amd64":
		return elf.EM_X86_64
	case "arm64":
		return elf.EM_AARCH64
	case "riscv64":
		return elf.EM_RISCV
	default:
		return elf.EM_NONE
	}
}

func nativeClass() elf.Class {
	// All three supported architectures are 64-bit; a 32-bit target would
	// need its own Class here, but spec.md scopes this loader to "a single
	// native word size... matching the host", so only ELFCLASS64 is ever
	// native today.
	return elf.ELFCLASS64
}

func nativeData() elf.Data {
	// amd64, arm64 and riscv64 are all little-endian in their standard
	// Linux ABI.
	return elf.ELFDATA2LSB
}

// absoluteRelocTypes lists the relocation types this loader treats as
// absolute-address writes for the native machine. Anything else is
// rejected as malformed-file — see spec.md §9's open question on
// relocation-type differentiation, resolved in SPEC_FULL.md §4.2.
func absoluteRelocTypes() map[uint32]bool {
	switch nativeMachine() {
	case elf.EM_X86_64:
		return map[uint32]bool{
			uint32(elf.R_X86_64_64):       true,
			uint32(elf.R_X86_64_GLOB_DAT): true,
			uint32(elf.R_X86_64_JMP_SLOT): true,
		}
	case elf.EM_AARCH64:
		return map[uint32]bool{
			uint32(elf.R_AARCH64_ABS64):      true,
			uint32(elf.R_AARCH64_GLOB_DAT):   true,
			uint32(elf.R_AARCH64_JUMP_SLOT):  true,
		}
	case elf.EM_RISCV:
		return map[uint32]bool{
			uint32(elf.R_RISCV_64): true,
		}
	default:
		return nil
	}
}
