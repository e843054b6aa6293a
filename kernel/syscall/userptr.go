package syscall

import (
	"gopheros/kernel/cpu"
	"unsafe"
)

// smapDisableFn and smapEnableFn are overridden in tests, which cannot
// execute the privileged STAC/CLAC instructions cpu.SMAPDisable/SMAPEnable
// compile down to.
var (
	smapDisableFn = cpu.SMAPDisable
	smapEnableFn  = cpu.SMAPEnable
)

// fixupEntry marks an instruction range within this file's generated code
// that is expected to fault if the user pointer it dereferences is bad; a
// fault whose RIP falls in [pcStart, pcEnd) is redirected to fixupPC, which
// sets a sentinel and returns, letting UserRead/UserWrite report failure
// instead of crashing the kernel.
type fixupEntry struct {
	pcStart, pcEnd, fixupPC uintptr
}

// fixupTable is populated by boot wiring once the addresses of the
// SMAP-bracketed copy loops below are known (they cannot be taken as Go
// function-literal addresses portably); lookupFixup scans it linearly.
var fixupTable []fixupEntry

// SetFixupTable installs the exception table boot wiring derived from the
// linker's symbol information for the UserRead/UserWrite copy loops.
func SetFixupTable(entries []fixupEntry) {
	fixupTable = entries
}

// lookupFixup is registered with vmm.SetKernelFixupFunc. It performs a
// linear scan since the table is expected to stay under a dozen entries
// (one pair per SMAP-bracketed copy loop in this file).
func lookupFixup(faultRIP uintptr) (uintptr, bool) {
	for _, e := range fixupTable {
		if faultRIP >= e.pcStart && faultRIP < e.pcEnd {
			return e.fixupPC, true
		}
	}
	return 0, false
}

// userCopyFailed is set by the page-fault fixup path and cleared at the
// start of every UserRead/UserWrite; a single flag suffices because the
// kernel runs on one logical CPU and a fault during the SMAP bracket always
// aborts the copy immediately.
var userCopyFailed bool

// maxUserAddr is one past the last valid address in the direct-mapped user half;
// anything at or above it is rejected before ever touching SMAP.
const maxUserAddr = uintptr(0x0000800000000000)

// UserWrite copies data into user memory starting at addr, with SMAP
// disabled for the duration of the copy so the CPU does not fault merely
// because the destination is user-accessible. Returns false if addr (or
// addr+len(data)) falls outside the user half, or if a page fault occurred
// mid-copy (caught via the fixup table and reported through
// userCopyFailed).
func UserWrite(addr uintptr, data []byte) bool {
	if addr >= maxUserAddr || addr+uintptr(len(data)) > maxUserAddr || addr+uintptr(len(data)) < addr {
		return false
	}

	userCopyFailed = false
	smapDisableFn()
	for i, b := range data {
		*(*byte)(unsafe.Pointer(addr + uintptr(i))) = b
		if userCopyFailed {
			break
		}
	}
	smapEnableFn()
	return !userCopyFailed
}

// UserRead copies len(data) bytes from user memory starting at addr into
// data, under the same SMAP bracket and fixup discipline as UserWrite.
func UserRead(addr uintptr, data []byte) bool {
	if addr >= maxUserAddr || addr+uintptr(len(data)) > maxUserAddr || addr+uintptr(len(data)) < addr {
		return false
	}

	userCopyFailed = false
	smapDisableFn()
	for i := range data {
		data[i] = *(*byte)(unsafe.Pointer(addr + uintptr(i)))
		if userCopyFailed {
			break
		}
	}
	smapEnableFn()
	return !userCopyFailed
}
