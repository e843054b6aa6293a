package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn   = cpu.ReadCR2
	translateFn = Translate

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// Init initializes the vmm system, creates a granular PDT for the kernel
// using the ELF segment layout and usable physical memory extent reported by
// the bootloader, maps the direct-map window and installs paging-related
// exception handlers.
func Init(kernelPageOffset uintptr, segments []KernelSegment, usableBytes uintptr) *kernel.Error {
	if err := setupPDTForKernel(kernelPageOffset, segments, usableBytes); err != nil {
		return err
	}

	// Install arch-specific handlers for vmm-related faults.
	installFaultHandlers()

	return reserveZeroedFrame()
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests. The frame is zeroed directly
// through the direct map; no temporary mapping is required.
func reserveZeroedFrame() *kernel.Error {
	var err *kernel.Error

	if ReservedZeroedFrame, err = mm.AllocFrame(); err != nil {
		return err
	}
	kernel.Memset(directAddrFn(ReservedZeroedFrame), 0, mm.PageSize)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}
