package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
)

var (
	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt

	// kernelFixupFn is consulted when a page fault occurs while CS
	// indicates kernel-mode and the faulting address lies outside the
	// direct map or kernel image, e.g. while a syscall handler is
	// dereferencing a user pointer inside a SMAPDisable/SMAPEnable
	// bracket. It defaults to "no fixup available"; kernel/syscall wires
	// in the real exception table via SetKernelFixupFunc.
	kernelFixupFn = func(faultRIP uintptr) (fixupRIP uintptr, ok bool) { return 0, false }
)

// SetKernelFixupFunc registers the function consulted by the page fault
// handler to recover from a fault that occurred while the kernel was
// accessing a user pointer under SMAP disabled. kernel/syscall calls this
// during its own Init.
func SetKernelFixupFunc(fn func(uintptr) (uintptr, bool)) {
	kernelFixupFn = fn
}

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler implements the kernel's single copy-on-write path. It is
// invoked when a PDT or PDT-entry is not present or when a RW protection
// check fails, and it is the only place that interprets FlagCopyOnWrite.
func pageFaultHandler(regs *gate.Registers) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = mm.PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
		root         = mm.Frame(activePDTFn() >> mm.PageShift)
	)

	walk(root, faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		return nextIsPresent
	})

	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		oldFrame := pageEntry.Frame()

		if oldFrame != ReservedZeroedFrame && refCountFn(oldFrame) <= 1 {
			// Not actually shared (any more); no copy required.
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagRW)
			flushTLBEntryFn(faultPage.Address())
			return
		}

		newFrame, err := mm.AllocFrame()
		if err != nil {
			nonRecoverablePageFault(faultAddress, regs, err)
			return
		}

		kernel.Memcopy(directAddrFn(oldFrame), directAddrFn(newFrame), mm.PageSize)
		if oldFrame != ReservedZeroedFrame {
			decRefFn(oldFrame)
		}

		pageEntry.ClearFlags(FlagCopyOnWrite)
		pageEntry.SetFlags(FlagPresent | FlagRW)
		pageEntry.SetFrame(newFrame)
		flushTLBEntryFn(faultPage.Address())
		return
	}

	if fixupRIP, ok := kernelFixupFn(uintptr(regs.RIP)); ok {
		regs.RIP = uint64(fixupRIP)
		return
	}

	nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(err)
}
