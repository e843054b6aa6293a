package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
)

var (
	// earlyReserveLastUsed tracks the last reserved page address and is
	// decreased after each allocation request. Initially, it points to
	// tempMappingAddr which coincides with the end of the kernel address
	// space.
	earlyReserveLastUsed = tempMappingAddr

	errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// AddressSpace wraps a PageDirectoryTable whose kernel half (the top half of
// the canonical address range) shares the same intermediate tables as every
// other address space in the system, and whose user half is private to the
// task(s) that reference it.
type AddressSpace struct {
	pdt PageDirectoryTable
}

// PDT returns the underlying page directory table.
func (as *AddressSpace) PDT() *PageDirectoryTable { return &as.pdt }

// CreateAddressSpace allocates a fresh PML4 and copies the kernel's
// top-level entries into it so kernel mappings remain visible and
// consistent no matter which address space is active. The user half starts
// out empty.
func CreateAddressSpace() (*AddressSpace, *kernel.Error) {
	pdtFrame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{}
	if err := as.pdt.Init(pdtFrame); err != nil {
		return nil, err
	}

	copyKernelHalf(as.pdt.pdtFrame, kernelPDT.pdtFrame)
	return as, nil
}

// copyKernelHalf copies the top 256 PML4 entries (the shared kernel half)
// from src into dst; dst is assumed to have been freshly zeroed by Init.
func copyKernelHalf(dst, src mm.Frame) {
	const (
		userHalfEntries = 256
		totalEntries    = 512
	)

	srcAddr := directAddrFn(src)
	dstAddr := directAddrFn(dst)

	for i := uintptr(userHalfEntries); i < totalEntries; i++ {
		srcPte := (*pageTableEntry)(ptePtrFn(srcAddr + (i << mm.PointerShift)))
		dstPte := (*pageTableEntry)(ptePtrFn(dstAddr + (i << mm.PointerShift)))
		*dstPte = *srcPte
	}
}

// Fork duplicates the user half of as via copy-on-write: every present user
// leaf entry is re-set read-only (with FlagCopyOnWrite) in both the parent
// and the returned child, and the backing frame's reference count is
// incremented once per share.
func (as *AddressSpace) Fork() (*AddressSpace, *kernel.Error) {
	child, err := CreateAddressSpace()
	if err != nil {
		return nil, err
	}

	as.pdt.ForEachUserEntry(func(virtAddr uintptr, pte *pageTableEntry) {
		if pte.HasFlags(FlagRW) {
			pte.ClearFlags(FlagRW)
			pte.SetFlags(FlagCopyOnWrite)
		}

		frame := pte.Frame()
		flags := PageTableEntryFlag(*pte) &^ PageTableEntryFlag(ptePhysPageMask)

		if mapErr := child.pdt.Map(mm.PageFromAddress(virtAddr), frame, flags); mapErr != nil {
			err = mapErr
			return
		}

		incRefFn(frame)
	})
	if err != nil {
		return nil, err
	}

	flushTLBEntryFn(0)
	return child, nil
}

// Destroy walks the user half of as, decrements the reference count of
// every mapped frame, and frees the intermediate tables together with the
// PML4 itself. The kernel half's shared tables are never touched.
func (as *AddressSpace) Destroy() {
	freeUserTables(as.pdt.pdtFrame, 0)
	mm.FreeFrame(as.pdt.pdtFrame)
}

// freeUserTables recursively frees the intermediate page tables reachable
// from the user half of the PML4 rooted at tableFrame, decrementing the
// refcount of every leaf frame it encounters along the way.
func freeUserTables(tableFrame mm.Frame, level uint8) {
	const userHalfEntries = 256

	tableAddr := directAddrFn(tableFrame)

	limit := uintptr(1) << pageLevelBits[level]
	if level == 0 {
		limit = userHalfEntries
	}

	for i := uintptr(0); i < limit; i++ {
		pte := (*pageTableEntry)(ptePtrFn(tableAddr + (i << mm.PointerShift)))
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		if level == pageLevels-1 {
			decRefFn(pte.Frame())
			continue
		}

		if pte.HasFlags(FlagHugePage) {
			decRefFn(pte.Frame())
			continue
		}

		freeUserTables(pte.Frame(), level+1)
		mm.FreeFrame(pte.Frame())
	}
}

// SwitchTo activates this address space.
func (as *AddressSpace) SwitchTo() {
	as.pdt.Activate()
}

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel address space and returns its virtual
// address. If size is not a multiple of mm.PageSize it will be automatically
// rounded up.
//
// This function allocates regions starting at the end of the kernel address
// space. It should only be used during the early stages of kernel initialization.
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	// reserving a region of the requested size will cause an underflow
	if size > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= size
	return earlyReserveLastUsed, nil
}
