package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap

	// kernelPDT is the granular PDT set up by setupPDTForKernel. Its
	// entries are shared by reference (same physical frames at every
	// level above the leaf PTEs) into every user address space, since
	// the kernel half of the address space is identical everywhere.
	kernelPDT PageDirectoryTable

	// directAddrFn resolves a physical frame to the kernel-virtual
	// address at which its contents can be read or written. It is used
	// by tests to substitute real Go-managed memory for frame numbers
	// that don't correspond to actual physical memory in the test
	// process; in the kernel it is always mm.Frame.DirectAddress.
	directAddrFn = func(f mm.Frame) uintptr { return f.DirectAddress() }
)

// PageDirectoryTable describes the top-most table (PML4) in the 4-level
// paging scheme. Unlike the classic recursive-mapping trick, every level of
// every table — active or not — is reached through the direct map, so a
// PageDirectoryTable works identically whether or not it happens to be the
// one currently loaded into CR3.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
}

// Frame returns the physical frame backing this table's root.
func (pdt PageDirectoryTable) Frame() mm.Frame { return pdt.pdtFrame }

// Init sets up the page table directory starting at the supplied physical
// frame. If the frame does not match the currently active PDT, it is assumed
// to be freshly allocated and its contents are zeroed via the direct map.
func (pdt *PageDirectoryTable) Init(pdtFrame mm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	kernel.Memset(directAddrFn(pdtFrame), 0, mm.PageSize)
	return nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using this PDT, even if it is not the currently active one.
func (pdt PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return mapIn(pdt.pdtFrame, page, frame, flags)
}

// Unmap removes a mapping previously installed by a call to Map() on this
// PDT.
func (pdt PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	return unmapIn(pdt.pdtFrame, page)
}

// Activate enables this page directory table and flushes the TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}

// ForEachUserEntry walks every present top-of-user-half entry reachable from
// this PDT's PML4 and invokes visitor with the virtual address of the start
// of the region it covers and the final-level PTE. It is used by
// AddressSpace.Fork to enumerate the user half of an address space without
// relying on a fixed region list.
func (pdt PageDirectoryTable) ForEachUserEntry(visitor func(virtAddr uintptr, pte *pageTableEntry)) {
	walkUserHalf(pdt.pdtFrame, visitor)
}

// setupPDTForKernel establishes the granular PDT for the kernel's own
// higher-half mapping, sized from the boot-reported ELF segments, the direct
// map, and any regions reserved via EarlyReserveRegion.
func setupPDTForKernel(kernelPageOffset uintptr, segments []KernelSegment, usableBytes uintptr) *kernel.Error {
	kernelPDTFrame, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	if err = kernelPDT.Init(kernelPDTFrame); err != nil {
		return err
	}

	for _, seg := range segments {
		flags := FlagPresent
		if !seg.Executable {
			flags |= FlagNoExecute
		}
		if seg.Writable {
			flags |= FlagRW
		}

		curPage := mm.PageFromAddress(seg.VirtAddr)
		lastPage := mm.PageFromAddress(seg.VirtAddr + seg.Size - 1)
		curFrame := mm.Frame((seg.VirtAddr - kernelPageOffset) >> mm.PageShift)
		for ; curPage <= lastPage; curFrame, curPage = curFrame+1, curPage+1 {
			if err = kernelPDT.Map(curPage, curFrame, flags); err != nil {
				return err
			}
		}
	}

	// Map the direct-map window over all usable physical memory; the
	// kernel touches device MMIO and page-table contents exclusively
	// through it from this point on.
	directMapPages := mm.Page((usableBytes + mm.PageSize - 1) >> mm.PageShift)
	for frame := mm.Frame(0); frame < mm.Frame(directMapPages); frame++ {
		page := mm.PageFromAddress(mm.PhysToDirect(frame.Address()))
		if err = kernelPDT.Map(page, frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
			return err
		}
	}

	// Carry over anything reserved via EarlyReserveRegion during boot.
	for rsvAddr := earlyReserveLastUsed; rsvAddr < tempMappingAddr; rsvAddr += mm.PageSize {
		page := mm.PageFromAddress(rsvAddr)

		frameAddr, err := translateFn(rsvAddr)
		if err != nil {
			return err
		}

		if err = kernelPDT.Map(page, mm.Frame(frameAddr>>mm.PageShift), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	kernelPDT.Activate()
	return nil
}

// KernelSegment describes a single loaded ELF section of the running kernel
// image, as reported by the bootloader (see boot.Info).
type KernelSegment struct {
	VirtAddr   uintptr
	Size       uintptr
	Writable   bool
	Executable bool
}

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// pteForAddress returns the final page table entry that corresponds to a
// particular virtual address in the currently active address space. It
// performs a page table walk till it reaches the final page table entry,
// returning ErrInvalidMapping if the page is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	return pteForAddressIn(mm.Frame(activePDTFn()>>mm.PageShift), virtAddr)
}

// pteForAddressIn is like pteForAddress but walks the supplied (possibly
// inactive) root table instead of the active one.
func pteForAddressIn(root mm.Frame, virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested. When compiling the kernel this function
	// will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the supplied root PML4 frame. Every level is dereferenced through the
// direct map (root.DirectAddress(), then each subsequent pte.Frame()
// .DirectAddress()) rather than a recursive self-mapping, so walk works
// identically for the active PDT and for any other address space's table.
func walk(root mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := root

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := directAddrFn(tableFrame) + (entryIndex << mm.PointerShift)

		pte := (*pageTableEntry)(ptePtrFn(entryAddr))
		if !walkFn(level, pte) {
			return
		}

		if level < pageLevels-1 {
			tableFrame = pte.Frame()
		}
	}
}

// walkUserHalf visits every present leaf PTE in the lower (user) canonical
// half of the address space rooted at root, calling visitor with the virtual
// address that maps to it.
func walkUserHalf(root mm.Frame, visitor func(virtAddr uintptr, pte *pageTableEntry)) {
	const userHalfEntries = 256 // top bit of a PML4 index marks kernel half

	walkTable(root, 0, 0, userHalfEntries, visitor)
}

func walkTable(tableFrame mm.Frame, level uint8, baseAddr uintptr, entryLimit uintptr, visitor func(uintptr, *pageTableEntry)) {
	tableAddr := directAddrFn(tableFrame)

	limit := uintptr(1) << pageLevelBits[level]
	if level == 0 {
		limit = entryLimit
	}

	for i := uintptr(0); i < limit; i++ {
		entryAddr := tableAddr + (i << mm.PointerShift)
		pte := (*pageTableEntry)(ptePtrFn(entryAddr))
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		virtAddr := baseAddr | (i << pageLevelShifts[level])

		if level == pageLevels-1 {
			visitor(virtAddr, pte)
			continue
		}

		if pte.HasFlags(FlagHugePage) {
			visitor(virtAddr, pte)
			continue
		}

		walkTable(pte.Frame(), level+1, virtAddr, 0, visitor)
	}
}

func mapIn(root mm.Frame, page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)

			kernel.Memset(directAddrFn(newTableFrame), 0, mm.PageSize)
		}

		return true
	})

	return err
}

func unmapIn(root mm.Frame, page mm.Page) *kernel.Error {
	var err *kernel.Error

	walk(root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}
