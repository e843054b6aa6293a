package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm"
)

// ReservedZeroedFrame is a special zero-cleared frame allocated by the vmm
// package's Init function. The purpose of this frame is to assist in
// implementing on-demand memory allocation when mapping it in conjunction
// with the CopyOnWrite flag: a page backed by it turns into a freshly
// allocated, zero-filled frame the first time it is written to, via the
// same refcounted COW path user-fork pages use.
var ReservedZeroedFrame mm.Frame

var (
	// protectReservedZeroedPage is set to true once ReservedZeroedFrame
	// is in use, to prevent it from being mapped writable.
	protectReservedZeroedPage bool

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	earlyReserveRegionFn = EarlyReserveRegion

	// decRefFn is invoked by Unmap and the COW fault handler to drop the
	// reference count of a frame. It defaults to a no-op since
	// kernel/mm/pmm (which owns the refcount table) imports this package
	// and cannot be imported back without a cycle; pmm.Init wires in the
	// real implementation via SetDecRefFunc.
	decRefFn = func(mm.Frame) {}

	// refCountFn returns a frame's current reference count. It defaults
	// to always reporting the frame as shared (count 2), the safe choice
	// that forces the COW handler to copy rather than mutate a page that
	// might be shared, until pmm.Init wires in the real implementation via
	// SetRefCountFunc.
	refCountFn = func(mm.Frame) uint32 { return 2 }

	// incRefFn increments a frame's reference count, used by
	// AddressSpace.Fork when it shares a frame COW into a child address
	// space. Wired by pmm.Init via SetIncRefFunc.
	incRefFn = func(mm.Frame) {}

	errNoHugePageSupport           = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
)

// SetDecRefFunc registers the function Unmap and the COW fault handler use
// to drop a frame's reference count. kernel/mm/pmm calls this during its
// own Init.
func SetDecRefFunc(fn func(mm.Frame)) {
	decRefFn = fn
}

// SetRefCountFunc registers the function the COW fault handler uses to
// inspect a frame's current reference count. kernel/mm/pmm calls this
// during its own Init.
func SetRefCountFunc(fn func(mm.Frame) uint32) {
	refCountFn = fn
}

// SetIncRefFunc registers the function AddressSpace.Fork uses to increment a
// shared frame's reference count. kernel/mm/pmm calls this during its own
// Init.
func SetIncRefFunc(fn func(mm.Frame)) {
	incRefFn = fn
}

// Map establishes a mapping between a virtual page and a physical memory
// frame in the currently active address space. Calls to Map use the
// physical frame allocator to create missing intermediate page tables at
// each paging level the MMU needs.
//
// Attempts to map ReservedZeroedFrame with a RW flag will result in an error.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return mapIn(mm.Frame(activePDTFn()>>mm.PageShift), page, frame, flags)
}

// MapRegion establishes a mapping to the physical memory region which starts
// at the given frame and ends at frame + pages(size). The size argument is
// always rounded up to the nearest page boundary. MapRegion reserves the
// next available region in the active virtual address space, establishes
// the mapping and returns the Page that corresponds to the region start.
func MapRegion(frame mm.Frame, size uintptr, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)
	startPage, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size >> mm.PageShift
	for page := mm.PageFromAddress(startPage); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return mm.PageFromAddress(startPage), nil
}

// IdentityMapRegion establishes an identity mapping to the physical memory
// region which starts at the given frame and ends at frame + pages(size). The
// size argument is always rounded up to the nearest page boundary.
func IdentityMapRegion(startFrame mm.Frame, size uintptr, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startPage := mm.Page(startFrame)
	pageCount := mm.Page(((size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)) >> mm.PageShift)

	for curPage := startPage; curPage < startPage+pageCount; curPage++ {
		if err := mapFn(curPage, mm.Frame(curPage), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// Unmap removes a mapping previously installed via Map, flushes the TLB
// entry for the current CPU, and decrements the backing frame's reference
// count (freeing it once the count reaches zero).
func Unmap(page mm.Page) *kernel.Error {
	root := mm.Frame(activePDTFn() >> mm.PageShift)

	pte, err := pteForAddressIn(root, page.Address())
	if err != nil {
		return err
	}
	frame := pte.Frame()

	if err := unmapIn(root, page); err != nil {
		return err
	}

	decRefFn(frame)
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address in the currently active address space, or
// ErrInvalidMapping if it is not mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	physAddr := pte.Frame().Address() + PageOffset(virtAddr)
	return physAddr, nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
