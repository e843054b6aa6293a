package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

var (
	// refcounts holds one uint32 per physical frame tracked by the bitmap
	// allocator, indexed by frame number. A frame with refcount 0 is free,
	// 1 means it is mapped into exactly one address space (or not shared),
	// and >1 means it is shared copy-on-write and must be duplicated
	// before a write is allowed through.
	refcounts []uint32

	errRefcountTableAlloc = &kernel.Error{Module: "pmm", Message: "failed to reserve memory for the frame refcount table"}
)

// initRefcountTable reserves and zeroes enough kernel-virtual memory to hold
// one uint32 per frame across the whole system, indexed directly by frame
// number so lookups never need a pool search.
func initRefcountTable(totalPages uint32) *kernel.Error {
	byteLen := uintptr(totalPages) * 4
	requiredBytes := (byteLen + mm.PageSize - 1) &^ (mm.PageSize - 1)
	requiredPages := requiredBytes >> mm.PageShift

	base, err := reserveRegionFn(requiredBytes)
	if err != nil {
		return errRefcountTableAlloc
	}

	for page, i := mm.PageFromAddress(base), uintptr(0); i < requiredPages; page, i = page+1, i+1 {
		frame, err := earlyAllocFrame()
		if err != nil {
			return errRefcountTableAlloc
		}
		if err = mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return errRefcountTableAlloc
		}
		kernel.Memset(page.Address(), 0, mm.PageSize)
	}

	refcounts = unsafe.Slice((*uint32)(unsafe.Pointer(base)), int(totalPages))
	return nil
}

// setRefcount sets the reference count for frame directly, used when a
// frame is freshly allocated (refcount 1) or returned to the pool
// (refcount 0).
func setRefcount(frame mm.Frame, count uint32) {
	if int(frame) >= len(refcounts) {
		return
	}
	refcounts[frame] = count
}

// IncRef increments the reference count of frame, used when a COW fork
// shares the frame into a second address space.
func IncRef(frame mm.Frame) {
	if int(frame) >= len(refcounts) {
		return
	}
	refcounts[frame]++
}

// DecRef decrements the reference count of frame, freeing it back to the
// bitmap allocator once the count reaches zero. It returns the count after
// the decrement.
func DecRef(frame mm.Frame) uint32 {
	if int(frame) >= len(refcounts) || refcounts[frame] == 0 {
		return 0
	}
	refcounts[frame]--
	count := refcounts[frame]
	if count == 0 {
		bitmapAllocator.FreeFrame(frame)
	}
	return count
}

// RefCount returns the current reference count of frame.
func RefCount(frame mm.Frame) uint32 {
	if int(frame) >= len(refcounts) {
		return 0
	}
	return refcounts[frame]
}
