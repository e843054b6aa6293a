package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

// unsafeUint64Slice returns a []uint64 of length count backed by the memory
// at addr. Used to carve the pool bitmaps and refcount table out of a single
// reserved block of kernel-virtual memory without a second allocation.
func unsafeUint64Slice(addr uintptr, count int) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(addr)), count)
}

var (
	// The following functions are used by tests to mock calls to the vmm
	// package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map
)

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. It
// additionally owns the per-frame reference count table used by the COW
// path in kernel/mm/vmm.
type BitmapAllocator struct {
	totalPages    uint32
	reservedPages uint32

	pools []framePool
}

// init allocates space for the allocator structures using the early boot
// allocator and flags any allocated pages as reserved.
func (alloc *BitmapAllocator) init() *kernel.Error {
	if err := alloc.setupPoolBitmaps(); err != nil {
		return err
	}

	// The refcount table is indexed by frame number, so it spans up to the
	// highest pool frame. Its pages come from the boot allocator, so it is
	// set up before the boot allocator's frames are flagged as reserved.
	var frameCount uint32
	for _, pool := range alloc.pools {
		if uint32(pool.endFrame)+1 > frameCount {
			frameCount = uint32(pool.endFrame) + 1
		}
	}
	if err := initRefcountTable(frameCount); err != nil {
		return err
	}

	alloc.reserveKernelFrames()
	alloc.reserveBootAllocatorFrames()
	alloc.printStats()
	return nil
}

// setupPoolBitmaps reserves kernel-virtual storage (via the early region
// reservation helper, since the bitmap allocator itself isn't running yet)
// for one framePool per available memory region and its free bitmap.
func (alloc *BitmapAllocator) setupPoolBitmaps() *kernel.Error {
	var requiredBitmapBits uint64

	for _, region := range memoryMap {
		if !region.available {
			continue
		}
		alloc.pools = append(alloc.pools, framePool{})

		pageCount := uint32(region.endFrame - region.startFrame + 1)
		alloc.totalPages += pageCount
		requiredBitmapBits += uint64((pageCount + 63) &^ 63)
	}

	requiredBitmapBytes := uintptr(requiredBitmapBits >> 3)
	requiredBytes := (requiredBitmapBytes + mm.PageSize - 1) &^ (mm.PageSize - 1)
	requiredPages := requiredBytes >> mm.PageShift

	bitmapBase, err := reserveRegionFn(requiredBytes)
	if err != nil {
		return err
	}

	for page, i := mm.PageFromAddress(bitmapBase), uintptr(0); i < requiredPages; page, i = page+1, i+1 {
		frame, err := earlyAllocFrame()
		if err != nil {
			return err
		}
		if err = mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		kernel.Memset(page.Address(), 0, mm.PageSize)
	}

	bitmapCursor := bitmapBase
	poolIndex := 0
	for _, region := range memoryMap {
		if !region.available {
			continue
		}

		pageCount := uint32(region.endFrame - region.startFrame + 1)
		words := (pageCount + 63) >> 6

		alloc.pools[poolIndex].startFrame = region.startFrame
		alloc.pools[poolIndex].endFrame = region.endFrame
		alloc.pools[poolIndex].freeCount = pageCount
		alloc.pools[poolIndex].freeBitmap = unsafeUint64Slice(bitmapCursor, int(words))

		bitmapCursor += uintptr(words) * 8
		poolIndex++
	}

	return nil
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame mm.Frame, flag markAs) {
	if poolIndex < 0 || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	relFrame := uint32(frame - alloc.pools[poolIndex].startFrame)
	block := relFrame >> 6
	mask := uint64(1) << (63 - (relFrame - block<<6))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// isReserved reports whether frame is currently flagged as reserved.
func (alloc *BitmapAllocator) isReserved(poolIndex int, frame mm.Frame) bool {
	relFrame := uint32(frame - alloc.pools[poolIndex].startFrame)
	block := relFrame >> 6
	mask := uint64(1) << (63 - (relFrame - block<<6))
	return alloc.pools[poolIndex].freeBitmap[block]&mask != 0
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not contained in any of the available memory pools.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}
	return -1
}

func (alloc *BitmapAllocator) reserveKernelFrames() {
	poolIndex := alloc.poolForFrame(bootMemAllocator.kernelStartFrame)
	for frame := bootMemAllocator.kernelStartFrame; frame <= bootMemAllocator.kernelEndFrame; frame++ {
		alloc.markFrame(poolIndex, frame, markReserved)
	}
}

// reserveBootAllocatorFrames decomissions the boot allocator by flagging
// every frame it handed out as reserved. The allocator itself only tracks a
// counter, so we reset its state and replay the allocation sequence.
func (alloc *BitmapAllocator) reserveBootAllocatorFrames() {
	allocCount := bootMemAllocator.allocCount
	bootMemAllocator.allocCount, bootMemAllocator.lastAllocFrame = 0, 0
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := bootMemAllocator.AllocFrame()
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
	}
}

// AllocFrame scans pools in order and returns the first free frame,
// initializing its refcount to 1.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for block, word := range pool.freeBitmap {
			if word == ^uint64(0) {
				continue
			}

			for bit := uint32(0); bit < 64; bit++ {
				mask := uint64(1) << (63 - bit)
				if word&mask != 0 {
					continue
				}

				frame := pool.startFrame + mm.Frame(uint32(block)<<6+bit)
				if frame > pool.endFrame {
					break
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				setRefcount(frame, 1)
				return frame, nil
			}
		}
	}

	return mm.InvalidFrame, errBootAllocOutOfMemory
}

// FreeFrame returns frame to its pool, making it available for allocation.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 || !alloc.isReserved(poolIndex, frame) {
		return
	}
	alloc.markFrame(poolIndex, frame, markFree)
	setRefcount(frame, 0)
}

func (alloc *BitmapAllocator) printStats() {
	kfmt.Printf(
		"[bitmap_alloc] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages,
		alloc.totalPages,
		alloc.reservedPages,
	)
}
