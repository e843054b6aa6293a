package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// memoryMap is populated by Init with the boot-reported physical memory
// regions; both the boot allocator and the bitmap allocator iterate it.
var memoryMap []regionInfo

type regionInfo struct {
	startFrame mm.Frame
	endFrame   mm.Frame
	available  bool
}

// BootMemAllocator implements a rudimentary physical memory allocator used
// to bootstrap the kernel. It scans the memory region information provided
// by the bootloader to detect free memory blocks and returns the next
// available frame, excluding the frames occupied by the kernel image. Freed
// pages cannot be reclaimed by this allocator; once the bitmap allocator
// takes over, the frames this allocator handed out are marked reserved.
type BootMemAllocator struct {
	allocCount     uint64
	lastAllocFrame mm.Frame

	kernelStartFrame, kernelEndFrame mm.Frame
}

func (alloc *BootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	pageSizeMinus1 := mm.PageSize - 1
	alloc.kernelStartFrame = mm.Frame((kernelStart & ^pageSizeMinus1) >> mm.PageShift)
	alloc.kernelEndFrame = mm.Frame(((kernelEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mm.PageShift) - 1
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for _, region := range memoryMap {
		if !region.available {
			continue
		}

		if alloc.lastAllocFrame >= region.endFrame && alloc.allocCount > 0 {
			continue
		}

		var next mm.Frame
		switch {
		case alloc.allocCount == 0 || alloc.lastAllocFrame < region.startFrame:
			next = region.startFrame
		default:
			next = alloc.lastAllocFrame + 1
		}

		if next >= alloc.kernelStartFrame && next <= alloc.kernelEndFrame {
			next = alloc.kernelEndFrame + 1
		}

		if next > region.endFrame {
			continue
		}

		alloc.lastAllocFrame = next
		alloc.allocCount++
		return next, nil
	}

	return mm.InvalidFrame, errBootAllocOutOfMemory
}

func (alloc *BootMemAllocator) printMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	for _, region := range memoryMap {
		state := "reserved"
		if region.available {
			state = "available"
		}
		kfmt.Printf("\t[frame %10d - %10d] %s\n", region.startFrame, region.endFrame, state)
	}
	kfmt.Printf("[boot_mem_alloc] kernel frames %d - %d reserved\n", alloc.kernelStartFrame, alloc.kernelEndFrame)
}
