// Package pmm implements the kernel's physical frame allocator: a
// throwaway boot-time allocator used to bootstrap a bitmap allocator that
// serves every later allocation, plus the per-frame reference count table
// that backs copy-on-write in kernel/mm/vmm.
package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
)

var (
	// bootMemAllocator is the page allocator used while the kernel boots.
	// It bootstraps the bitmap allocator used for all page allocations
	// while the kernel runs.
	bootMemAllocator BootMemAllocator

	// bitmapAllocator is the standard allocator used by the kernel once
	// Init has completed.
	bitmapAllocator BitmapAllocator
)

// MemoryRegion describes a single contiguous run of physical frames and
// whether the firmware reported it as usable RAM. It carries the frame range
// of a boot.MemoryMapEntry so that kernel/mm/pmm does not import the boot
// package.
type MemoryRegion struct {
	StartFrame mm.Frame
	EndFrame   mm.Frame
	Available  bool
}

// Init sets up the kernel physical memory allocation sub-system: regions
// describes the firmware-reported memory map, already translated to frame
// numbers, and kernelStart/kernelEnd bound the loaded kernel image so its
// frames are excluded from allocation.
func Init(regions []MemoryRegion, kernelStart, kernelEnd uintptr) *kernel.Error {
	memoryMap = make([]regionInfo, len(regions))
	for i, r := range regions {
		memoryMap[i] = regionInfo{startFrame: r.StartFrame, endFrame: r.EndFrame, available: r.Available}
	}

	bootMemAllocator.init(kernelStart, kernelEnd)
	bootMemAllocator.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	if err := bitmapAllocator.init(); err != nil {
		return err
	}
	mm.SetFrameAllocator(bitmapAllocFrame)
	mm.SetFrameDeallocator(bitmapAllocator.FreeFrame)
	vmm.SetDecRefFunc(func(f mm.Frame) { DecRef(f) })
	vmm.SetRefCountFunc(RefCount)
	vmm.SetIncRefFunc(IncRef)

	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootMemAllocator.AllocFrame()
}

func bitmapAllocFrame() (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocFrame()
}
