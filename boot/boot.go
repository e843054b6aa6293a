// Package boot collects the handful of facts the kernel needs from the
// firmware before it can stand on its own: the framebuffer the firmware
// handed over, the physical memory map, and the loaded kernel image's ELF
// segment layout. Everything beyond that point (actually calling into
// UEFI boot services) lives behind the Firmware interface, which this
// package never implements itself.
package boot

import "gopheros/kernel"

// MemoryType classifies a MemoryMapEntry the same way the UEFI memory map
// does: usable RAM, firmware-reserved, or reclaimable once the kernel is
// done consuming the UEFI boot services tables.
type MemoryType uint32

const (
	// MemReserved indicates that the memory region is not available for use.
	MemReserved MemoryType = iota

	// MemAvailable indicates that the memory region is free conventional
	// memory the kernel may claim for any purpose.
	MemAvailable

	// MemACPIReclaimable indicates memory that holds ACPI tables the
	// kernel may reclaim once it has finished reading them.
	MemACPIReclaimable

	// MemBootServicesCode and MemBootServicesData describe regions used
	// by UEFI boot services code/data; both become reclaimable once
	// Firmware.ExitBootServices has returned.
	MemBootServicesCode
	MemBootServicesData

	// MemUnusable marks memory the firmware reported as physically
	// faulty; the kernel must never hand it out.
	MemUnusable
)

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemACPIReclaimable:
		return "ACPI (reclaimable)"
	case MemBootServicesCode:
		return "boot services code"
	case MemBootServicesData:
		return "boot services data"
	case MemUnusable:
		return "unusable"
	default:
		return "reserved"
	}
}

// MemoryMapEntry describes a single physically-contiguous run of pages as
// reported by the firmware's memory map. Unlike the BIOS-era byte-length
// encoding, UEFI already hands back entries in page units.
type MemoryMapEntry struct {
	PhysStart  uintptr
	Pages      uint64
	Type       MemoryType
	Attributes uint64
}

// Length returns the size in bytes of this entry.
func (e *MemoryMapEntry) Length() uint64 {
	return e.Pages << 12
}

// MemRegionVisitor is invoked by MemoryMap.Visit for each entry. Returning
// false aborts the scan early.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// MemoryMap is the physical memory map the firmware reported at boot.
type MemoryMap struct {
	Entries           []MemoryMapEntry
	TotalUsableBytes  uint64
}

// Visit invokes visitor for every entry in the map, stopping early if the
// visitor returns false.
func (m *MemoryMap) Visit(visitor MemRegionVisitor) {
	for i := range m.Entries {
		if !visitor(&m.Entries[i]) {
			return
		}
	}
}

// Framebuffer describes the linear framebuffer the firmware's GOP (Graphics
// Output Protocol) set up before handing control to the kernel.
type Framebuffer struct {
	Base   uintptr
	Size   uint64
	HRes   uint32
	VRes   uint32
	Stride uint32
	BPP    uint8
}

// Info is everything the kernel learns from the firmware/bootloader before
// it takes over: the framebuffer, the memory map, and the virtual address
// the kernel image itself was loaded at.
type Info struct {
	Framebuffer     Framebuffer
	MemoryMap       MemoryMap
	KernelStart     uintptr
	KernelEnd       uintptr
	KernelPageOffset uintptr
}

// Firmware is the external collaborator that actually talks to UEFI. The
// kernel never implements it directly; a stage-1 loader built against the
// UEFI boot services table supplies the concrete implementation.
type Firmware interface {
	ExitBootServices(finalMap []MemoryMapEntry) *kernel.Error
	QueryFramebuffer() Framebuffer
}
