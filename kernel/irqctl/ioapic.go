package irqctl

import (
	"gopheros/kernel/mm"
	"unsafe"
)

// IOAPIC register offsets, accessed indirectly through the index/window
// pair at the controller's MMIO base (no ACPI/MADT parsing is available, so
// the base is supplied by the caller; see SPEC_FULL's fixed-base decision).
const (
	ioRegSel = 0x00
	ioWin    = 0x10

	ioapicRedTableBase = 0x10 // first redirection entry register index
)

// Redirection entry delivery flags (low dword). Polarity/trigger default to
// active-high, edge-triggered; legacy ISA IRQs typically want that, while
// PCI-routed lines may need LevelTriggered|ActiveLow.
const (
	RedirectionMasked         = uint32(1 << 16)
	RedirectionLevelTriggered = uint32(1 << 15)
	RedirectionActiveLow      = uint32(1 << 13)
	RedirectionLogicalDest    = uint32(1 << 11)
)

// IOAPIC represents a single I/O APIC controller, addressed via its fixed
// MMIO window mapped through the kernel's direct map.
type IOAPIC struct {
	base uintptr
}

// NewIOAPIC returns a handle to the IOAPIC whose registers are mapped at
// physAddr (typically 0xfec00000 on a fixed-base system).
func NewIOAPIC(physAddr uintptr) *IOAPIC {
	return &IOAPIC{base: directAddrFn(mm.FrameFromAddress(physAddr)) + (physAddr & (mm.PageSize - 1))}
}

func (a *IOAPIC) read(reg uint8) uint32 {
	mmioWrite32Fn(a.base+ioRegSel, uint32(reg))
	return mmioRead32Fn(a.base + ioWin)
}

func (a *IOAPIC) write(reg uint8, val uint32) {
	mmioWrite32Fn(a.base+ioRegSel, uint32(reg))
	mmioWrite32Fn(a.base+ioWin, val)
}

// ID returns the IOAPIC's 4-bit identification field.
func (a *IOAPIC) ID() uint8 {
	return uint8(a.read(0x00) >> 24 & 0xf)
}

// MaxRedirectionEntry returns the number of the last usable redirection
// table entry (entries are numbered starting at 0).
func (a *IOAPIC) MaxRedirectionEntry() uint8 {
	return uint8(a.read(0x01) >> 16 & 0xff)
}

// SetRedirection programs redirection table entry irq (0-based, matches the
// ISA IRQ numbering for the first 16 entries) to deliver vector to the
// destination APIC ID destAPICID, combined with the supplied flag bits.
func (a *IOAPIC) SetRedirection(irq uint8, vector uint8, destAPICID uint8, flags uint32) {
	reg := ioapicRedTableBase + irq*2
	low := uint32(vector) | flags
	high := uint32(destAPICID) << 24
	// Mask first so a partially written entry is never live.
	a.write(reg, low|RedirectionMasked)
	a.write(reg+1, high)
	a.write(reg, low)
}

// Mask disables redirection table entry irq without disturbing its other
// fields.
func (a *IOAPIC) Mask(irq uint8) {
	reg := ioapicRedTableBase + irq*2
	a.write(reg, a.read(reg)|RedirectionMasked)
}

var (
	mmioRead32Fn  = mmioRead32
	mmioWrite32Fn = mmioWrite32
)

func mmioRead32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func mmioWrite32(addr uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = val
}
