// Package xhci implements an xHCI (USB 3.0 host controller) driver core:
// command/event/transfer ring management, device-slot enumeration and
// control/bulk transfers, reached through the controller's four
// register regions (Capability, Operational, Runtime, Doorbell) and its
// DMA-visible data structures (DCBAA, ERST, Device/Input Contexts),
// all accessed through the kernel's direct map the same way
// kernel/irqctl reaches the IOAPIC/LAPIC's MMIO windows.
package xhci

import "unsafe"

// PCI identity of an xHCI controller, per the USB 3.0 host-controller class
// code assignment.
const (
	PCIClass    = 0x0c
	PCISubclass = 0x03
	PCIProgIF   = 0x30
)

// Capability register offsets, relative to the BAR0 base.
const (
	capCAPLENGTH  = 0x00 // u8: operational register region offset
	capHCSPARAMS1 = 0x04
	capHCSPARAMS2 = 0x08
	capHCCPARAMS1 = 0x10
	capDBOFF      = 0x14
	capRTSOFF     = 0x18
)

// Operational register offsets, relative to base+CAPLENGTH.
const (
	opUSBCMD  = 0x00
	opUSBSTS  = 0x04
	opPAGESIZE = 0x08
	opDNCTRL  = 0x14
	opCRCR    = 0x18
	opDCBAAP  = 0x30
	opCONFIG  = 0x38

	opPortRegsBase  = 0x400
	opPortRegsStride = 0x10
)

// USBCMD bits.
const (
	cmdRunStop     = uint32(1 << 0)
	cmdHCReset     = uint32(1 << 1)
	cmdInterrupter = uint32(1 << 2)
)

// USBSTS bits.
const (
	stsHCHalted    = uint32(1 << 0)
	stsControllerNotReady = uint32(1 << 11)
)

// Runtime interrupter register offsets, relative to base+RTSOFF; interrupter
// i's registers start at 0x20 + 0x20*i.
const (
	rtInterrupterBase   = 0x20
	rtInterrupterStride = 0x20

	irIMAN   = 0x00
	irIMOD   = 0x04
	irERSTSZ = 0x08
	irERSTBA = 0x10
	irERDP   = 0x18
)

// mmioRead32Fn/mmioWrite32Fn/mmioRead64Fn/mmioWrite64Fn are overridden in
// tests; the defaults perform a direct volatile-style access to the
// direct-mapped MMIO window, matching kernel/irqctl's mmioRead32/
// mmioWrite32 pattern.
var (
	mmioRead32Fn  = mmioRead32
	mmioWrite32Fn = mmioWrite32
	mmioRead64Fn  = mmioRead64
	mmioWrite64Fn = mmioWrite64
)

func mmioRead32(addr uintptr) uint32        { return *(*uint32)(unsafe.Pointer(addr)) }
func mmioWrite32(addr uintptr, val uint32)  { *(*uint32)(unsafe.Pointer(addr)) = val }
func mmioRead64(addr uintptr) uint64        { return *(*uint64)(unsafe.Pointer(addr)) }
func mmioWrite64(addr uintptr, val uint64)  { *(*uint64)(unsafe.Pointer(addr)) = val }

func (c *Controller) capRead32(off uintptr) uint32 { return mmioRead32Fn(c.capBase + off) }

func (c *Controller) opRead32(off uintptr) uint32       { return mmioRead32Fn(c.opBase + off) }
func (c *Controller) opWrite32(off uintptr, v uint32)   { mmioWrite32Fn(c.opBase+off, v) }
func (c *Controller) opRead64(off uintptr) uint64       { return mmioRead64Fn(c.opBase + off) }
func (c *Controller) opWrite64(off uintptr, v uint64)   { mmioWrite64Fn(c.opBase+off, v) }

func (c *Controller) portRead32(port uint8, off uintptr) uint32 {
	return c.opRead32(opPortRegsBase + uintptr(port)*opPortRegsStride + off)
}
func (c *Controller) portWrite32(port uint8, off uintptr, v uint32) {
	c.opWrite32(opPortRegsBase+uintptr(port)*opPortRegsStride+off, v)
}

func (c *Controller) rtRead32(off uintptr) uint32     { return mmioRead32Fn(c.rtBase + off) }
func (c *Controller) rtWrite32(off uintptr, v uint32) { mmioWrite32Fn(c.rtBase+off, v) }
func (c *Controller) rtRead64(off uintptr) uint64     { return mmioRead64Fn(c.rtBase + off) }
func (c *Controller) rtWrite64(off uintptr, v uint64) { mmioWrite64Fn(c.rtBase+off, v) }

func (c *Controller) interrupterOff(i uint8, reg uintptr) uintptr {
	return rtInterrupterBase + uintptr(i)*rtInterrupterStride + reg
}

// ringDoorbell writes target (an endpoint DCI, or 0 for the command ring)
// to slot's doorbell register, requesting the controller process newly
// enqueued TRBs.
func (c *Controller) ringDoorbell(slot uint8, target uint32) {
	mmioWrite32Fn(c.dbBase+uintptr(slot)*4, target)
}

// maxPorts returns the number of root-hub ports this controller exposes, the
// high byte (bits 24-31) of HCSPARAMS1.
func (c *Controller) maxPorts() uint8 {
	return uint8(c.capRead32(capHCSPARAMS1) >> 24)
}

// maxSlots returns the maximum number of device slots, the low byte of
// HCSPARAMS1.
func (c *Controller) maxSlots() uint8 {
	return uint8(c.capRead32(capHCSPARAMS1))
}

// contextSize returns 32 or 64, the number of bytes a single Slot/Endpoint
// Context occupies, per HCCPARAMS1's CSZ bit.
func (c *Controller) contextSize() uintptr {
	if c.capRead32(capHCCPARAMS1)&(1<<2) != 0 {
		return 64
	}
	return 32
}

// maxScratchpadBuffers returns the number of scratchpad buffers the
// controller requires DCBAA entry 0 to point at, assembled from
// HCSPARAMS2's Hi (bits 25-21) and Lo (bits 31-27) fields.
func (c *Controller) maxScratchpadBuffers() uint32 {
	params2 := c.capRead32(capHCSPARAMS2)
	hi := (params2 >> 21) & 0x1f
	lo := (params2 >> 27) & 0x1f
	return hi<<5 | lo
}
