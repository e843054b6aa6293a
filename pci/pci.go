// Package pci implements just enough of the legacy PCI configuration-space
// access mechanism (mechanism #1, the CF8/CFC port pair) to let a driver
// locate a device by class/subclass/prog-if and read its BARs. There is no
// MCFG/ECAM parsing and no bus-walk enumeration beyond a linear bus/slot/fn
// scan; a full PCI subsystem (hotplug, capability lists, bridges) is out of
// scope.
package pci

import "gopheros/kernel/cpu"

const (
	configAddrPort = 0x0cf8
	configDataPort = 0x0cfc

	maxBus  = 256
	maxSlot = 32
	maxFunc = 8
)

// outlFn/inlFn are overridden in tests; cpu.Outl/cpu.Inl are the real,
// bodyless, assembly-backed port I/O primitives.
var (
	outlFn = cpu.Outl
	inlFn  = cpu.Inl
)

func configAddress(bus, slot, fn uint8, offset uint8) uint32 {
	return uint32(1)<<31 |
		uint32(bus)<<16 |
		uint32(slot)<<11 |
		uint32(fn)<<8 |
		uint32(offset&0xfc)
}

// ReadConfig32 reads a 32-bit dword from device (bus,slot,fn)'s
// configuration space at the given byte offset (rounded down to a dword
// boundary).
func ReadConfig32(bus, slot, fn uint8, offset uint8) uint32 {
	outlFn(configAddrPort, configAddress(bus, slot, fn, offset))
	return inlFn(configDataPort)
}

// WriteConfig32 writes a 32-bit dword to device (bus,slot,fn)'s
// configuration space at the given byte offset.
func WriteConfig32(bus, slot, fn uint8, offset uint8, val uint32) {
	outlFn(configAddrPort, configAddress(bus, slot, fn, offset))
	outlFn(configDataPort, val)
}

const (
	offsetVendorID    = 0x00
	offsetClassRevID  = 0x08
	offsetHeaderType  = 0x0e
	offsetBAR0        = 0x10
)

// Locate scans every bus/slot/function for a device whose class, subclass
// and prog-if registers match, returning the first one found. Device
// presence is checked via the vendor ID dword reading back 0xffffffff for
// an empty slot.
func Locate(class, subclass, progIF byte) (bus, slot, fn uint8, ok bool) {
	for b := 0; b < maxBus; b++ {
		for s := 0; s < maxSlot; s++ {
			for f := 0; f < maxFunc; f++ {
				bus, slot, fn := uint8(b), uint8(s), uint8(f)
				vendor := ReadConfig32(bus, slot, fn, offsetVendorID)
				if vendor&0xffff == 0xffff {
					if f == 0 {
						break // no function 0 means an unpopulated slot
					}
					continue
				}

				classReg := ReadConfig32(bus, slot, fn, offsetClassRevID)
				gotProgIF := byte(classReg >> 8)
				gotSubclass := byte(classReg >> 16)
				gotClass := byte(classReg >> 24)
				if gotClass == class && gotSubclass == subclass && gotProgIF == progIF {
					return bus, slot, fn, true
				}

				headerType := byte(ReadConfig32(bus, slot, fn, offsetHeaderType) >> 16)
				if f == 0 && headerType&0x80 == 0 {
					break // single-function device, skip remaining functions
				}
			}
		}
	}
	return 0, 0, 0, false
}

// BAR64 reconstructs the 64-bit memory address encoded in a 64-bit-capable
// BAR pair starting at config offset barOffset (BAR0 is offsetBAR0, BAR1 is
// offsetBAR0+4, and so on). It returns ok=false if the BAR is not a
// 64-bit memory BAR.
func BAR64(bus, slot, fn uint8, barOffset uint8) (addr uintptr, ok bool) {
	low := ReadConfig32(bus, slot, fn, barOffset)
	if low&0x1 != 0 {
		return 0, false // I/O space BAR, not memory
	}
	if (low>>1)&0x3 != 0x2 {
		return 0, false // not a 64-bit memory BAR
	}
	high := ReadConfig32(bus, slot, fn, barOffset+4)
	return uintptr(high)<<32 | uintptr(low&^0xf), true
}

// EnableBusMasterAndMemorySpace sets the Bus Master and Memory Space bits in
// the device's command register, both required before a memory-mapped
// controller will respond to accesses or issue DMA.
func EnableBusMasterAndMemorySpace(bus, slot, fn uint8) {
	const offsetCommand = 0x04
	cmd := ReadConfig32(bus, slot, fn, offsetCommand)
	cmd |= 0x1<<1 | 0x1<<2 // Memory Space Enable, Bus Master Enable
	WriteConfig32(bus, slot, fn, offsetCommand, cmd)
}
