// Package irqctl programs the interrupt-routing hardware: the legacy 8259
// PIC pair, the IOAPIC, and the local APIC. It owns vector assignment for
// IRQ lines 0-15 and the EOI policy for whichever controller delivered an
// interrupt.
package irqctl

import "gopheros/kernel/cpu"

// I/O ports and command/data-register bit layouts for the master/slave 8259
// pair.
const (
	picMasterCmdPort  = 0x20
	picMasterDataPort = 0x21
	picSlaveCmdPort   = 0xa0
	picSlaveDataPort  = 0xa1

	picICW1Init = 0x10 // ICW1: start initialization sequence
	picICW1ICW4 = 0x01 // ICW1: ICW4 will be present

	picICW4_8086 = 0x01 // ICW4: 8086/88 mode

	picOCW2EOI = 0x20 // OCW2: non-specific EOI command

	picOCW3ReadISR = 0x0b // OCW3: read in-service register
)

var (
	outbFn   = cpu.Outb
	inbFn    = cpu.Inb
	ioWaitFn = cpu.IOWait
)

// masterMask/slaveMask track the current IMR contents so Mask/Unmask can
// flip a single bit without first reading the register back (the 8259's
// data port is write-only from the CPU's point of view on init but
// readable afterwards; tracking locally avoids relying on that).
var (
	masterMask uint8 = 0xff
	slaveMask  uint8 = 0xff
)

// remapPIC initializes both PICs with the standard 4-byte ICW sequence,
// remapping the master's 8 IRQ lines to masterOffset and the slave's to
// slaveOffset, cascading the slave through master IRQ line 2, and masking
// every line until a handler is registered for it via HandleIRQ.
func remapPIC(masterOffset, slaveOffset uint8) {
	outbFn(picMasterCmdPort, picICW1Init|picICW1ICW4)
	ioWaitFn()
	outbFn(picSlaveCmdPort, picICW1Init|picICW1ICW4)
	ioWaitFn()

	outbFn(picMasterDataPort, masterOffset)
	ioWaitFn()
	outbFn(picSlaveDataPort, slaveOffset)
	ioWaitFn()

	outbFn(picMasterDataPort, 1<<2) // slave is cascaded on IRQ2
	ioWaitFn()
	outbFn(picSlaveDataPort, 2) // slave's cascade identity
	ioWaitFn()

	outbFn(picMasterDataPort, picICW4_8086)
	ioWaitFn()
	outbFn(picSlaveDataPort, picICW4_8086)
	ioWaitFn()

	masterMask, slaveMask = 0xff, 0xff
	outbFn(picMasterDataPort, masterMask)
	outbFn(picSlaveDataPort, slaveMask)
}

// picMask sets the IMR bit for irq (0-15), disabling that line.
func picMask(irq uint8) {
	if irq < 8 {
		masterMask |= 1 << irq
		outbFn(picMasterDataPort, masterMask)
		return
	}
	slaveMask |= 1 << (irq - 8)
	outbFn(picSlaveDataPort, slaveMask)
}

// picUnmask clears the IMR bit for irq (0-15), enabling that line. Unmasking
// any slave line (8-15) also unmasks the master's cascade line (2).
func picUnmask(irq uint8) {
	if irq < 8 {
		masterMask &^= 1 << irq
		outbFn(picMasterDataPort, masterMask)
		return
	}
	slaveMask &^= 1 << (irq - 8)
	outbFn(picSlaveDataPort, slaveMask)
	masterMask &^= 1 << 2
	outbFn(picMasterDataPort, masterMask)
}

// picEOI sends a non-specific EOI to the slave (if irq >= 8) and always to
// the master, since a slave IRQ also arrived through the master's cascade
// line.
func picEOI(irq uint8) {
	if irq >= 8 {
		outbFn(picSlaveCmdPort, picOCW2EOI)
	}
	outbFn(picMasterCmdPort, picOCW2EOI)
}

// picInService reports whether line irq is marked in-service. dispatch uses
// it to recognize a spurious IRQ7 (the PIC raises the vector but the line
// never actually went active); IRQ15 is not checked.
func picInService(irq uint8) bool {
	if irq < 8 {
		outbFn(picMasterCmdPort, picOCW3ReadISR)
		return inbFn(picMasterCmdPort)&(1<<irq) != 0
	}
	outbFn(picSlaveCmdPort, picOCW3ReadISR)
	return inbFn(picSlaveCmdPort)&(1<<(irq-8)) != 0
}
