package irqctl

import (
	"gopheros/kernel/gate"
	"gopheros/kernel/mm"
)

const numIRQLines = 16

var (
	// directAddrFn resolves a physical frame to its direct-mapped
	// kernel-virtual address; overridden in tests.
	directAddrFn = mm.Frame.DirectAddress

	// handleInterruptFn registers an IDT handler; overridden in tests.
	handleInterruptFn = gate.HandleInterrupt

	handlers [numIRQLines]func(*gate.Registers)

	// useAPIC selects the EOI/masking policy: false routes through the
	// 8259 pair, true through the IOAPIC/LAPIC. SPEC_FULL's component
	// description treats the PIC as the default path, with APIC routing
	// staged but not required.
	useAPIC bool

	ioapic *IOAPIC
	lapic  *LAPIC
)

// Init remaps and masks both 8259 PICs so that IRQ lines 0-15 raise IDT
// vectors 32-47, leaving every line masked until HandleIRQ registers a
// handler for it.
func Init() {
	remapPIC(uint8(gate.IRQBaseVector), uint8(gate.IRQBaseVector)+8)
	useAPIC = false
}

// EnableAPICRouting switches IRQ delivery from the legacy PICs to the
// IOAPIC/LAPIC pair. The 8259s are fully masked first so a line cannot
// double-fire through both paths during the transition. ioapicPhys and
// lapicPhys are the fixed MMIO base addresses (no ACPI/MADT table is
// parsed; the caller supplies them, per the fixed-base assumption this
// kernel makes).
func EnableAPICRouting(ioapicPhys, lapicPhys uintptr, bspAPICID uint8) {
	outbFn(picMasterDataPort, 0xff)
	outbFn(picSlaveDataPort, 0xff)

	ioapic = NewIOAPIC(ioapicPhys)
	lapic = NewLAPIC(lapicPhys)
	lapic.EnableSpurious(uint8(gate.LAPICSpuriousVector))

	for irq := uint8(0); irq < numIRQLines; irq++ {
		flags := uint32(RedirectionMasked)
		if handlers[irq] != nil {
			flags = 0
		}
		ioapic.SetRedirection(irq, uint8(gate.IRQVector(irq)), bspAPICID, flags)
	}

	useAPIC = true
}

// HandleIRQ registers handler as the recipient of legacy IRQ line irq
// (0-15), installs the shared IDT dispatcher for that vector on first use,
// and unmasks the line on whichever controller currently routes it.
func HandleIRQ(irq uint8, handler func(*gate.Registers)) {
	handlers[irq] = handler
	handleInterruptFn(gate.IRQVector(irq), 0, func(regs *gate.Registers) {
		dispatch(irq, regs)
	})

	if useAPIC {
		ioapic.write(ioapicRedTableBase+irq*2, ioapic.read(ioapicRedTableBase+irq*2)&^RedirectionMasked)
		return
	}
	picUnmask(irq)
}

// dispatch runs the registered handler for irq, if any, and sends EOI to
// whichever controller is currently responsible for routing. A line with no
// registered handler still receives EOI so the controller does not wedge.
func dispatch(irq uint8, regs *gate.Registers) {
	if irq == 7 && !useAPIC && !picInService(7) {
		// Spurious IRQ7: the PIC raised the vector without the line
		// actually going active. No EOI is sent for a spurious IRQ7.
		return
	}

	if h := handlers[irq]; h != nil {
		h(regs)
	}

	if useAPIC {
		lapic.EOI()
		return
	}
	picEOI(irq)
}

// MaskLine disables delivery of irq without unregistering its handler.
func MaskLine(irq uint8) {
	if useAPIC {
		ioapic.Mask(irq)
		return
	}
	picMask(irq)
}

// IOAPICHandle returns the IOAPIC driver instance, or nil if APIC routing
// has not been enabled.
func IOAPICHandle() *IOAPIC { return ioapic }

// LAPICHandle returns the LAPIC driver instance, or nil if APIC routing has
// not been enabled.
func LAPICHandle() *LAPIC { return lapic }
