package irqctl

import "gopheros/kernel/mm"

// Local APIC register offsets (all 32-bit, naturally aligned to 16 bytes).
const (
	lapicIDReg        = 0x020
	lapicEOIReg       = 0x0b0
	lapicSpuriousReg  = 0x0f0
	lapicICRLowReg    = 0x300
	lapicICRHighReg   = 0x310
	lapicLVTTimerReg  = 0x320
	lapicTimerInitCnt = 0x380
	lapicTimerCurCnt  = 0x390
	lapicTimerDivReg  = 0x3e0
)

// ICR delivery modes, used when sending IPIs.
const (
	icrDeliveryFixed = uint32(0 << 8)
	icrDeliveryInit  = uint32(5 << 8)
	icrDeliveryStartup = uint32(6 << 8)

	icrLevelAssert = uint32(1 << 14)
	icrTriggerEdge = uint32(0 << 15)

	icrDestModeMask = uint32(0x3 << 18)
	icrDestPhysical = uint32(0 << 18)
)

// timerPeriodic marks the LVT timer entry as periodic (vs. one-shot).
const timerPeriodic = uint32(1 << 17)
const lvtMasked = uint32(1 << 16)

// LAPIC represents the local APIC of the single supported CPU, addressed via
// its fixed MMIO window mapped through the kernel's direct map.
type LAPIC struct {
	base uintptr
}

// NewLAPIC returns a handle to the LAPIC whose registers are mapped at
// physAddr (typically 0xfee00000 on a fixed-base system).
func NewLAPIC(physAddr uintptr) *LAPIC {
	return &LAPIC{base: directAddrFn(mm.FrameFromAddress(physAddr)) + (physAddr & (mm.PageSize - 1))}
}

func (l *LAPIC) read(reg uintptr) uint32  { return mmioRead32Fn(l.base + reg) }
func (l *LAPIC) write(reg uintptr, v uint32) { mmioWrite32Fn(l.base+reg, v) }

// ID returns this LAPIC's local APIC ID.
func (l *LAPIC) ID() uint8 { return uint8(l.read(lapicIDReg) >> 24) }

// EnableSpurious programs the spurious-interrupt vector register, setting
// the APIC software-enable bit and the spurious vector number.
func (l *LAPIC) EnableSpurious(vector uint8) {
	const apicSoftwareEnable = 1 << 8
	l.write(lapicSpuriousReg, uint32(vector)|apicSoftwareEnable)
}

// EOI signals end-of-interrupt for the highest-priority in-service vector.
func (l *LAPIC) EOI() { l.write(lapicEOIReg, 0) }

// StartTimer programs the LVT timer entry to fire on vector using divide
// ratio divisor (hardware encodes 1/16 as 0x3; callers pass the already
// encoded 4-bit field) and the given initial count, optionally repeating.
func (l *LAPIC) StartTimer(vector uint8, divisorEncoded uint8, initialCount uint32, periodic bool) {
	l.write(lapicTimerDivReg, uint32(divisorEncoded))
	mode := uint32(vector)
	if periodic {
		mode |= timerPeriodic
	}
	l.write(lapicLVTTimerReg, mode)
	l.write(lapicTimerInitCnt, initialCount)
}

// StopTimer masks the LVT timer entry and zeroes the initial count.
func (l *LAPIC) StopTimer() {
	l.write(lapicLVTTimerReg, lvtMasked)
	l.write(lapicTimerInitCnt, 0)
}

// CurrentCount returns the timer's current countdown value, used during PIT
// calibration to measure how far the counter fell in a known interval.
func (l *LAPIC) CurrentCount() uint32 { return l.read(lapicTimerCurCnt) }

// SendIPI issues a fixed, INIT, or startup (SIPI) inter-processor interrupt
// to the CPU identified by destAPICID. vector is the target vector for a
// fixed IPI or the trampoline page number (shifted into the low byte) for a
// startup IPI.
func (l *LAPIC) SendIPI(destAPICID uint8, vector uint8, deliveryMode uint32) {
	l.write(lapicICRHighReg, uint32(destAPICID)<<24)
	l.write(lapicICRLowReg, uint32(vector)|deliveryMode|icrLevelAssert|icrTriggerEdge|icrDestPhysical)
	for l.read(lapicICRLowReg)&(1<<12) != 0 {
		// wait for delivery status to clear
	}
}

// SendFixedIPI is a convenience wrapper around SendIPI for ordinary
// fixed-vector interrupts.
func (l *LAPIC) SendFixedIPI(destAPICID, vector uint8) {
	l.SendIPI(destAPICID, vector, icrDeliveryFixed)
}

// SendInitSIPI performs the INIT-SIPI-SIPI sequence used to start an
// application processor at the 4 KiB-aligned trampoline physical address
// trampolinePhys. Not exercised on the single-CPU configuration this kernel
// targets today, but kept so a future SMP bring-up has a ready primitive.
func (l *LAPIC) SendInitSIPI(destAPICID uint8, trampolinePhys uintptr) {
	l.SendIPI(destAPICID, 0, icrDeliveryInit)
	vector := uint8(trampolinePhys >> 12)
	l.SendIPI(destAPICID, vector, icrDeliveryStartup)
	l.SendIPI(destAPICID, vector, icrDeliveryStartup)
}
