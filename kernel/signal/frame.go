package signal

import (
	"gopheros/kernel/gate"
	"unsafe"
)

// rtSigreturnNr is the syscall number the embedded trampoline invokes (see
// §6's extended syscall numbering; rt_sigreturn is allocated number 256).
const rtSigreturnNr = 256

// Frame is the structure signal_setup_frame writes to the user stack and
// rt_sigreturn reads back: the full saved register set, the blocked mask in
// effect before delivery, the delivered signal, its siginfo payload, and a
// tiny embedded trampoline so the handler's own "ret" lands on code that
// invokes rt_sigreturn.
type Frame struct {
	Regs        gate.Registers
	BlockedMask uint64
	Signo       Signal
	Info        Siginfo
	trampoline  [9]byte
}

var (
	// writeUserFn copies a Frame's bytes into user memory with SMAP
	// disabled; readUserFn is its inverse. Both default to "no user
	// memory access available" until kernel/syscall.Init wires in the
	// real SMAP-bracketed accessor via SetUserMemoryFuncs.
	writeUserFn = func(addr uintptr, data []byte) bool { return false }
	readUserFn  = func(addr uintptr, data []byte) bool { return false }
)

// SetUserMemoryFuncs registers the SMAP-bracketed user-memory accessors used
// to copy signal frames to and from the user stack. kernel/syscall calls
// this during its own Init, after kernel/signal but before any task runs in
// ring 3.
func SetUserMemoryFuncs(write, read func(addr uintptr, data []byte) bool) {
	writeUserFn = write
	readUserFn = read
}

func buildTrampoline(nr uint32) [9]byte {
	var b [9]byte
	b[0] = 0x48 // REX.W
	b[1] = 0xc7
	b[2] = 0xc0 // mov rax, imm32 (sign-extended)
	b[3] = byte(nr)
	b[4] = byte(nr >> 8)
	b[5] = byte(nr >> 16)
	b[6] = byte(nr >> 24)
	b[7] = 0x0f
	b[8] = 0x05 // syscall
	return b
}

func align16(addr uintptr) uintptr {
	return addr &^ 0xf
}

func frameBytes(f *Frame) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(f)), unsafe.Sizeof(*f))
}

// SetupFrame implements signal_setup_frame: it computes the 16-byte-aligned
// frame address below the user stack (or the alternate stack, if the
// disposition carries SA_ONSTACK and one is registered and not already in
// use), saves regs and the pre-delivery blocked mask into a Frame, copies it
// into user memory, updates the blocked mask per ApplyDeliveryMask, and
// rewrites regs so the syscall/IRQ return path resumes in the handler with
// the frame as its stack and the signal number in RDI.
//
// regs is mutated in place and is expected to be the task's saved
// syscall/IRQ entry register snapshot.
func SetupFrame(s *SignalState, regs *gate.Registers, sig Signal, info *Siginfo) bool {
	action := s.GetAction(sig)

	userRSP := uintptr(regs.RSP)
	usingAltStack := s.AltStack.Enabled && !s.AltStack.OnStack && action.Flags&SAOnStack != 0
	if usingAltStack {
		userRSP = s.AltStack.Addr + s.AltStack.Size
	}

	frameAddr := align16(userRSP - unsafe.Sizeof(Frame{}))

	var frame Frame
	frame.Regs = *regs
	frame.Signo = sig
	if info != nil {
		frame.Info = *info
	}
	frame.trampoline = buildTrampoline(rtSigreturnNr)
	frame.BlockedMask = ApplyDeliveryMask(s, sig)

	if !writeUserFn(frameAddr, frameBytes(&frame)) {
		return false
	}

	if usingAltStack {
		s.AltStack.OnStack = true
	}
	s.SavedFrameAddr = frameAddr

	regs.RIP = uint64(action.Handler)
	regs.RSP = uint64(frameAddr)
	regs.RDI = uint64(sig)
	return true
}

// RestoreFrame implements rt_sigreturn: it reads the frame back from
// s.SavedFrameAddr, restores every register (including the original RAX, so
// a syscall interrupted mid-flight returns its pre-signal value), restores
// the blocked mask, and clears the saved frame address. Returns false if no
// frame was pending or the user-memory read failed.
func RestoreFrame(s *SignalState, regs *gate.Registers) bool {
	if s.SavedFrameAddr == 0 {
		return false
	}

	var frame Frame
	if !readUserFn(s.SavedFrameAddr, frameBytes(&frame)) {
		return false
	}

	*regs = frame.Regs
	s.Blocked = frame.BlockedMask
	s.SavedFrameAddr = 0
	if s.AltStack.Enabled {
		s.AltStack.OnStack = false
	}
	return true
}
