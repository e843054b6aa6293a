package syscall

import (
	"gopheros/kernel/cpu"
	"gopheros/kernel/gate"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/sched"
	"gopheros/kernel/signal"
)

// rflagsSyscallMask clears IF (and TF/DF/IOPL) in the copy of RFLAGS the CPU
// loads on SYSCALL entry, matching the convention every other entry path in
// this kernel follows: interrupts stay off until the stub has finished
// switching onto the task's kernel stack and saving its register set.
const rflagsSyscallMask = uint32(1<<9 | 1<<8 | 3<<12 | 1<<10)

// entryFn resolves syscallEntry's bodyless, assembly-backed address; boot
// wiring overrides it once the linker-provided symbol address is known,
// mirroring kernel/sched's trampolineAddrFn seam.
var entryFn = func() uintptr { return 0 }

// syscallEntry is the SYSCALL instruction's target, set via IA32_LSTAR. Its
// assembly companion switches onto CurrentTask()'s kernel stack, saves the
// user register set into SavedRegs, re-enables interrupts, and calls
// Dispatch with (nr, arg1..arg5), before restoring registers (possibly
// rewritten by a just-delivered signal) and executing SYSRET.
func syscallEntry()

// Init programs the SYSCALL/SYSRET MSRs, registers the page-fault fixup
// table with kernel/mm/vmm, and wires kernel/signal's user-memory accessors
// to UserWrite/UserRead. Called once during kernel startup after the GDT is
// live.
func Init() {
	cpu.SetupSyscallMSRs(entryFn(), gate.KernelCodeSelector, gate.UserDataSelector, rflagsSyscallMask)
	vmm.SetKernelFixupFunc(lookupFixup)
	signal.SetUserMemoryFuncs(UserWrite, UserRead)
}

// SetEntryResolver overrides how syscallEntry's address is recovered; boot
// wiring supplies the real linker-provided address.
func SetEntryResolver(fn func() uintptr) {
	entryFn = fn
}

// Return is called by the entry stub's Go-reachable tail, after Dispatch
// returns a result for RAX, to apply slice-accounting and signal delivery
// before SYSRET. It returns true if regs were rewritten to enter a signal
// handler (the stub must not restore the original RAX/RIP/RSP in that
// case — SavedRegs already holds the new ones).
func Return(t *sched.Task) bool {
	sched.Tick()

	sig, ok := signal.NextDeliverable(t.Signals)
	if !ok {
		return false
	}
	return signal.SetupFrame(t.Signals, &t.SavedRegs, sig, nil)
}
