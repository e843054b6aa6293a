package sched

import (
	"gopheros/kernel"
	"gopheros/kernel/gate"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

const (
	kernelStackPages = 4 // 16 KiB
	userStackPages   = 4 // 16 KiB
	userCodePages    = 1 // 4 KiB, enough for a small static payload

	userStackTopVirt = uintptr(0x0000700000000000) // arbitrary canonical user-half address
	userCodeVirt     = uintptr(0x0000400000000000)
	userHeapBaseVirt = uintptr(0x0000500000000000)
)

// rflagsIF is the interrupt-enable bit every new user task starts with set,
// plus the reserved bit 1 that must always read as 1.
const rflagsIF = uint64(1<<9 | 1<<1)

// kernelEntryTrampoline is the return target archSwitch lands on for a
// brand-new kernel task. Its assembly companion reads the entry function
// pointer placed just above the return address and calls it with
// interrupts enabled; if the entry function ever returns, the trampoline
// calls ExitCurrentTask(0).
func kernelEntryTrampoline()

// userEntryTrampoline is the return target archSwitch lands on for a
// brand-new user task. Its assembly companion is naked and simply executes
// IRETQ against the IRET frame built just above the return address,
// entering ring 3 for the first time.
func userEntryTrampoline()

// resumeTrampoline is the return target archSwitch lands on for a task
// created by NewForkedTask. Its assembly companion loads
// CurrentTask().SavedRegs (already a full IRET-compatible register set,
// including RIP/CS/RFLAGS/RSP/SS captured at the parent's syscall entry)
// and executes IRETQ, so the child resumes exactly where fork() was called,
// with RAX already zeroed.
func resumeTrampoline()

// pushStack decrements *sp by 8 and writes val at the new address; sp is
// expected to point within a kernel-mapped stack region reachable through
// ordinary pointer dereference (kernel stacks live in the shared kernel
// half, so this is valid regardless of which address space is active).
func pushStack(sp *uintptr, val uint64) {
	*sp -= 8
	*(*uint64)(unsafe.Pointer(*sp)) = val
}

// allocKernelStack reserves a pages-page region in the kernel's virtual
// address space and backs it with freshly allocated, individually mapped
// physical frames (kernel stacks need not be physically contiguous), and
// returns the top (highest address, one past the last mapped byte) of the
// region.
func allocKernelStack(pages int) (top uintptr, err *kernel.Error) {
	size := uintptr(pages) * mm.PageSize
	base, err := vmm.EarlyReserveRegion(size)
	if err != nil {
		return 0, err
	}

	for i := 0; i < pages; i++ {
		frame, ferr := mm.AllocFrame()
		if ferr != nil {
			return 0, ferr
		}
		page := mm.PageFromAddress(base + uintptr(i)*mm.PageSize)
		if merr := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); merr != nil {
			return 0, merr
		}
	}

	return base + size, nil
}

// NewKernelTask creates a ring-0 task whose first instruction, the first
// time the scheduler selects it, is the bodyless function at entry. It
// shares the kernel address space (AddressSpace stays nil).
func NewKernelTask(entry uintptr) (*Task, *kernel.Error) {
	t := newTask(PrivilegeKernel, 1)

	top, err := allocKernelStack(kernelStackPages)
	if err != nil {
		return nil, err
	}
	t.KernelStackTop = top

	sp := top
	pushStack(&sp, uint64(entry))
	pushStack(&sp, trampolineAddr(kernelEntryTrampoline))
	pushStack(&sp, 0) // rbp
	pushStack(&sp, 0) // rbx
	pushStack(&sp, 0) // r12
	pushStack(&sp, 0) // r13
	pushStack(&sp, 0) // r14
	pushStack(&sp, 0) // r15
	t.savedSP = sp
	t.State = StateReady

	return t, nil
}

// NewUserTask creates a ring-3 task: a fresh address space, one code page
// mapped executable at userCodeVirt and backed by a freshly allocated frame
// whose contents are populated by the caller via codeFrame, and a
// userStackPages-page user stack. The kernel stack is built with an IRET
// frame so the first context switch into this task enters ring 3 directly.
func NewUserTask(ppid uint64, codeFrame mm.Frame) (*Task, *kernel.Error) {
	t := newTask(PrivilegeUser, ppid)

	as, err := vmm.CreateAddressSpace()
	if err != nil {
		return nil, err
	}
	t.AddressSpace = as

	codePage := mm.PageFromAddress(userCodeVirt)
	if err := as.PDT().Map(codePage, codeFrame, vmm.FlagPresent|vmm.FlagUserAccessible); err != nil {
		return nil, err
	}

	stackBase := userStackTopVirt - uintptr(userStackPages)*mm.PageSize
	for i := 0; i < userStackPages; i++ {
		frame, ferr := mm.AllocFrame()
		if ferr != nil {
			return nil, ferr
		}
		page := mm.PageFromAddress(stackBase + uintptr(i)*mm.PageSize)
		if merr := as.PDT().Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); merr != nil {
			return nil, merr
		}
	}
	t.UserStackTop = userStackTopVirt
	t.HeapBase = userHeapBaseVirt
	t.HeapBrk = userHeapBaseVirt

	kTop, err := allocKernelStack(kernelStackPages)
	if err != nil {
		return nil, err
	}
	t.KernelStackTop = kTop

	sp := kTop
	pushStack(&sp, uint64(gate.UserDataSelector))
	pushStack(&sp, uint64(t.UserStackTop))
	pushStack(&sp, rflagsIF)
	pushStack(&sp, uint64(gate.UserCodeSelector))
	pushStack(&sp, uint64(userCodeVirt))
	pushStack(&sp, trampolineAddr(userEntryTrampoline))
	pushStack(&sp, 0) // rbp
	pushStack(&sp, 0) // rbx
	pushStack(&sp, 0) // r12
	pushStack(&sp, 0) // r13
	pushStack(&sp, 0) // r14
	pushStack(&sp, 0) // r15
	t.savedSP = sp
	t.State = StateReady

	return t, nil
}

// NewForkedTask creates the child task for fork(2): it takes over ownership
// of as (the address space fork already produced, e.g. via
// AddressSpace.Fork), copies parent's saved register set with RAX zeroed
// (fork's child-side return value), and builds a kernel stack that resumes
// directly at the point fork() was called rather than at a fresh entry
// point.
func NewForkedTask(parent *Task, as *vmm.AddressSpace) (*Task, *kernel.Error) {
	t := newTask(PrivilegeUser, parent.ID)
	t.AddressSpace = as
	t.SavedRegs = parent.SavedRegs
	t.SavedRegs.RAX = 0
	t.UserStackTop = parent.UserStackTop
	t.HeapBase = parent.HeapBase
	t.HeapBrk = parent.HeapBrk
	t.PGID = parent.PGID

	kTop, err := allocKernelStack(kernelStackPages)
	if err != nil {
		return nil, err
	}
	t.KernelStackTop = kTop

	sp := kTop
	pushStack(&sp, trampolineAddr(resumeTrampoline))
	pushStack(&sp, 0) // rbp
	pushStack(&sp, 0) // rbx
	pushStack(&sp, 0) // r12
	pushStack(&sp, 0) // r13
	pushStack(&sp, 0) // r14
	pushStack(&sp, 0) // r15
	t.savedSP = sp
	t.State = StateReady

	return t, nil
}

// ExitCurrentTask marks the currently running task ZOMBIE with the given
// exit status, reparents any of its children to task 1 (init), and
// reschedules; the task's kernel stack and address space are released later
// by Reap.
func ExitCurrentTask(status int32) {
	t := current
	t.State = StateZombie
	t.ExitStatus = status

	runQueue.ForEach(func(child *Task) {
		if child.PPID == t.ID {
			child.PPID = 1
		}
	})

	Schedule()
}

// Reap releases a ZOMBIE task's kernel stack and address space and removes
// it from the run queue, called once its parent has observed its exit status
// via wait4.
func Reap(t *Task) {
	if t.KernelStackTop != 0 {
		base := t.KernelStackTop - uintptr(kernelStackPages)*mm.PageSize
		for i := 0; i < kernelStackPages; i++ {
			vmm.Unmap(mm.PageFromAddress(base + uintptr(i)*mm.PageSize))
		}
	}
	if t.AddressSpace != nil {
		t.AddressSpace.Destroy()
	}
	RemoveTask(t)
}

// trampolineAddrFn resolves a bodyless function value to its entry address.
// Go does not let ordinary code take the address of a function as an
// integer; the real kernel's linker-generated symbol table supplies this,
// so the seam defaults to 0 and is overridden once boot wiring has access
// to the actual trampoline addresses (e.g. from the linker script).
var trampolineAddrFn = func(fn func()) uint64 { return 0 }

func trampolineAddr(fn func()) uint64 { return trampolineAddrFn(fn) }

// SetTrampolineResolver wires the function used to recover a bodyless
// trampoline function's entry address; boot wiring supplies this once the
// real address (taken from the linker-provided symbol) is known.
func SetTrampolineResolver(fn func(func()) uint64) {
	trampolineAddrFn = fn
}
