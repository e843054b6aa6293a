package sched

import (
	"gopheros/kernel/gate"
)

// SchedSliceTicks is the number of timer ticks a task runs before the
// scheduler forces a switch, at the kernel's 100 Hz tick rate (10 ticks ==
// 100 ms).
const SchedSliceTicks = 10

var (
	runQueue List
	current  *Task
	idle     *Task

	sliceCounter uint32

	// archSwitchFn and setKernelStackFn are overridden in tests; in the
	// real kernel archSwitchFn is the bodyless, assembly-backed
	// context-switch primitive.
	archSwitchFn     = archSwitch
	setKernelStackFn = gate.SetKernelStack
)

// archSwitch saves the outgoing task's callee-saved registers (RBP, RBX,
// R12-R15) and return address onto its kernel stack, records the resulting
// stack pointer at *prevSP, loads nextSP into RSP, pops the same register
// set, and returns — so that the next instruction executed is whatever
// return address the incoming task's stack was primed with (either the
// point it last yielded from, or, for a brand new task, the trampoline
// built by NewUserTask/NewKernelTask).
func archSwitch(prevSP *uintptr, nextSP uintptr)

// Init installs idleTask as both the run queue's sole initial member and
// the fallback chosen when nothing else is runnable, and makes it the
// current task.
func Init(idleTask *Task) {
	idleTask.State = StateRunning
	runQueue = List{}
	runQueue.Add(idleTask)
	idle = idleTask
	current = idleTask
}

// CurrentTask returns the task presently selected as RUNNING.
func CurrentTask() *Task { return current }

// AddTask inserts t into the run queue as READY.
func AddTask(t *Task) {
	t.State = StateReady
	runQueue.Add(t)
}

// RemoveTask unlinks t from the run queue, e.g. once it has been reaped.
func RemoveTask(t *Task) {
	runQueue.Remove(t)
}

// Walk invokes visit once for every task currently in the run queue,
// including the idle task and any ZOMBIE tasks awaiting reaping.
func Walk(visit func(*Task)) {
	runQueue.ForEach(visit)
}

// Tick is invoked by the timer IRQ handler once per 100 Hz tick. It
// advances the slice counter and, once SchedSliceTicks have elapsed,
// invokes Schedule to potentially switch tasks. Returns true if a switch
// occurred.
func Tick() bool {
	sliceCounter++
	if sliceCounter < SchedSliceTicks {
		return false
	}
	sliceCounter = 0
	return Schedule()
}

// Yield forces an immediate reschedule regardless of the slice counter,
// implementing sched_yield(). Returns true if a different task was
// selected.
func Yield() bool {
	sliceCounter = 0
	return Schedule()
}

// Schedule picks the next runnable task via round-robin and, if it differs
// from the currently running one, performs a context switch: the outgoing
// RUNNING task (if not already BLOCKED/STOPPED/ZOMBIE) becomes READY, the
// incoming task becomes RUNNING, its address space (if different) is
// activated, TSS.RSP0 is updated to its kernel stack top, and control
// transfers via archSwitch.
func Schedule() bool {
	next := runQueue.PickNext(idle)
	prev := current
	if next == prev {
		return false
	}

	if prev.State == StateRunning {
		prev.State = StateReady
	}
	next.State = StateRunning

	if next.AddressSpace != prev.AddressSpace {
		switchAddressSpace(next)
	}
	setKernelStackFn(next.KernelStackTop)

	runQueue.SetCursor(next)
	current = next

	archSwitchFn(&prev.savedSP, next.savedSP)
	return true
}

// switchAddressSpaceFn is overridden in tests; it defaults to activating
// next's own address space, or falling back to whatever is already active
// for a kernel task (nil AddressSpace, which shares the kernel half with
// every other task and never needs its own PML4).
var switchAddressSpaceFn = func(next *Task) {
	if next.AddressSpace != nil {
		next.AddressSpace.SwitchTo()
	}
}

func switchAddressSpace(next *Task) { switchAddressSpaceFn(next) }
