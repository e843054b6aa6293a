// Package sched implements the kernel's single-CPU task model: the Task
// struct, the circular run queue, round-robin picking with timer-driven
// preemption, and user-task creation.
package sched

import (
	"gopheros/kernel/gate"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/signal"
)

// State is one of a Task's lifecycle states.
type State uint8

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateStopped
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateBlocked:
		return "BLOCKED"
	case StateStopped:
		return "STOPPED"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Privilege distinguishes a kernel task (no user address space, always runs
// in ring 0) from a user task.
type Privilege uint8

const (
	PrivilegeKernel Privilege = iota
	PrivilegeUser
)

// maxOpenFiles bounds the per-task file-descriptor table; it indexes into
// whatever open-file table kernel/fs maintains. kernel/sched does not know
// about file contents, only that an fd is either free (-1) or an index.
const maxOpenFiles = 64

// Task is the kernel's unit of scheduling, matching the Task entity: a
// numeric id, parent/process-group ids, a privilege level, a lifecycle
// state, a saved stack pointer for context switching, an owning address
// space (nil for kernel tasks, which run entirely against the shared kernel
// half), user/kernel stack tops, an fd table, signal state, a saved
// register set, an exit status, and a wait channel.
type Task struct {
	ID    uint64
	PGID  uint64
	PPID  uint64

	Privilege Privilege
	State     State

	// savedSP is the stack pointer saved by archSwitch when this task was
	// last switched away from. Only the scheduler touches it.
	savedSP uintptr

	AddressSpace *vmm.AddressSpace

	UserStackTop   uintptr
	KernelStackTop uintptr

	// HeapBase and HeapBrk track the user-mode brk(2) heap: HeapBase is
	// fixed at task creation, HeapBrk is the current break and only ever
	// moves within pages kernel/syscall has mapped.
	HeapBase uintptr
	HeapBrk  uintptr

	FDTable [maxOpenFiles]int32

	Signals *signal.SignalState

	// SavedRegs is the register set saved on syscall/IRQ entry; signal
	// delivery and rt_sigreturn mutate it directly.
	SavedRegs gate.Registers

	ExitStatus int32

	// WaitChannel is an opaque token identifying what this task is
	// BLOCKED on (e.g. a pipe's buffer address, or the address of the
	// parent Task being wait4'd). A task is only ever woken by whichever
	// code owns the resource the channel identifies.
	WaitChannel uintptr

	// next links this task into the circular run queue.
	next *Task
}

// nextTaskID backs allocTaskID, which hands out monotonically increasing
// task ids starting at 1 (pid 1 is conventionally init); tests reset it.
var nextTaskID uint64

func allocTaskID() uint64 {
	nextTaskID++
	return nextTaskID
}

// newTask returns a Task with its fd table cleared to "no entry" (-1), a
// freshly allocated id, ppid as its parent, and its own blank signal state.
func newTask(priv Privilege, ppid uint64) *Task {
	t := &Task{
		ID:        allocTaskID(),
		PPID:      ppid,
		PGID:      ppid,
		Privilege: priv,
		State:     StateNew,
		Signals:   signal.NewSignalState(),
	}
	for i := range t.FDTable {
		t.FDTable[i] = -1
	}
	return t
}
