package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/sched"
	"gopheros/kernel/signal"
	"testing"
	"unsafe"
)

func newSchedTestTask(id uint64) *sched.Task {
	return &sched.Task{ID: id, Signals: signal.NewSignalState()}
}

func TestSysWait4ReapsZombieChildAndReportsStatus(t *testing.T) {
	withFakeSMAP(t)
	idle := newSchedTestTask(0)
	sched.Init(idle)

	parent := newSchedTestTask(1)
	child := newSchedTestTask(2)
	child.PPID = parent.ID
	sched.AddTask(child)
	child.State = sched.StateZombie
	child.ExitStatus = 7

	var status uint32
	ret := sysWait4(parent, 0, uintptr(unsafe.Pointer(&status)))
	if ret != uintptr(child.ID) {
		t.Fatalf("expected wait4 to return the reaped child's pid %d; got %d", child.ID, ret)
	}
	if status>>8 != 7 {
		t.Fatalf("expected exit status 7 encoded in bits 8-15; got %#x", status)
	}
}

func TestSysWait4ReturnsECHILDWithNoChildren(t *testing.T) {
	idle := newSchedTestTask(0)
	sched.Init(idle)

	parent := newSchedTestTask(1)
	if ret := sysWait4(parent, 0, 0); ret != uintptr(errno.ECHILD.Negate()) {
		t.Fatalf("expected ECHILD; got %d", ret)
	}
}

func TestSysKillUnknownPidReturnsESRCH(t *testing.T) {
	idle := newSchedTestTask(0)
	sched.Init(idle)

	caller := newSchedTestTask(1)
	if ret := sysKill(caller, 999, 9); ret != uintptr(errno.ESRCH.Negate()) {
		t.Fatalf("expected ESRCH; got %d", ret)
	}
}

func TestSysKillWakesBlockedTarget(t *testing.T) {
	idle := newSchedTestTask(0)
	sched.Init(idle)

	caller := newSchedTestTask(1)
	target := newSchedTestTask(2)
	sched.AddTask(target)
	target.State = sched.StateBlocked

	// SIGCONT (18) is the only signal whose default Send behavior this
	// test exercises without a custom handler installed.
	if ret := sysKill(caller, 2, 18); errno.IsValid(int64(ret)) {
		t.Fatalf("expected sysKill to succeed; got %d", ret)
	}
	if target.State != sched.StateReady {
		t.Fatalf("expected the blocked target to be woken to READY; got %v", target.State)
	}
}
