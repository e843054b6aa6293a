package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/sched"
	"testing"
)

func TestRetAndFailEncodeRAXAsLinuxExpects(t *testing.T) {
	if ret(42) != 42 {
		t.Fatalf("expected ret(42) to pass the value through unchanged")
	}
	if got := fail(errno.EBADF); got != uintptr(errno.EBADF.Negate()) {
		t.Fatalf("expected fail(EBADF) to encode -EBADF; got %d", got)
	}
}

func TestDispatchSchedYieldReturnsZero(t *testing.T) {
	idle := newSchedTestTask(0)
	// sched.Init is required before sched.Yield touches the run queue;
	// idle is left as the only runnable task so Schedule's no-op path is
	// taken and no real context switch is attempted.
	sched.Init(idle)
	task := newSchedTestTask(1)

	if got := Dispatch(SysSchedYield, 0, 0, 0, 0, 0, task); got != 0 {
		t.Fatalf("expected sched_yield to return 0; got %d", got)
	}
}

func TestDispatchGetpidAndGetppid(t *testing.T) {
	task := newSchedTestTask(1)
	task.PPID = 1

	if got := Dispatch(SysGetpid, 0, 0, 0, 0, 0, task); got != 1 {
		t.Fatalf("expected getpid to return 1; got %d", got)
	}
	if got := Dispatch(SysGetppid, 0, 0, 0, 0, 0, task); got != 1 {
		t.Fatalf("expected getppid to return 1; got %d", got)
	}
}

func TestDispatchUnimplementedExtendedSyscallsReportENOSYS(t *testing.T) {
	task := newSchedTestTask(1)

	for _, nr := range []Number{SysOpen, SysExecve, SysStat, SysGetuid, SysNanosleep} {
		if got := Dispatch(nr, 0, 0, 0, 0, 0, task); got != uintptr(errno.ENOSYS.Negate()) {
			t.Fatalf("expected syscall %d to report ENOSYS; got %d", nr, got)
		}
	}
}

func TestDispatchLseekReportsESPIPE(t *testing.T) {
	task := newSchedTestTask(1)
	if got := Dispatch(SysLseek, 0, 0, 0, 0, 0, task); got != uintptr(errno.ESPIPE.Negate()) {
		t.Fatalf("expected lseek to report ESPIPE; got %d", got)
	}
}
