package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/signal"
	"testing"
	"unsafe"
)

func TestSysRtSigactionSetThenGet(t *testing.T) {
	withFakeSMAP(t)
	task := newSchedTestTask(1)

	var set userSigaction
	set.Handler = 0xdeadbeef
	set.Mask = 0x3

	if ret := sysRtSigaction(task, uintptr(signal.SIGUSR1), uintptr(unsafe.Pointer(&set)), 0); errno.IsValid(int64(ret)) {
		t.Fatalf("expected sysRtSigaction set to succeed; got %d", ret)
	}

	var got userSigaction
	if ret := sysRtSigaction(task, uintptr(signal.SIGUSR1), 0, uintptr(unsafe.Pointer(&got))); errno.IsValid(int64(ret)) {
		t.Fatalf("expected sysRtSigaction get to succeed; got %d", ret)
	}
	if got.Handler != set.Handler || got.Mask != set.Mask {
		t.Fatalf("expected the installed action to read back; got %+v", got)
	}
}

func TestSysRtSigactionRejectsUncatchableSignal(t *testing.T) {
	task := newSchedTestTask(1)
	if ret := sysRtSigaction(task, uintptr(signal.SIGKILL), 0, 0); ret != uintptr(errno.EINVAL.Negate()) {
		t.Fatalf("expected EINVAL for SIGKILL; got %d", ret)
	}
}

func TestSysRtSigprocmaskBlockThenUnblock(t *testing.T) {
	withFakeSMAP(t)
	task := newSchedTestTask(1)

	var mask uint64 = 1 << (uint(signal.SIGUSR1) - 1)
	if ret := sysRtSigprocmask(task, sigBlock, uintptr(unsafe.Pointer(&mask)), 0); errno.IsValid(int64(ret)) {
		t.Fatalf("expected block to succeed; got %d", ret)
	}
	if task.Signals.Blocked&mask == 0 {
		t.Fatal("expected SIGUSR1 to be blocked")
	}

	if ret := sysRtSigprocmask(task, sigUnblock, uintptr(unsafe.Pointer(&mask)), 0); errno.IsValid(int64(ret)) {
		t.Fatalf("expected unblock to succeed; got %d", ret)
	}
	if task.Signals.Blocked&mask != 0 {
		t.Fatal("expected SIGUSR1 to be unblocked")
	}
}

func TestSysRtSigpendingReportsAPendingSignal(t *testing.T) {
	withFakeSMAP(t)
	task := newSchedTestTask(1)

	signal.Send(task.Signals, signal.SIGUSR1, nil)

	var pending uint64
	if ret := sysRtSigpending(task, uintptr(unsafe.Pointer(&pending))); errno.IsValid(int64(ret)) {
		t.Fatalf("expected sysRtSigpending to succeed; got %d", ret)
	}
	if pending&(1<<(uint(signal.SIGUSR1)-1)) == 0 {
		t.Fatalf("expected SIGUSR1 to be reported pending; got mask %#x", pending)
	}
}

func TestSysAlarmReturnsPreviousRemaining(t *testing.T) {
	task := newSchedTestTask(1)
	if ret := sysAlarm(task, 5); ret != 0 {
		t.Fatalf("expected the first sysAlarm call to report 0 previously-armed seconds; got %d", ret)
	}
	if ret := sysAlarm(task, 10); ret == 0 {
		t.Fatal("expected the second sysAlarm call to report the first alarm's remaining time")
	}
}
