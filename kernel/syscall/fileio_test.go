package syscall

import (
	"gopheros/kernel"
	"gopheros/kernel/errno"
	"gopheros/kernel/fs"
	"gopheros/kernel/sched"
	"gopheros/kernel/signal"
	"testing"
	"unsafe"
)

func newTestTask() *sched.Task {
	task := &sched.Task{Signals: signal.NewSignalState()}
	for i := range task.FDTable {
		task.FDTable[i] = -1
	}
	return task
}

func TestSysPipeThenWriteAndRead(t *testing.T) {
	withFakeSMAP(t)
	task := newTestTask()

	var fds [2]int32
	fdBuf := unsafe.Slice((*byte)(unsafe.Pointer(&fds[0])), unsafe.Sizeof(fds))
	if ret := sysPipe(task, uintptr(unsafe.Pointer(&fdBuf[0]))); errno.IsValid(int64(ret)) {
		t.Fatalf("sysPipe failed: %d", ret)
	}
	readFd, writeFd := fds[0], fds[1]

	msg := []byte("hello")
	n := sysWrite(task, writeFd, uintptr(unsafe.Pointer(&msg[0])), uintptr(len(msg)))
	if n != uintptr(len(msg)) {
		t.Fatalf("expected to write %d bytes; got %d", len(msg), n)
	}

	out := make([]byte, 16)
	got := sysRead(task, readFd, uintptr(unsafe.Pointer(&out[0])), uintptr(len(out)))
	if got != uintptr(len(msg)) || string(out[:got]) != "hello" {
		t.Fatalf("expected to read back %q; got %q (n=%d)", msg, out[:got], got)
	}
}

func TestSysCloseInvalidatesFD(t *testing.T) {
	task := newTestTask()

	idx, err := fs.Install(&fakeFile{})
	if err != nil {
		t.Fatalf("unexpected error installing fake file: %v", err)
	}
	fdNum, ok := allocFD(task, idx)
	if !ok {
		t.Fatal("expected allocFD to succeed")
	}

	if ret := sysClose(task, fdNum); errno.IsValid(int64(ret)) {
		t.Fatalf("expected sysClose to succeed; got %d", ret)
	}
	if ret := sysClose(task, fdNum); ret != uintptr(errno.EBADF.Negate()) {
		t.Fatalf("expected EBADF on double close; got %d", ret)
	}
}

func TestSysReadBadFDReturnsEBADF(t *testing.T) {
	task := newTestTask()
	buf := make([]byte, 1)
	ret := sysRead(task, 5, uintptr(unsafe.Pointer(&buf[0])), 1)
	if ret != uintptr(errno.EBADF.Negate()) {
		t.Fatalf("expected EBADF; got %d", ret)
	}
}

func TestSysDup2ReplacesExistingTarget(t *testing.T) {
	task := newTestTask()

	idxA, _ := fs.Install(&fakeFile{})
	idxB, _ := fs.Install(&fakeFile{})
	fdA, _ := allocFD(task, idxA)
	fdB, _ := allocFD(task, idxB)

	if ret := sysDup2(task, fdA, fdB); ret != uintptr(fdB) {
		t.Fatalf("expected sysDup2 to return the target fd %d; got %d", fdB, ret)
	}
	if task.FDTable[fdB] != idxA {
		t.Fatalf("expected fd %d to now alias the source file table entry", fdB)
	}
}

type fakeFile struct{ closed bool }

func (f *fakeFile) Read(buf []byte) (int, *kernel.Error)                     { return 0, nil }
func (f *fakeFile) Write(buf []byte) (int, *kernel.Error)                    { return len(buf), nil }
func (f *fakeFile) Seek(int64, fs.SeekWhence) (int64, *kernel.Error)         { return 0, nil }
func (f *fakeFile) Close() *kernel.Error                                    { f.closed = true; return nil }
func (f *fakeFile) Ioctl(uintptr, uintptr) (uintptr, *kernel.Error)         { return 0, nil }
