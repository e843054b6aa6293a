package syscall

import (
	"gopheros/kernel"
	"gopheros/kernel/errno"
	"gopheros/kernel/fs"
	"gopheros/kernel/sched"
	"gopheros/kernel/signal"
)

const maxIOChunk = 4096

func fdFor(t *sched.Task, fd int32) (int32, bool) {
	if fd < 0 || int(fd) >= len(t.FDTable) || t.FDTable[fd] < 0 {
		return 0, false
	}
	return t.FDTable[fd], true
}

func sysRead(t *sched.Task, fd int32, bufPtr, count uintptr) uintptr {
	idx, ok := fdFor(t, fd)
	if !ok {
		return fail(errno.EBADF)
	}
	f, ferr := fs.Lookup(idx)
	if ferr != nil {
		return fail(errno.EBADF)
	}

	if count > maxIOChunk {
		count = maxIOChunk
	}
	chunk := make([]byte, count)

	for {
		n, rerr := f.Read(chunk)
		if rerr == nil {
			if n > 0 && !UserWrite(bufPtr, chunk[:n]) {
				return fail(errno.EFAULT)
			}
			return ret(uintptr(n))
		}
		if !isWouldBlock(rerr) {
			return fail(errno.EIO)
		}
		if interrupted(t) {
			return fail(errno.EINTR)
		}
		sched.Yield()
	}
}

func sysWrite(t *sched.Task, fd int32, bufPtr, count uintptr) uintptr {
	idx, ok := fdFor(t, fd)
	if !ok {
		return fail(errno.EBADF)
	}
	f, ferr := fs.Lookup(idx)
	if ferr != nil {
		return fail(errno.EBADF)
	}

	if count > maxIOChunk {
		count = maxIOChunk
	}
	chunk := make([]byte, count)
	if !UserRead(bufPtr, chunk) {
		return fail(errno.EFAULT)
	}

	total := 0
	for total < len(chunk) {
		n, werr := f.Write(chunk[total:])
		if werr != nil {
			if isWouldBlock(werr) {
				if interrupted(t) {
					break
				}
				sched.Yield()
				continue
			}
			if total > 0 {
				break
			}
			return fail(errno.EIO)
		}
		total += n
	}
	return ret(uintptr(total))
}

func sysClose(t *sched.Task, fd int32) uintptr {
	idx, ok := fdFor(t, fd)
	if !ok {
		return fail(errno.EBADF)
	}
	t.FDTable[fd] = -1
	if err := fs.Release(idx); err != nil {
		return fail(errno.EBADF)
	}
	return ret(0)
}

func sysPipe(t *sched.Task, fdsPtr uintptr) uintptr {
	r, w := fs.NewPipe()
	rIdx, err := fs.Install(r)
	if err != nil {
		return fail(errno.EMFILE)
	}
	wIdx, err := fs.Install(w)
	if err != nil {
		fs.Release(rIdx)
		return fail(errno.EMFILE)
	}

	rFd, ok1 := allocFD(t, rIdx)
	wFd, ok2 := allocFD(t, wIdx)
	if !ok1 || !ok2 {
		fs.Release(rIdx)
		fs.Release(wIdx)
		return fail(errno.EMFILE)
	}

	var buf [8]byte
	buf[0], buf[1], buf[2], buf[3] = byte(rFd), byte(rFd>>8), byte(rFd>>16), byte(rFd>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(wFd), byte(wFd>>8), byte(wFd>>16), byte(wFd>>24)
	if !UserWrite(fdsPtr, buf[:]) {
		return fail(errno.EFAULT)
	}
	return ret(0)
}

func allocFD(t *sched.Task, idx int32) (int32, bool) {
	for i := range t.FDTable {
		if t.FDTable[i] < 0 {
			t.FDTable[i] = idx
			return int32(i), true
		}
	}
	return 0, false
}

func sysDup(t *sched.Task, fd int32) uintptr {
	idx, ok := fdFor(t, fd)
	if !ok {
		return fail(errno.EBADF)
	}
	newFd, ok := allocFD(t, idx)
	if !ok {
		return fail(errno.EMFILE)
	}
	fs.Dup(idx)
	return ret(uintptr(newFd))
}

func sysDup2(t *sched.Task, oldFd, newFd int32) uintptr {
	idx, ok := fdFor(t, oldFd)
	if !ok {
		return fail(errno.EBADF)
	}
	if newFd < 0 || int(newFd) >= len(t.FDTable) {
		return fail(errno.EBADF)
	}
	if t.FDTable[newFd] >= 0 {
		fs.Release(t.FDTable[newFd])
	}
	t.FDTable[newFd] = idx
	fs.Dup(idx)
	return ret(uintptr(newFd))
}

func isWouldBlock(err *kernel.Error) bool { return err == fs.ErrWouldBlock }

func interrupted(t *sched.Task) bool {
	_, ok := signal.NextDeliverable(t.Signals)
	return ok
}
