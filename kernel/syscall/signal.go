package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/sched"
	"gopheros/kernel/signal"
	"unsafe"
)

// userSigaction is struct sigaction's user-visible layout. sysRtSigaction
// copies it to and from kernel/signal.Action field by field, since Action
// keeps these values in its own layout.
type userSigaction struct {
	Handler  uintptr
	Flags    uint32
	_        uint32
	Restorer uintptr
	Mask     uint64
}

func bytesOf(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), size)
}

// sendSignal posts sig to target's signal state, matching kill(2)/raise's
// delivery semantics through kernel/signal.Send.
func sendSignal(target *sched.Task, sig int) signal.SendResult {
	return signal.Send(target.Signals, signal.Signal(sig), nil)
}

func sysRtSigaction(t *sched.Task, sig, newAct, oldAct uintptr) uintptr {
	s := signal.Signal(sig)
	if signal.Uncatchable(s) {
		return fail(errno.EINVAL)
	}

	if oldAct != 0 {
		cur := t.Signals.GetAction(s)
		var u userSigaction
		u.Handler = cur.Handler
		u.Flags = cur.Flags
		u.Restorer = cur.Restorer
		u.Mask = cur.Mask
		if !UserWrite(oldAct, bytesOf(unsafe.Pointer(&u), unsafe.Sizeof(u))) {
			return fail(errno.EFAULT)
		}
	}

	if newAct != 0 {
		var u userSigaction
		if !UserRead(newAct, bytesOf(unsafe.Pointer(&u), unsafe.Sizeof(u))) {
			return fail(errno.EFAULT)
		}
		switch u.Handler {
		case 0: // SIG_DFL
			t.Signals.SetAction(s, signal.DefaultAction())
		case 1: // SIG_IGN
			t.Signals.SetAction(s, signal.IgnoreAction())
		default:
			t.Signals.SetAction(s, signal.HandlerAction(u.Handler, u.Flags, u.Mask))
		}
	}
	return ret(0)
}

// sigprocmaskHow mirrors the how argument to rt_sigprocmask(2).
const (
	sigBlock = iota
	sigUnblock
	sigSetMask
)

func sysRtSigprocmask(t *sched.Task, how, set, oldSet uintptr) uintptr {
	if oldSet != 0 {
		var buf [8]byte
		mask := t.Signals.Blocked
		for i := range buf {
			buf[i] = byte(mask >> (8 * uint(i)))
		}
		if !UserWrite(oldSet, buf[:]) {
			return fail(errno.EFAULT)
		}
	}

	if set == 0 {
		return ret(0)
	}

	var buf [8]byte
	if !UserRead(set, buf[:]) {
		return fail(errno.EFAULT)
	}
	var newMask uint64
	for i := range buf {
		newMask |= uint64(buf[i]) << (8 * uint(i))
	}

	switch how {
	case sigBlock:
		t.Signals.Blocked |= newMask
	case sigUnblock:
		t.Signals.Blocked &^= newMask
	case sigSetMask:
		t.Signals.Blocked = newMask
	default:
		return fail(errno.EINVAL)
	}
	return ret(0)
}

func sysRtSigpending(t *sched.Task, set uintptr) uintptr {
	var buf [8]byte
	mask := t.Signals.Pending
	for i := range buf {
		buf[i] = byte(mask >> (8 * uint(i)))
	}
	if !UserWrite(set, buf[:]) {
		return fail(errno.EFAULT)
	}
	return ret(0)
}

func sysRtSigsuspend(t *sched.Task, maskPtr uintptr) uintptr {
	var buf [8]byte
	if !UserRead(maskPtr, buf[:]) {
		return fail(errno.EFAULT)
	}
	var tempMask uint64
	for i := range buf {
		tempMask |= uint64(buf[i]) << (8 * uint(i))
	}

	saved := t.Signals.Blocked
	t.Signals.Blocked = tempMask
	for {
		if _, ok := signal.NextDeliverable(t.Signals); ok {
			t.Signals.Blocked = saved
			return fail(errno.EINTR)
		}
		sched.Yield()
	}
}

func sysSigaltstack(t *sched.Task, newStack, oldStack uintptr) uintptr {
	if oldStack != 0 {
		var buf [24]byte
		putU64(buf[0:], uint64(t.Signals.AltStack.Addr))
		putU64(buf[8:], boolToFlag(t.Signals.AltStack.OnStack))
		putU64(buf[16:], uint64(t.Signals.AltStack.Size))
		if !UserWrite(oldStack, buf[:]) {
			return fail(errno.EFAULT)
		}
	}
	if newStack != 0 {
		var buf [24]byte
		if !UserRead(newStack, buf[:]) {
			return fail(errno.EFAULT)
		}
		t.Signals.AltStack.Addr = uintptr(getU64(buf[0:]))
		t.Signals.AltStack.Size = uintptr(getU64(buf[16:]))
		t.Signals.AltStack.Enabled = true
	}
	return ret(0)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func boolToFlag(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func sysAlarm(t *sched.Task, seconds uintptr) uintptr {
	prevInitial, _ := signal.SetITimer(t.Signals, signal.ITimerReal, uint64(seconds)*100, 0)
	return ret(prevInitial / 100)
}

func sysSetitimer(t *sched.Task, which, newVal, oldVal uintptr) uintptr {
	if which > 2 {
		return fail(errno.EINVAL)
	}
	var newBuf [16]byte
	if !UserRead(newVal, newBuf[:]) {
		return fail(errno.EFAULT)
	}
	interval := getU64(newBuf[0:])
	initial := getU64(newBuf[8:])

	prevInitial, prevInterval := signal.SetITimer(t.Signals, int(which), initial, interval)
	if oldVal != 0 {
		var buf [16]byte
		putU64(buf[0:], prevInterval)
		putU64(buf[8:], prevInitial)
		if !UserWrite(oldVal, buf[:]) {
			return fail(errno.EFAULT)
		}
	}
	return ret(0)
}

func sysGetitimer(t *sched.Task, which, curVal uintptr) uintptr {
	if which > 2 {
		return fail(errno.EINVAL)
	}
	timer := t.Signals.ITimers[which]
	var buf [16]byte
	putU64(buf[0:], timer.Interval)
	putU64(buf[8:], timer.NextTick)
	if !UserWrite(curVal, buf[:]) {
		return fail(errno.EFAULT)
	}
	return ret(0)
}

func sysPause(t *sched.Task) uintptr {
	for {
		if _, ok := signal.NextDeliverable(t.Signals); ok {
			return fail(errno.EINTR)
		}
		sched.Yield()
	}
}

func sysRtSigreturn(t *sched.Task) uintptr {
	if !signal.RestoreFrame(t.Signals, &t.SavedRegs) {
		return fail(errno.EINVAL)
	}
	return ret(uintptr(t.SavedRegs.RAX))
}
