package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/sched"
)

// ret packages a successful non-negative syscall result for return in RAX.
func ret(v uintptr) uintptr { return v }

// fail packages a negative-errno syscall result for return in RAX.
func fail(e errno.Errno) uintptr { return uintptr(e.Negate()) }

// Dispatch is the syscall gate's single entry point, invoked by
// syscallEntry's assembly companion with the number and five arguments
// exactly as SYSCALL delivered them (RDI, RSI, RDX, R10, R8). t is
// always sched.CurrentTask() at the time of the call.
func Dispatch(nr Number, a1, a2, a3, a4, a5 uintptr, t *sched.Task) uintptr {
	switch nr {
	case SysRead:
		return sysRead(t, int32(a1), a2, a3)
	case SysWrite:
		return sysWrite(t, int32(a1), a2, a3)
	case SysOpen:
		return fail(errno.ENOSYS) // no named filesystem backend yet
	case SysClose:
		return sysClose(t, int32(a1))
	case SysLseek:
		return fail(errno.ESPIPE)
	case SysMmap:
		return sysMmap(t, a1, a2)
	case SysMunmap:
		return sysMunmap(a1, a2)
	case SysBrk:
		return sysBrk(t, a1)
	case SysPipe:
		return sysPipe(t, a1)
	case SysSchedYield:
		sched.Yield()
		return ret(0)
	case SysDup:
		return sysDup(t, int32(a1))
	case SysDup2:
		return sysDup2(t, int32(a1), int32(a2))
	case SysGetpid:
		return ret(uintptr(t.ID))
	case SysGetppid:
		return ret(uintptr(t.PPID))
	case SysFork:
		return sysFork(t)
	case SysExecve:
		return fail(errno.ENOSYS) // no ELF loader wired in yet
	case SysExit:
		sched.ExitCurrentTask(int32(a1))
		return ret(0)
	case SysWait4:
		return sysWait4(t, a1, a2)
	case SysKill:
		return sysKill(t, a1, a2)

	case SysRtSigaction:
		return sysRtSigaction(t, a1, a2, a3)
	case SysRtSigprocmask:
		return sysRtSigprocmask(t, a1, a2, a3)
	case SysRtSigpending:
		return sysRtSigpending(t, a1)
	case SysRtSigsuspend:
		return sysRtSigsuspend(t, a1)
	case SysSigaltstack:
		return sysSigaltstack(t, a1, a2)
	case SysAlarm:
		return sysAlarm(t, a1)
	case SysSetitimer:
		return sysSetitimer(t, a1, a2, a3)
	case SysGetitimer:
		return sysGetitimer(t, a1, a2)
	case SysPause:
		return sysPause(t)
	case SysRtSigreturn:
		return sysRtSigreturn(t)

	case SysStat, SysLstat, SysFstat, SysAccess, SysChdir, SysGetcwd,
		SysGetuid, SysGetgid, SysSethost, SysUname, SysTime, SysGtod,
		SysFsync, SysFtrunc, SysFcntl, SysIoctl, SysSetpgid, SysGetpgrp,
		SysTcsetpgr, SysUnlink, SysRename, SysMkdir, SysRmdir, SysLink,
		SysSymlink, SysReadlink, SysChmod, SysFchmod, SysChown, SysFchown,
		SysGetdents, SysRtSigtimedwait, SysRtSigqueueinfo, SysTimerCreate,
		SysTimerSettime, SysTimerGettime, SysTimerGetover, SysTimerDelete,
		SysNanosleep, SysClockGettime, SysClockGetres:
		// Named in the ABI surface but not yet backed by kernel/fs's
		// still-nameless-filesystem or kernel/signal's POSIX timer table
		// wiring; report "not implemented" rather than silently
		// succeeding.
		return fail(errno.ENOSYS)

	default:
		return fail(errno.ENOSYS)
	}
}

func sysMmap(t *sched.Task, lengthHint, protFlags uintptr) uintptr {
	size := (lengthHint + mm.PageSize - 1) &^ (mm.PageSize - 1)
	if size == 0 {
		return fail(errno.EINVAL)
	}

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if protFlags&0x2 != 0 { // PROT_WRITE
		flags |= vmm.FlagRW
	}
	if protFlags&0x4 == 0 { // !PROT_EXEC
		flags |= vmm.FlagNoExecute
	}

	pageCount := size / mm.PageSize
	var startPage mm.Page
	for i := uintptr(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return fail(errno.ENOMEM)
		}
		page, merr := vmm.MapRegion(frame, mm.PageSize, flags)
		if merr != nil {
			return fail(errno.ENOMEM)
		}
		if i == 0 {
			startPage = page
		}
	}
	return ret(startPage.Address())
}

func sysMunmap(addr, length uintptr) uintptr {
	size := (length + mm.PageSize - 1) &^ (mm.PageSize - 1)
	for off := uintptr(0); off < size; off += mm.PageSize {
		if err := vmm.Unmap(mm.PageFromAddress(addr + off)); err != nil {
			return fail(errno.EINVAL)
		}
	}
	return ret(0)
}

func sysBrk(t *sched.Task, newBrk uintptr) uintptr {
	if newBrk == 0 {
		return ret(t.HeapBrk)
	}

	oldBrk := t.HeapBrk
	oldPageTop := (oldBrk + mm.PageSize - 1) &^ (mm.PageSize - 1)
	newPageTop := (newBrk + mm.PageSize - 1) &^ (mm.PageSize - 1)

	if newPageTop > oldPageTop {
		for addr := oldPageTop; addr < newPageTop; addr += mm.PageSize {
			frame, err := mm.AllocFrame()
			if err != nil {
				return ret(t.HeapBrk)
			}
			if err := vmm.Map(mm.PageFromAddress(addr), frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
				return ret(t.HeapBrk)
			}
		}
	} else if newPageTop < oldPageTop {
		for addr := newPageTop; addr < oldPageTop; addr += mm.PageSize {
			vmm.Unmap(mm.PageFromAddress(addr))
		}
	}

	t.HeapBrk = newBrk
	return ret(newBrk)
}
