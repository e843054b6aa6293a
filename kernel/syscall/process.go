package syscall

import (
	"gopheros/kernel/errno"
	"gopheros/kernel/fs"
	"gopheros/kernel/sched"
)

func sysFork(t *sched.Task) uintptr {
	as, err := t.AddressSpace.Fork()
	if err != nil {
		return fail(errno.ENOMEM)
	}

	child, cerr := sched.NewForkedTask(t, as)
	if cerr != nil {
		as.Destroy()
		return fail(errno.ENOMEM)
	}
	child.FDTable = t.FDTable
	for _, fd := range child.FDTable {
		if fd >= 0 {
			fs.Dup(fd)
		}
	}

	sched.AddTask(child)
	return ret(uintptr(child.ID))
}

func sysWait4(t *sched.Task, pidOrStatusPtr, statusPtr uintptr) uintptr {
	// Cooperative, single-core reap loop: block by yielding until a
	// ZOMBIE child of t shows up, matching the spec's description of
	// wait4 as one of the syscalls that parks the task and reschedules.
	for {
		var zombie *sched.Task
		sched.Walk(func(candidate *sched.Task) {
			if candidate.PPID == t.ID && candidate.State == sched.StateZombie {
				zombie = candidate
			}
		})
		if zombie != nil {
			if statusPtr != 0 {
				var buf [4]byte
				status := uint32(zombie.ExitStatus) << 8
				buf[0] = byte(status)
				buf[1] = byte(status >> 8)
				buf[2] = byte(status >> 16)
				buf[3] = byte(status >> 24)
				UserWrite(statusPtr, buf[:])
			}
			pid := zombie.ID
			sched.Reap(zombie)
			return ret(uintptr(pid))
		}

		if !hasChildren(t) {
			return fail(errno.ECHILD)
		}
		sched.Yield()
	}
}

func hasChildren(t *sched.Task) bool {
	found := false
	sched.Walk(func(candidate *sched.Task) {
		if candidate.PPID == t.ID {
			found = true
		}
	})
	return found
}

func sysKill(t *sched.Task, pid, sig uintptr) uintptr {
	var target *sched.Task
	sched.Walk(func(candidate *sched.Task) {
		if uintptr(candidate.ID) == pid {
			target = candidate
		}
	})
	if target == nil {
		return fail(errno.ESRCH)
	}

	res := sendSignal(target, int(sig))
	if res.Stop {
		target.State = sched.StateStopped
	} else if res.Continue && target.State == sched.StateStopped {
		target.State = sched.StateReady
	} else if res.Wake && target.State == sched.StateBlocked {
		target.State = sched.StateReady
	}
	return ret(0)
}
