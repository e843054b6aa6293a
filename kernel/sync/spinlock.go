// Package sync provides synchronization primitive implementations for spinlocks.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked by archAcquireSpinlock's assembly companion after
	// attemptsBeforeYielding busy-wait iterations, so a task spinning on a
	// held lock gives up the CPU instead of burning its whole slice.
	// Defaults to a no-op until SetYieldFunc replaces it (for example with
	// sched.Yield).
	yieldFn = func() {}
)

// SetYieldFunc registers the function archAcquireSpinlock calls when a lock
// acquisition has spun for a while. Called once during kernel startup.
func SetYieldFunc(fn func()) {
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the lock.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
