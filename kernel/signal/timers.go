package signal

// itimerSignals maps each interval timer slot to the signal it raises on
// expiry.
var itimerSignals = [numITimers]Signal{
	ITimerReal:    SIGALRM,
	ITimerVirtual: SIGVTALRM,
	ITimerProf:    SIGPROF,
}

// TickITimers advances s's three interval timers by one tick of the given
// kind (wall-clock for ITimerReal, user-CPU for ITimerVirtual, user+system
// for ITimerProf; the caller decides which kinds apply to the current
// tick). Expired timers raise their signal via Send and, if their interval
// is non-zero, are reloaded; otherwise they disarm. Returns the SendResults
// of every timer that fired, for the caller to apply to task state.
func TickITimers(s *SignalState, kinds ...int) []SendResult {
	var fired []SendResult
	for _, k := range kinds {
		t := &s.ITimers[k]
		if !t.Armed || t.NextTick == 0 {
			continue
		}
		t.NextTick--
		if t.NextTick != 0 {
			continue
		}

		fired = append(fired, Send(s, itimerSignals[k], nil))
		if t.Interval != 0 {
			t.NextTick = t.Interval
		} else {
			t.Armed = false
		}
	}
	return fired
}

// SetITimer arms (or, if initialTicks is 0, disarms) interval
// timer which (one of ITimerReal/ITimerVirtual/ITimerProf) and returns its
// previous configuration, matching setitimer(2)/getitimer(2) semantics.
func SetITimer(s *SignalState, which int, initialTicks, intervalTicks uint64) (prevInitial, prevInterval uint64) {
	t := &s.ITimers[which]
	prevInitial, prevInterval = t.NextTick, t.Interval

	t.Interval = intervalTicks
	t.NextTick = initialTicks
	t.Armed = initialTicks != 0
	return prevInitial, prevInterval
}

// maxPosixTimers bounds the fixed-size POSIX timer table (timer_create
// returns ENOMEM once exhausted, matching a typical kernel's fixed pool
// rather than a dynamically grown one).
const maxPosixTimers = 64

// PosixTimer is one entry of the system-wide timer_create table.
type PosixTimer struct {
	InUse      bool
	OwnerTask  uint64
	ClockID    int32
	Signal     Signal
	SigValue   uintptr
	NextTick   uint64
	Interval   uint64
	Overrun    uint32
}

// PosixTimerTable is the fixed-size table backing timer_create/settime/
// gettime/getoverrun/delete. Timer ids are indices into it.
type PosixTimerTable struct {
	timers [maxPosixTimers]PosixTimer
}

// Create reserves the first free slot for ownerTask and returns its id, or
// -1 if the table is full.
func (tt *PosixTimerTable) Create(ownerTask uint64, clockID int32, sig Signal, sigValue uintptr) int {
	for i := range tt.timers {
		if !tt.timers[i].InUse {
			tt.timers[i] = PosixTimer{InUse: true, OwnerTask: ownerTask, ClockID: clockID, Signal: sig, SigValue: sigValue}
			return i
		}
	}
	return -1
}

// SetTime arms timer id with the given initial/interval tick counts,
// returning the configuration it replaced.
func (tt *PosixTimerTable) SetTime(id int, initialTicks, intervalTicks uint64) (prevInitial, prevInterval uint64, ok bool) {
	if id < 0 || id >= maxPosixTimers || !tt.timers[id].InUse {
		return 0, 0, false
	}
	t := &tt.timers[id]
	prevInitial, prevInterval = t.NextTick, t.Interval
	t.NextTick, t.Interval = initialTicks, intervalTicks
	return prevInitial, prevInterval, true
}

// GetTime returns timer id's current countdown and interval.
func (tt *PosixTimerTable) GetTime(id int) (nextTick, interval uint64, ok bool) {
	if id < 0 || id >= maxPosixTimers || !tt.timers[id].InUse {
		return 0, 0, false
	}
	t := &tt.timers[id]
	return t.NextTick, t.Interval, true
}

// Overrun returns and resets timer id's Overrun counter. Tick never
// increments that counter, so the value returned is always 0; missed
// expirations are not counted.
func (tt *PosixTimerTable) Overrun(id int) (uint32, bool) {
	if id < 0 || id >= maxPosixTimers || !tt.timers[id].InUse {
		return 0, false
	}
	overrun := tt.timers[id].Overrun
	tt.timers[id].Overrun = 0
	return overrun, true
}

// Delete releases timer id.
func (tt *PosixTimerTable) Delete(id int) bool {
	if id < 0 || id >= maxPosixTimers || !tt.timers[id].InUse {
		return false
	}
	tt.timers[id] = PosixTimer{}
	return true
}

// ReleaseOwnedBy frees every timer owned by task, called when it exits.
func (tt *PosixTimerTable) ReleaseOwnedBy(task uint64) {
	for i := range tt.timers {
		if tt.timers[i].InUse && tt.timers[i].OwnerTask == task {
			tt.timers[i] = PosixTimer{}
		}
	}
}

// Tick advances every armed timer by one tick; for each whose countdown
// reaches zero, it invokes send (wired to kernel/sched's signal delivery to
// the owning task) and, if periodic, reloads the countdown. It does not
// record overruns: an expiry whose earlier signal is still pending is not
// counted.
func (tt *PosixTimerTable) Tick(send func(ownerTask uint64, sig Signal, sigValue uintptr)) {
	for i := range tt.timers {
		t := &tt.timers[i]
		if !t.InUse || t.NextTick == 0 {
			continue
		}
		t.NextTick--
		if t.NextTick != 0 {
			continue
		}

		send(t.OwnerTask, t.Signal, t.SigValue)
		if t.Interval != 0 {
			t.NextTick = t.Interval
		}
	}
}
