package signal

// SendResult tells the caller (kernel/sched, which owns task state) what
// must happen as a consequence of a Send call, since this package has no
// notion of a task beyond the SignalState it was given.
type SendResult struct {
	// Delivered is false if the signal was dropped (ignored).
	Delivered bool

	// Wake is true if the target was BLOCKED on a wait channel and must
	// be moved back to READY: the signal was unblocked (or is
	// SIGKILL/SIGSTOP, which cannot be blocked) and is not itself being
	// ignored.
	Wake bool

	// Stop/Continue mirror the SIGSTOP/SIGCONT default-action side
	// effects a caller must apply to task state; both are false for
	// every other signal.
	Stop     bool
	Continue bool
}

// Send implements signal generation (kill/raise/timer expiry/child state
// change) against a single task's SignalState, blocked reporting, and
// target-was-blocked state per §4.H:
//
//   - A signal whose disposition is SIG_IGN, or SIG_DFL with a default
//     action of ignore, is dropped.
//   - Otherwise it is marked pending; if the disposition carries
//     SA_SIGINFO, info (if non-nil) is queued.
//   - SIGCONT always clears any pending SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU and
//     reports Continue so the caller resumes a STOPPED task.
//   - SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU report Stop when their default
//     action applies (disposition is SIG_DFL).
func Send(s *SignalState, sig Signal, info *Siginfo) SendResult {
	action := s.GetAction(sig)
	if Uncatchable(sig) {
		action = DefaultAction()
	}

	if sig == SIGCONT {
		s.Pending &^= bit(SIGSTOP) | bit(SIGTSTP) | bit(SIGTTIN) | bit(SIGTTOU)
	}

	ignored := action.IsIgnored() || (action.IsDefault() && DefaultActionFor(sig) == ActionIgn)
	if ignored && !Uncatchable(sig) {
		return SendResult{}
	}

	s.Pending |= bit(sig)
	if info != nil && action.Flags&SASigInfo != 0 {
		s.QueueSiginfo(*info)
	}

	result := SendResult{Delivered: true}

	switch {
	case sig == SIGCONT:
		result.Continue = true
		result.Wake = true
	case action.IsDefault() && DefaultActionFor(sig) == ActionStop:
		result.Stop = true
	default:
		unblocked := Uncatchable(sig) || !s.IsBlocked(sig)
		result.Wake = unblocked
	}

	return result
}

// NextDeliverable selects the lowest-numbered pending, unblocked signal (the
// selection rule used both on syscall return and on return from an IRQ that
// interrupted user mode), clearing it from the pending set. It returns false
// if nothing is deliverable.
func NextDeliverable(s *SignalState) (Signal, bool) {
	mask := s.PendingUnblocked()
	if mask == 0 {
		return 0, false
	}

	for sig := Signal(1); sig <= MaxSignal; sig++ {
		if mask&bit(sig) != 0 {
			s.Pending &^= bit(sig)
			return sig, true
		}
	}
	return 0, false
}

// ApplyDeliveryMask updates the blocked set the way entering a handler for
// sig must: adds the handler's sa_mask, and adds sig itself unless
// SA_NODEFER. If SA_RESETHAND is set, the disposition reverts to SIG_DFL.
// Returns the blocked mask as it stood immediately before this call, which
// the caller stashes in the signal frame for rt_sigreturn to restore.
func ApplyDeliveryMask(s *SignalState, sig Signal) (priorBlocked uint64) {
	priorBlocked = s.Blocked
	action := s.GetAction(sig)

	s.Blocked |= action.Mask
	if action.Flags&SANoDefer == 0 {
		s.Blocked |= bit(sig)
	}
	if action.Flags&SAResetHand != 0 {
		s.SetAction(sig, DefaultAction())
	}
	return priorBlocked
}
