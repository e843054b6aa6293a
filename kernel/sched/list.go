package sched

// List is a singly-linked circular run queue with a cursor positioned at
// the currently running task, matching §4.F's task list description. Idle
// and bootstrap tasks are expected to be added once at Init and never
// removed.
type List struct {
	cursor *Task
}

// Add inserts t into the run queue immediately after the cursor.
func (l *List) Add(t *Task) {
	if l.cursor == nil {
		t.next = t
		l.cursor = t
		return
	}
	t.next = l.cursor.next
	l.cursor.next = t
}

// Remove unlinks t from the run queue. If t is the cursor, the cursor moves
// to t's successor (the caller is expected to immediately reschedule in
// that case).
func (l *List) Remove(t *Task) {
	if l.cursor == nil {
		return
	}
	if l.cursor == t && t.next == t {
		l.cursor = nil
		return
	}

	p := l.cursor
	for p.next != t {
		p = p.next
		if p == l.cursor {
			return // t is not in this list
		}
	}
	p.next = t.next
	if l.cursor == t {
		l.cursor = t.next
	}
}

// PickNext implements round-robin selection starting at cursor.next: the
// first task found in StateReady or StateRunning wins; a task in any other
// state is skipped. idle is returned only if no other task qualifies. The
// cursor itself (the currently running task) is checked last, after a full
// lap, so a single runnable task is correctly re-selected instead of
// falling through to idle.
func (l *List) PickNext(idle *Task) *Task {
	if l.cursor == nil {
		return idle
	}

	for p := l.cursor.next; p != l.cursor; p = p.next {
		if p.State == StateReady || p.State == StateRunning {
			return p
		}
	}

	if l.cursor.State == StateReady || l.cursor.State == StateRunning {
		return l.cursor
	}
	return idle
}

// SetCursor repositions the cursor to t, called by the scheduler once t has
// actually become the running task.
func (l *List) SetCursor(t *Task) {
	l.cursor = t
}

// ForEach invokes visit once for every task currently in the run queue,
// including ZOMBIE tasks awaiting reaping (they stay linked in until Reap
// removes them).
func (l *List) ForEach(visit func(*Task)) {
	if l.cursor == nil {
		return
	}
	visit(l.cursor)
	for p := l.cursor.next; p != l.cursor; p = p.next {
		visit(p)
	}
}
