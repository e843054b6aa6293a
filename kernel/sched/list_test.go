package sched

import "testing"

func TestListAddAndPickNextRoundRobin(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateReady}
	b := &Task{ID: 2, State: StateReady}
	c := &Task{ID: 3, State: StateReady}

	l.Add(a)
	l.Add(b)
	l.Add(c)
	l.SetCursor(a)

	idle := &Task{ID: 99, State: StateReady}
	if next := l.PickNext(idle); next != c && next != b {
		t.Fatalf("expected b or c to be picked first depending on insertion order; got %v", next.ID)
	}
}

func TestPickNextSkipsNonRunnableTasks(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateRunning}
	b := &Task{ID: 2, State: StateBlocked}
	c := &Task{ID: 3, State: StateReady}
	l.Add(a)
	l.Add(c)
	l.Add(b)
	l.SetCursor(a)

	idle := &Task{ID: 99, State: StateReady}
	next := l.PickNext(idle)
	if next != c {
		t.Fatalf("expected blocked task b to be skipped in favor of c; got %v", next.ID)
	}
}

func TestPickNextFallsBackToIdle(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateBlocked}
	l.Add(a)
	l.SetCursor(a)

	idle := &Task{ID: 99, State: StateReady}
	if next := l.PickNext(idle); next != idle {
		t.Fatalf("expected idle fallback when nothing else is runnable; got %v", next.ID)
	}
}

func TestPickNextReselectsSoleRunnableCursor(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateRunning}
	l.Add(a)
	l.SetCursor(a)

	idle := &Task{ID: 99, State: StateReady}
	if next := l.PickNext(idle); next != a {
		t.Fatalf("expected the sole runnable task to be re-selected; got %v", next.ID)
	}
}

func TestRemoveCursorMovesToSuccessor(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateReady}
	b := &Task{ID: 2, State: StateReady}
	l.Add(a)
	l.Add(b)
	l.SetCursor(a)

	l.Remove(a)

	idle := &Task{ID: 99, State: StateReady}
	if next := l.PickNext(idle); next != b {
		t.Fatalf("expected b to remain reachable after removing cursor a; got %v", next.ID)
	}
}

func TestRemoveLastTaskEmptiesList(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateReady}
	l.Add(a)
	l.SetCursor(a)

	l.Remove(a)

	idle := &Task{ID: 99, State: StateReady}
	if next := l.PickNext(idle); next != idle {
		t.Fatalf("expected an empty list to fall back to idle; got %v", next.ID)
	}
}

func TestForEachVisitsEveryTask(t *testing.T) {
	var l List
	a := &Task{ID: 1, State: StateReady}
	b := &Task{ID: 2, State: StateReady}
	c := &Task{ID: 3, State: StateReady}
	l.Add(a)
	l.Add(b)
	l.Add(c)
	l.SetCursor(a)

	seen := map[uint64]bool{}
	l.ForEach(func(t *Task) { seen[t.ID] = true })

	for _, id := range []uint64{1, 2, 3} {
		if !seen[id] {
			t.Errorf("expected ForEach to visit task %d", id)
		}
	}
}
