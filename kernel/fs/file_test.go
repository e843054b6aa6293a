package fs

import "testing"

func resetTable() {
	for i := range table {
		table[i] = nil
	}
}

func TestInstallLookupRelease(t *testing.T) {
	resetTable()
	defer resetTable()

	r, _ := NewPipe()
	idx, err := Install(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := Lookup(idx)
	if err != nil || got != File(r) {
		t.Fatalf("expected Lookup to return the installed file; err=%v", err)
	}

	if err := Release(idx); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}
	if _, err := Lookup(idx); err != errBadFileDescriptor {
		t.Fatalf("expected errBadFileDescriptor after release; got %v", err)
	}
}

func TestDupKeepsEntryAliveUntilBothReleased(t *testing.T) {
	resetTable()
	defer resetTable()

	r, _ := NewPipe()
	idx, _ := Install(r)
	if err := Dup(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Release(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Lookup(idx); err != nil {
		t.Fatal("expected the entry to survive one release after a Dup")
	}

	if err := Release(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Lookup(idx); err != errBadFileDescriptor {
		t.Fatal("expected the entry to be gone after the second release")
	}
}

func TestLookupInvalidIndex(t *testing.T) {
	resetTable()
	defer resetTable()

	if _, err := Lookup(-1); err != errBadFileDescriptor {
		t.Fatalf("expected errBadFileDescriptor for a negative index; got %v", err)
	}
	if _, err := Lookup(int32(len(table))); err != errBadFileDescriptor {
		t.Fatalf("expected errBadFileDescriptor for an out-of-range index; got %v", err)
	}
}
