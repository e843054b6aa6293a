package syscall

import (
	"testing"
	"unsafe"
)

func withFakeSMAP(t *testing.T) *int {
	origDisable := smapDisableFn
	origEnable := smapEnableFn
	calls := 0
	smapDisableFn = func() { calls++ }
	smapEnableFn = func() { calls++ }
	t.Cleanup(func() {
		smapDisableFn = origDisable
		smapEnableFn = origEnable
	})
	return &calls
}

func TestUserWriteThenUserReadRoundTrip(t *testing.T) {
	withFakeSMAP(t)

	buf := make([]byte, 8)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !UserWrite(addr, want) {
		t.Fatal("expected UserWrite to succeed")
	}
	for i, b := range want {
		if buf[i] != b {
			t.Fatalf("byte %d: expected %d, got %d", i, b, buf[i])
		}
	}

	got := make([]byte, 8)
	if !UserRead(addr, got) {
		t.Fatal("expected UserRead to succeed")
	}
	for i, b := range want {
		if got[i] != b {
			t.Fatalf("byte %d: expected %d, got %d", i, b, got[i])
		}
	}
}

func TestUserWriteRejectsAddressAboveUserHalf(t *testing.T) {
	withFakeSMAP(t)

	if UserWrite(maxUserAddr, []byte{1}) {
		t.Fatal("expected UserWrite to reject an address at maxUserAddr")
	}
}

func TestUserReadRejectsOverflowingRange(t *testing.T) {
	withFakeSMAP(t)

	if UserRead(maxUserAddr-1, make([]byte, 4)) {
		t.Fatal("expected UserRead to reject a range that overflows past maxUserAddr")
	}
}

func TestLookupFixupFindsContainingRange(t *testing.T) {
	orig := fixupTable
	t.Cleanup(func() { fixupTable = orig })

	fixupTable = []fixupEntry{
		{pcStart: 0x1000, pcEnd: 0x1010, fixupPC: 0x2000},
		{pcStart: 0x3000, pcEnd: 0x3010, fixupPC: 0x4000},
	}

	if pc, ok := lookupFixup(0x1005); !ok || pc != 0x2000 {
		t.Fatalf("expected a match in the first range; got pc=%#x ok=%v", pc, ok)
	}
	if pc, ok := lookupFixup(0x3005); !ok || pc != 0x4000 {
		t.Fatalf("expected a match in the second range; got pc=%#x ok=%v", pc, ok)
	}
	if _, ok := lookupFixup(0x5000); ok {
		t.Fatal("expected no match outside either range")
	}
}

func TestSetFixupTableReplacesTable(t *testing.T) {
	orig := fixupTable
	t.Cleanup(func() { fixupTable = orig })

	SetFixupTable([]fixupEntry{{pcStart: 0x10, pcEnd: 0x20, fixupPC: 0x30}})
	if pc, ok := lookupFixup(0x15); !ok || pc != 0x30 {
		t.Fatalf("expected the installed table to be used; got pc=%#x ok=%v", pc, ok)
	}
}
