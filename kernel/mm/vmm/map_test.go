package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"runtime"
	"testing"
	"unsafe"
)

func TestMapAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origFlushTLBEntryFn func(uintptr), origDirectAddr func(mm.Frame) uintptr, origActivePDT func() uintptr) {
		ptePtrFn = origPtePtr
		flushTLBEntryFn = origFlushTLBEntryFn
		directAddrFn = origDirectAddr
		activePDTFn = origActivePDT
	}(ptePtrFn, flushTLBEntryFn, directAddrFn, activePDTFn)

	var levels [pageLevels]pageTableEntry

	activePDTFn = func() uintptr { return 0 }
	directAddrFn = func(mm.Frame) uintptr { return 0 }

	callIndex := 0
	ptePtrFn = func(uintptr) unsafe.Pointer {
		defer func() { callIndex++ }()
		return unsafe.Pointer(&levels[callIndex])
	}

	flushTLBEntryCallCount := 0
	flushTLBEntryFn = func(uintptr) { flushTLBEntryCallCount++ }

	// Mark the intermediate levels present so walk does not need to
	// allocate new tables.
	for i := 0; i < pageLevels-1; i++ {
		levels[i].SetFlags(FlagPresent)
	}

	if err := Map(mm.Page(0), mm.Frame(321), FlagRW|FlagPresent); err != nil {
		t.Fatal(err)
	}

	leaf := levels[pageLevels-1]
	if !leaf.HasFlags(FlagRW | FlagPresent) {
		t.Fatal("expected leaf entry to carry FlagRW | FlagPresent")
	}
	if leaf.Frame() != mm.Frame(321) {
		t.Fatalf("expected leaf entry to point to frame 321; got %v", leaf.Frame())
	}
	if exp := 1; flushTLBEntryCallCount != exp {
		t.Errorf("expected flushTLBEntry to be called %d times; got %d", exp, flushTLBEntryCallCount)
	}
}

func TestMapReservedZeroedFrameRW(t *testing.T) {
	defer func() { protectReservedZeroedPage = false }()
	defer func(orig func() uintptr) { activePDTFn = orig }(activePDTFn)
	activePDTFn = func() uintptr { return 0 }

	protectReservedZeroedPage = true
	if err := Map(mm.Page(0), ReservedZeroedFrame, FlagRW); err != errAttemptToRWMapReservedFrame {
		t.Fatalf("expected errAttemptToRWMapReservedFrame; got: %v", err)
	}
}

func TestMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
		earlyReserveRegionFn = EarlyReserveRegion
	}()

	t.Run("success", func(t *testing.T) {
		mapCallCount := 0
		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			mapCallCount++
			return nil
		}

		earlyReserveRegionCallCount := 0
		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			earlyReserveRegionCallCount++
			return 0xf00, nil
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 4097, FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}

		if exp := 2; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}

		if exp := 1; earlyReserveRegionCallCount != exp {
			t.Errorf("expected EarlyReserveRegion to be called %d time(s); got %d", exp, earlyReserveRegionCallCount)
		}
	})

	t.Run("EarlyReserveRegion fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of address space"}

		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			return 0, expErr
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		earlyReserveRegionCallCount := 0
		earlyReserveRegionFn = func(_ uintptr) (uintptr, *kernel.Error) {
			earlyReserveRegionCallCount++
			return 0xf00, nil
		}

		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if _, err := MapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}

		if exp := 1; earlyReserveRegionCallCount != exp {
			t.Errorf("expected EarlyReserveRegion to be called %d time(s); got %d", exp, earlyReserveRegionCallCount)
		}
	})
}

func TestIdentityMapRegion(t *testing.T) {
	defer func() {
		mapFn = Map
	}()

	t.Run("success", func(t *testing.T) {
		mapCallCount := 0
		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			mapCallCount++
			return nil
		}

		if _, err := IdentityMapRegion(mm.Frame(0xdf0000), 4097, FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}

		if exp := 2; mapCallCount != exp {
			t.Errorf("expected Map to be called %d time(s); got %d", exp, mapCallCount)
		}
	})

	t.Run("Map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}

		mapFn = func(_ mm.Page, _ mm.Frame, flags PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		if _, err := IdentityMapRegion(mm.Frame(0xdf0000), 128000, FlagPresent|FlagRW); err != expErr {
			t.Fatalf("expected error: %v; got %v", expErr, err)
		}
	})
}

func TestUnmapAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origFlushTLBEntryFn func(uintptr), origDirectAddr func(mm.Frame) uintptr, origActivePDT func() uintptr, origDecRef func(mm.Frame)) {
		ptePtrFn = origPtePtr
		flushTLBEntryFn = origFlushTLBEntryFn
		directAddrFn = origDirectAddr
		activePDTFn = origActivePDT
		decRefFn = origDecRef
	}(ptePtrFn, flushTLBEntryFn, directAddrFn, activePDTFn, decRefFn)

	var (
		physPages [pageLevels][mm.PageSize >> mm.PointerShift]pageTableEntry
		frame     = mm.Frame(123)
	)

	for level := 0; level < pageLevels; level++ {
		physPages[level][0].SetFlags(FlagPresent | FlagRW)
		if level < pageLevels-1 {
			physPages[level][0].SetFrame(mm.Frame(level + 1))
		} else {
			physPages[level][0].SetFrame(frame)
		}
	}

	activePDTFn = func() uintptr { return 0 }
	directAddrFn = func(f mm.Frame) uintptr { return uintptr(unsafe.Pointer(&physPages[f][0])) }
	ptePtrFn = func(entry uintptr) unsafe.Pointer { return unsafe.Pointer(entry) }

	flushTLBEntryCallCount := 0
	flushTLBEntryFn = func(uintptr) { flushTLBEntryCallCount++ }

	decRefCallCount := 0
	var decRefFrame mm.Frame
	decRefFn = func(f mm.Frame) {
		decRefCallCount++
		decRefFrame = f
	}

	if err := Unmap(mm.PageFromAddress(0)); err != nil {
		t.Fatal(err)
	}

	if physPages[pageLevels-1][0].HasFlags(FlagPresent) {
		t.Error("expected leaf entry to have FlagPresent cleared after Unmap")
	}

	if exp := 1; flushTLBEntryCallCount != exp {
		t.Errorf("expected flushTLBEntry to be called %d times; got %d", exp, flushTLBEntryCallCount)
	}

	if exp := 1; decRefCallCount != exp {
		t.Errorf("expected decRefFn to be called %d times; got %d", exp, decRefCallCount)
	}
	if decRefFrame != frame {
		t.Errorf("expected decRefFn to be called with frame %v; got %v", frame, decRefFrame)
	}
}

func TestUnmapErrorsAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origFlushTLBEntryFn func(uintptr), origDirectAddr func(mm.Frame) uintptr, origActivePDT func() uintptr) {
		ptePtrFn = origPtePtr
		flushTLBEntryFn = origFlushTLBEntryFn
		directAddrFn = origDirectAddr
		activePDTFn = origActivePDT
	}(ptePtrFn, flushTLBEntryFn, directAddrFn, activePDTFn)

	var physPages [pageLevels][mm.PageSize >> mm.PointerShift]pageTableEntry

	activePDTFn = func() uintptr { return 0 }
	directAddrFn = func(f mm.Frame) uintptr { return uintptr(unsafe.Pointer(&physPages[f][0])) }
	ptePtrFn = func(entry uintptr) unsafe.Pointer { return unsafe.Pointer(entry) }

	t.Run("encounter huge page", func(t *testing.T) {
		physPages[0][0] = 0
		physPages[0][0].SetFlags(FlagPresent | FlagHugePage)

		if err := Unmap(mm.PageFromAddress(0)); err != errNoHugePageSupport {
			t.Fatalf("expected to get errNoHugePageSupport; got %v", err)
		}
	})

	t.Run("virtual address not mapped", func(t *testing.T) {
		physPages[0][0] = 0

		if err := Unmap(mm.PageFromAddress(0)); err != ErrInvalidMapping {
			t.Fatalf("expected to get ErrInvalidMapping; got %v", err)
		}
	})
}

func TestTranslateAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origDirectAddr func(mm.Frame) uintptr, origActivePDT func() uintptr) {
		ptePtrFn = origPtePtr
		directAddrFn = origDirectAddr
		activePDTFn = origActivePDT
	}(ptePtrFn, directAddrFn, activePDTFn)

	activePDTFn = func() uintptr { return 0 }
	directAddrFn = func(mm.Frame) uintptr { return 0 }

	// the virtual address just contains the page offset
	virtAddr := uintptr(1234)
	expFrame := mm.Frame(42)
	expPhysAddr := expFrame.Address() + virtAddr
	specs := [][pageLevels]bool{
		{true, true, true, true},
		{false, true, true, true},
		{true, false, true, true},
		{true, true, false, true},
		{true, true, true, false},
	}

	for specIndex, spec := range specs {
		pteCallCount := 0
		ptePtrFn = func(entry uintptr) unsafe.Pointer {
			var pte pageTableEntry
			pte.SetFrame(expFrame)
			if specs[specIndex][pteCallCount] {
				pte.SetFlags(FlagPresent)
			}
			pteCallCount++

			return unsafe.Pointer(&pte)
		}

		// An error is expected if any page level contains a non-present page
		expError := false
		for _, hasMapping := range spec {
			if !hasMapping {
				expError = true
				break
			}
		}

		physAddr, err := Translate(virtAddr)
		switch {
		case expError && err != ErrInvalidMapping:
			t.Errorf("[spec %d] expected to get ErrInvalidMapping; got %v", specIndex, err)
		case !expError && err != nil:
			t.Errorf("[spec %d] unexpected error %v", specIndex, err)
		case !expError && physAddr != expPhysAddr:
			t.Errorf("[spec %d] expected phys addr to be 0x%x; got 0x%x", specIndex, expPhysAddr, physAddr)
		}
	}
}

func TestPageOffset(t *testing.T) {
	if exp, got := uintptr(1234), PageOffset(uintptr(0xdeadb000+1234)); exp != got {
		t.Fatalf("expected page offset to be %d; got %d", exp, got)
	}
}
