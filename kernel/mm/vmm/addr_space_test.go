package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"testing"
	"unsafe"
)

func TestEarlyReserveRegion(t *testing.T) {
	defer func() { earlyReserveLastUsed = tempMappingAddr }()

	t.Run("success", func(t *testing.T) {
		earlyReserveLastUsed = tempMappingAddr

		addr, err := EarlyReserveRegion(mm.PageSize + 1)
		if err != nil {
			t.Fatal(err)
		}

		if exp := tempMappingAddr - 2*mm.PageSize; addr != exp {
			t.Fatalf("expected reserved address %x; got %x", exp, addr)
		}
	})

	t.Run("out of space", func(t *testing.T) {
		earlyReserveLastUsed = mm.PageSize

		if _, err := EarlyReserveRegion(2 * mm.PageSize); err != errEarlyReserveNoSpace {
			t.Fatalf("expected errEarlyReserveNoSpace; got %v", err)
		}
	})
}

func TestCreateAddressSpace(t *testing.T) {
	defer func(origDirectAddr func(mm.Frame) uintptr, origPtePtr func(uintptr) unsafe.Pointer) {
		mm.SetFrameAllocator(nil)
		directAddrFn = origDirectAddr
		ptePtrFn = origPtePtr
		kernelPDT = PageDirectoryTable{}
	}(directAddrFn, ptePtrFn)

	var (
		kernelTable [512]pageTableEntry
		childTable  [512]pageTableEntry
	)

	for i := 256; i < 512; i++ {
		kernelTable[i].SetFlags(FlagPresent | FlagRW)
		kernelTable[i].SetFrame(mm.Frame(i))
	}

	kernelPDT = PageDirectoryTable{pdtFrame: mm.Frame(1)}

	directAddrFn = func(f mm.Frame) uintptr {
		switch f {
		case mm.Frame(1):
			return uintptr(unsafe.Pointer(&kernelTable[0]))
		case mm.Frame(2):
			return uintptr(unsafe.Pointer(&childTable[0]))
		default:
			t.Fatalf("unexpected directAddrFn call with frame %v", f)
			return 0
		}
	}

	ptePtrFn = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }

	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.Frame(2), nil })

	as, err := CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}

	if as.PDT().Frame() != mm.Frame(2) {
		t.Fatalf("expected new address space PML4 frame to be 2; got %v", as.PDT().Frame())
	}

	for i := 256; i < 512; i++ {
		if childTable[i] != kernelTable[i] {
			t.Errorf("expected kernel half entry %d to be copied into the child PML4", i)
		}
	}

	for i := 0; i < 256; i++ {
		if childTable[i] != 0 {
			t.Errorf("expected user half entry %d to remain empty", i)
		}
	}
}

func TestCreateAddressSpaceAllocError(t *testing.T) {
	defer mm.SetFrameAllocator(nil)

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return mm.InvalidFrame, expErr })

	if _, err := CreateAddressSpace(); err != expErr {
		t.Fatalf("expected error: %v; got %v", expErr, err)
	}
}

func TestAddressSpaceSwitchTo(t *testing.T) {
	defer func(origSwitchPDT func(uintptr)) { switchPDTFn = origSwitchPDT }(switchPDTFn)

	switchCount := 0
	switchPDTFn = func(_ uintptr) { switchCount++ }

	as := &AddressSpace{pdt: PageDirectoryTable{pdtFrame: mm.Frame(42)}}
	as.SwitchTo()

	if exp := 1; switchCount != exp {
		t.Fatalf("expected switchPDT to be called %d time(s); got %d", exp, switchCount)
	}
}

func TestAddressSpaceDestroy(t *testing.T) {
	defer func(origDirectAddr func(mm.Frame) uintptr, origPtePtr func(uintptr) unsafe.Pointer, origDecRef func(mm.Frame)) {
		directAddrFn = origDirectAddr
		ptePtrFn = origPtePtr
		decRefFn = origDecRef
		mm.SetFrameDeallocator(nil)
	}(directAddrFn, ptePtrFn, decRefFn)

	var (
		pml4  [512]pageTableEntry
		pdpt  [512]pageTableEntry
		pd    [512]pageTableEntry
		pt    [512]pageTableEntry
		frame = mm.Frame(999)
	)

	pml4[0].SetFlags(FlagPresent | FlagRW)
	pml4[0].SetFrame(mm.Frame(11))

	pdpt[0].SetFlags(FlagPresent | FlagRW)
	pdpt[0].SetFrame(mm.Frame(12))

	pd[0].SetFlags(FlagPresent | FlagRW)
	pd[0].SetFrame(mm.Frame(13))

	pt[0].SetFlags(FlagPresent | FlagRW)
	pt[0].SetFrame(frame)

	directAddrFn = func(f mm.Frame) uintptr {
		switch f {
		case mm.Frame(10):
			return uintptr(unsafe.Pointer(&pml4[0]))
		case mm.Frame(11):
			return uintptr(unsafe.Pointer(&pdpt[0]))
		case mm.Frame(12):
			return uintptr(unsafe.Pointer(&pd[0]))
		case mm.Frame(13):
			return uintptr(unsafe.Pointer(&pt[0]))
		default:
			t.Fatalf("unexpected directAddrFn call with frame %v", f)
			return 0
		}
	}
	ptePtrFn = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }

	decRefCallCount := 0
	var decRefFrame mm.Frame
	decRefFn = func(f mm.Frame) {
		decRefCallCount++
		decRefFrame = f
	}

	freedFrames := map[mm.Frame]bool{}
	mm.SetFrameDeallocator(func(f mm.Frame) { freedFrames[f] = true })

	as := &AddressSpace{pdt: PageDirectoryTable{pdtFrame: mm.Frame(10)}}
	as.Destroy()

	if exp := 1; decRefCallCount != exp {
		t.Errorf("expected decRefFn to be called %d time(s); got %d", exp, decRefCallCount)
	}
	if decRefFrame != frame {
		t.Errorf("expected decRefFn to be called with leaf frame %v; got %v", frame, decRefFrame)
	}

	for _, f := range []mm.Frame{10, 11, 12, 13} {
		if !freedFrames[f] {
			t.Errorf("expected intermediate table frame %v to be freed", f)
		}
	}
	if freedFrames[frame] {
		t.Errorf("expected the leaf data frame to be released via decRefFn, not freed directly")
	}
}
