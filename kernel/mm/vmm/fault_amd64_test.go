package vmm

import (
	"bytes"
	"fmt"
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
	"strings"
	"testing"
	"unsafe"
)

func TestRecoverablePageFault(t *testing.T) {
	var (
		regs       gate.Registers
		pageEntry  pageTableEntry
		origPage   = make([]byte, mm.PageSize)
		clonedPage = make([]byte, mm.PageSize)
		err        = &kernel.Error{Module: "test", Message: "something went wrong"}
	)

	defer func(origPtePtr func(uintptr) unsafe.Pointer, origDirectAddr func(mm.Frame) uintptr) {
		ptePtrFn = origPtePtr
		readCR2Fn = cpu.ReadCR2
		mm.SetFrameAllocator(nil)
		flushTLBEntryFn = cpu.FlushTLBEntry
		refCountFn = func(mm.Frame) uint32 { return 2 }
		decRefFn = func(mm.Frame) {}
		directAddrFn = origDirectAddr
	}(ptePtrFn, directAddrFn)

	specs := []struct {
		pteFlags   PageTableEntryFlag
		refCount   uint32
		allocError *kernel.Error
		expPanic   bool
		expCopy    bool
	}{
		// Missing page
		{0, 2, nil, true, false},
		// Page is present but CoW flag not set
		{FlagPresent, 2, nil, true, false},
		// Page is present but both CoW and RW flags set
		{FlagPresent | FlagRW | FlagCopyOnWrite, 2, nil, true, false},
		// Page is present with CoW flag set but allocating a page copy fails
		{FlagPresent | FlagCopyOnWrite, 2, err, true, false},
		// Page is present with CoW flag set and shared; copy is made
		{FlagPresent | FlagCopyOnWrite, 2, nil, false, true},
		// Page is present with CoW flag set but no longer actually shared
		{FlagPresent | FlagCopyOnWrite, 1, nil, false, false},
	}

	ptePtrFn = func(entry uintptr) unsafe.Pointer { return unsafe.Pointer(&pageEntry) }
	readCR2Fn = func() uint64 { return uint64(uintptr(unsafe.Pointer(&origPage[0]))) }
	flushTLBEntryFn = func(_ uintptr) {}

	// directAddrFn normally reconstructs a direct-map address from a frame
	// number; here frames are derived from real Go-backed slices so the
	// mock maps each frame straight back to the slice that produced it
	// instead of going through the (page-truncating) physical formula.
	origFrame := mm.Frame(uintptr(unsafe.Pointer(&origPage[0])) >> mm.PageShift)
	directAddrFn = func(f mm.Frame) uintptr {
		if f == origFrame {
			return uintptr(unsafe.Pointer(&origPage[0]))
		}
		return uintptr(unsafe.Pointer(&clonedPage[0]))
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			defer func() {
				err := recover()
				if spec.expPanic && err == nil {
					t.Error("expected a panic")
				} else if !spec.expPanic && err != nil {
					t.Error("unexpected panic")
				}
			}()

			refCountFn = func(mm.Frame) uint32 { return spec.refCount }
			decRefFn = func(mm.Frame) {}
			mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
				addr := uintptr(unsafe.Pointer(&clonedPage[0]))
				return mm.Frame(addr >> mm.PageShift), spec.allocError
			})

			for i := 0; i < len(origPage); i++ {
				origPage[i] = byte(i % 256)
				clonedPage[i] = 0
			}

			pageEntry = 0
			pageEntry.SetFlags(spec.pteFlags)
			pageEntry.SetFrame(mm.Frame(uintptr(unsafe.Pointer(&origPage[0])) >> mm.PageShift))

			regs.Info = 2
			pageFaultHandler(&regs)

			if spec.expCopy {
				for i := 0; i < len(origPage); i++ {
					if origPage[i] != clonedPage[i] {
						t.Errorf("expected clone page to be a copy of the original page; mismatch at index %d", i)
						break
					}
				}
			}
		})
	}
}

func TestNonRecoverablePageFault(t *testing.T) {
	defer func() {
		kfmt.SetOutputSink(nil)
	}()

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{0xf00, "unknown"},
	}

	var (
		regs gate.Registers
		buf  bytes.Buffer
	)

	kfmt.SetOutputSink(&buf)
	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
				}
			}()

			regs.Info = spec.errCode
			nonRecoverablePageFault(0xbadf00d000, &regs, errUnrecoverableFault)
			if got := buf.String(); !strings.Contains(got, spec.expReason) {
				t.Errorf("expected reason %q; got output:\n%q", spec.expReason, got)
			}
		})
	}
}

func TestGPFHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
	}()

	var regs gate.Registers

	readCR2Fn = func() uint64 {
		return 0xbadf00d000
	}

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
		}
	}()

	generalProtectionFaultHandler(&regs)
}
