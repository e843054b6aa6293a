package xhci

import "testing"

// fakeMMIO implements a flat byte-addressed register space keyed by offset
// from an arbitrary base, letting tests drive Controller's register
// accessors without a real BAR mapping.
type fakeMMIO struct {
	mem map[uintptr]uint32
}

func withFakeMMIO(t *testing.T) *fakeMMIO {
	t.Helper()
	origR32, origW32, origR64, origW64 := mmioRead32Fn, mmioWrite32Fn, mmioRead64Fn, mmioWrite64Fn
	f := &fakeMMIO{mem: map[uintptr]uint32{}}
	mmioRead32Fn = func(addr uintptr) uint32 { return f.mem[addr] }
	mmioWrite32Fn = func(addr uintptr, v uint32) { f.mem[addr] = v }
	mmioRead64Fn = func(addr uintptr) uint64 {
		return uint64(f.mem[addr]) | uint64(f.mem[addr+4])<<32
	}
	mmioWrite64Fn = func(addr uintptr, v uint64) {
		f.mem[addr] = uint32(v)
		f.mem[addr+4] = uint32(v >> 32)
	}
	t.Cleanup(func() {
		mmioRead32Fn, mmioWrite32Fn, mmioRead64Fn, mmioWrite64Fn = origR32, origW32, origR64, origW64
	})
	return f
}

func TestMaxPortsAndMaxSlotsFromHCSPARAMS1(t *testing.T) {
	f := withFakeMMIO(t)
	c := &Controller{capBase: 0x1000}
	// HCSPARAMS1: MaxSlots (bits 0-7) = 8, MaxPorts (bits 24-31) = 4.
	f.mem[0x1000+capHCSPARAMS1] = 8 | 4<<24

	if got := c.maxSlots(); got != 8 {
		t.Errorf("expected maxSlots 8, got %d", got)
	}
	if got := c.maxPorts(); got != 4 {
		t.Errorf("expected maxPorts 4, got %d", got)
	}
}

func TestMaxScratchpadBuffersCombinesHiAndLo(t *testing.T) {
	f := withFakeMMIO(t)
	c := &Controller{capBase: 0x2000}
	// hi (bits 21-25) = 1, lo (bits 27-31) = 2 -> 1<<5 | 2 == 34.
	f.mem[0x2000+capHCSPARAMS2] = 1<<21 | 2<<27

	if got := c.maxScratchpadBuffers(); got != 34 {
		t.Errorf("expected 34 scratchpad buffers, got %d", got)
	}
}

func TestContextSizeFromCSZBit(t *testing.T) {
	f := withFakeMMIO(t)
	c := &Controller{capBase: 0x3000}

	f.mem[0x3000+capHCCPARAMS1] = 0
	if got := c.contextSize(); got != 32 {
		t.Errorf("expected 32-byte contexts when CSZ=0, got %d", got)
	}

	f.mem[0x3000+capHCCPARAMS1] = 1 << 2
	if got := c.contextSize(); got != 64 {
		t.Errorf("expected 64-byte contexts when CSZ=1, got %d", got)
	}
}

func TestRingDoorbellWritesTargetToDoorbellRegister(t *testing.T) {
	f := withFakeMMIO(t)
	c := &Controller{dbBase: 0x4000}

	c.ringDoorbell(3, 1)

	if got := f.mem[0x4000+3*4]; got != 1 {
		t.Errorf("expected doorbell 3 to be rung with target 1, got %d", got)
	}
}

func TestPortReadWriteAddressesCorrectPortRegister(t *testing.T) {
	f := withFakeMMIO(t)
	c := &Controller{opBase: 0x5000}

	c.portWrite32(2, 0x00, 0xdead)
	want := uintptr(0x5000 + opPortRegsBase + 2*opPortRegsStride)
	if f.mem[want] != 0xdead {
		t.Errorf("expected PORTSC for port 2 to be written at %#x", want)
	}
	if got := c.portRead32(2, 0x00); got != 0xdead {
		t.Errorf("expected to read back 0xdead, got %#x", got)
	}
}
