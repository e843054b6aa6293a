package xhci

import (
	"gopheros/kernel/mm"
	"unsafe"
)

// DCBAA is the Device Context Base Address Array: max_slots+1 64-bit
// entries, 64-byte aligned (a full page trivially satisfies that). Entry 0
// holds the scratchpad-buffer array's physical address; entries 1..N hold
// each enabled slot's Device Context physical address.
type DCBAA struct {
	frame   mm.Frame
	entries []uint64
}

// NewDCBAA allocates a zeroed, page-backed DCBAA sized for numSlots+1
// entries (numSlots comes from HCSPARAMS1's MaxSlots field).
func NewDCBAA(numSlots uint8) (*DCBAA, error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}
	base := directAddrFn(frame)
	entries := unsafe.Slice((*uint64)(unsafe.Pointer(base)), mm.PageSize/8)
	for i := range entries {
		entries[i] = 0
	}
	return &DCBAA{frame: frame, entries: entries[:int(numSlots)+1]}, nil
}

// PhysAddr returns the DCBAA's base physical address, written to DCBAAP.
func (d *DCBAA) PhysAddr() uintptr { return d.frame.Address() }

// SetScratchpadArray records the scratchpad-buffer pointer array's physical
// address in DCBAA entry 0.
func (d *DCBAA) SetScratchpadArray(phys uintptr) { d.entries[0] = uint64(phys) }

// SetSlot records slot's Device Context physical address.
func (d *DCBAA) SetSlot(slot uint8, phys uintptr) { d.entries[slot] = uint64(phys) }

// ERSTEntry is a single 16-byte Event Ring Segment Table entry: a segment's
// base address and TRB count.
type ERSTEntry struct {
	BaseAddr uint64
	TRBCount uint32
	_        uint32
}

// ERST is the Event Ring Segment Table. This driver uses a single segment
// pointing at the one event ring it allocates, the minimum configuration
// the xHCI specification allows.
type ERST struct {
	frame   mm.Frame
	entries []ERSTEntry
}

// NewERST allocates a one-segment ERST pointing at ring.
func NewERST(ring *Ring) (*ERST, error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}
	base := directAddrFn(frame)
	entries := unsafe.Slice((*ERSTEntry)(unsafe.Pointer(base)), 1)
	entries[0] = ERSTEntry{BaseAddr: uint64(ring.PhysAddr()), TRBCount: uint32(ringCapacity)}
	return &ERST{frame: frame, entries: entries}, nil
}

// PhysAddr returns the ERST's base physical address, written to ERSTBA.
func (e *ERST) PhysAddr() uintptr { return e.frame.Address() }

// ScratchpadArray holds the scratchpad-buffer pointer array DCBAA entry 0
// points at: one physical address per scratchpad buffer the controller's
// capability registers report needing, each backing a dedicated page.
type ScratchpadArray struct {
	frame    mm.Frame
	pointers []uint64
	buffers  []mm.Frame
}

// NewScratchpadArray allocates the pointer array plus one page per
// scratchpad buffer and wires the array entries to them. A count of 0
// returns a nil *ScratchpadArray, matching controllers that report no
// scratchpad buffers required.
func NewScratchpadArray(count uint32) (*ScratchpadArray, error) {
	if count == 0 {
		return nil, nil
	}

	arrFrame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}
	base := directAddrFn(arrFrame)
	pointers := unsafe.Slice((*uint64)(unsafe.Pointer(base)), count)

	sa := &ScratchpadArray{frame: arrFrame, pointers: pointers, buffers: make([]mm.Frame, count)}
	for i := uint32(0); i < count; i++ {
		bufFrame, ferr := mm.AllocFrame()
		if ferr != nil {
			return nil, ferr
		}
		sa.buffers[i] = bufFrame
		pointers[i] = uint64(bufFrame.Address())
	}
	return sa, nil
}

// PhysAddr returns the scratchpad pointer array's own physical address, the
// value DCBAA entry 0 must hold.
func (sa *ScratchpadArray) PhysAddr() uintptr { return sa.frame.Address() }
