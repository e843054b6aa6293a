package xhci

import (
	"gopheros/kernel/mm"
	"unsafe"
)

// directAddrFn resolves a physical frame to its direct-mapped kernel-virtual
// address; overridden in tests. Follows kernel/irqctl's directAddrFn seam.
var directAddrFn = mm.Frame.DirectAddress

// ringCapacity is the number of TRB slots per ring, one page's worth; the
// command/transfer rings reserve their final slot for a Link TRB, so
// ringCapacity-1 TRBs are usable per ring.
const ringCapacity = mm.PageSize / 16 // 16 == unsafe.Sizeof(TRB{})

// Ring is the DMA-visible contents of a command or transfer ring: a flat
// array of TRBs backed by a single physical frame, reached through the
// direct map. Per the driver's ring-cursor design, Ring holds no enqueue/
// dequeue/cycle state itself — that lives in Cursor, a plain Go struct, so
// ring invariants are checkable independently of hardware-observable
// memory.
type Ring struct {
	frame mm.Frame
	trbs  []TRB
}

// NewRing allocates a fresh page-backed ring and, unless isEventRing,
// installs a Link TRB in the final slot pointing back to slot 0 with its
// Toggle Cycle bit set, so producer advancement wraps correctly. Event
// rings never use a Link TRB; the controller is instead told the ring's
// size directly via the ERST.
func NewRing(isEventRing bool) (*Ring, error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	r := &Ring{frame: frame}
	base := directAddrFn(frame)
	r.trbs = unsafe.Slice((*TRB)(unsafe.Pointer(base)), ringCapacity)
	for i := range r.trbs {
		r.trbs[i] = TRB{}
	}

	if !isEventRing {
		last := ringCapacity - 1
		r.trbs[last] = TRB{
			Parameter: uint64(r.PhysAddr()),
			Control:   trbType(trbTypeLink) | trbControlToggleCycle,
		}
	}
	return r, nil
}

// PhysAddr returns the ring's base physical address, as written into
// CRCR/ERSTBA or an Input Context's endpoint-ring-pointer field.
func (r *Ring) PhysAddr() uintptr { return r.frame.Address() }

// usableSlots is the number of TRB slots available to the producer before
// the Link TRB (transfer/command rings only; event rings use the full
// ringCapacity since they carry no Link TRB).
func (r *Ring) usableSlots() int { return ringCapacity - 1 }

// at returns a pointer to the TRB at index i, allowing in-place mutation
// (setting the cycle bit on write, or clearing a consumed event TRB).
func (r *Ring) at(i int) *TRB { return &r.trbs[i] }

// Cursor tracks a single producer or consumer's position within a Ring:
// enqueue/dequeue index and the expected cycle-bit value. Kept separate
// from Ring's DMA-visible contents so the invariant "every TRB in
// [dequeue, enqueue) carries the current cycle bit" can be checked in
// software without re-deriving it from raw memory.
type Cursor struct {
	index int
	cycle bool
}

// NewCursor returns a Cursor positioned at slot 0 with the initial cycle
// state every xHCI ring starts in (true, per the spec's initialization
// requirement that software programs the initial Consumer Cycle State to 1).
func NewCursor() Cursor { return Cursor{index: 0, cycle: true} }

// Enqueue writes trb (with its Cycle bit overwritten to match the cursor's
// current cycle) at the producer's position, advances it, and wraps/toggles
// through the ring's Link TRB if present. It does not ring the doorbell;
// callers do that once after enqueuing a whole TD's TRBs.
func (c *Cursor) Enqueue(r *Ring, trb TRB) uintptr {
	if c.cycle {
		trb.Control |= trbControlCycleBit
	} else {
		trb.Control &^= trbControlCycleBit
	}
	slotAddr := r.PhysAddr() + uintptr(c.index)*trbSize
	*r.at(c.index) = trb

	c.index++
	if c.index == r.usableSlots() {
		link := r.at(r.usableSlots())
		if c.cycle {
			link.Control |= trbControlCycleBit
		} else {
			link.Control &^= trbControlCycleBit
		}
		c.cycle = !c.cycle
		c.index = 0
	}
	return slotAddr
}

// Advance moves an event-ring consumer cursor to the next slot, wrapping to
// 0 and toggling the expected cycle bit at the end of the ring (event rings
// have no Link TRB, so wraparound is purely a cursor computation).
func (c *Cursor) Advance() {
	c.index++
	if c.index == ringCapacity {
		c.index = 0
		c.cycle = !c.cycle
	}
}

// Peek returns the TRB at the consumer's current position and whether it is
// ready to consume (its cycle bit matches the cursor's expected value).
func (c *Cursor) Peek(r *Ring) (TRB, bool) {
	trb := r.at(c.index)
	return *trb, trb.cycle() == c.cycle
}
