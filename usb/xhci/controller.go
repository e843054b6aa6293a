package xhci

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
	"gopheros/pci"
)

var (
	errNoController  = &kernel.Error{Module: "xhci", Message: "no xHCI controller found via pci.Locate"}
	errNot64BitBAR   = &kernel.Error{Module: "xhci", Message: "BAR0 is not a 64-bit memory BAR"}
	errResetTimeout  = &kernel.Error{Module: "xhci", Message: "controller reset did not complete"}
	errStartTimeout  = &kernel.Error{Module: "xhci", Message: "controller did not clear HCHalted after start"}
	errCommandFailed = &kernel.Error{Module: "xhci", Message: "command TRB did not complete successfully"}
	errUnsupportedContextSize = &kernel.Error{Module: "xhci", Message: "controller requires 64-byte contexts (CSZ=1), which this driver does not support"}
)

// resetSpinLimit and commandSpinLimit bound the busy-wait loops this driver
// uses instead of blocking on an MSI/legacy IRQ; xHCI command/reset
// completion is expected within a few milliseconds on real hardware, and a
// polling driver has no other way to notice a wedged controller.
const (
	resetSpinLimit   = 1_000_000
	commandSpinLimit = 10_000_000
)

// PCILocateFunc matches pci.Locate's signature; Init takes it as an
// argument instead of importing pci directly into every call site, per the
// supplemented PCI stub's "named external interface, handed to Init"
// design.
type PCILocateFunc func(class, subclass, progIF byte) (bus, slot, fn uint8, ok bool)

// Controller is a single xHCI host controller instance: its four register
// regions, the DCBAA/command-ring/event-ring/ERST/scratchpad structures
// every controller needs regardless of how many devices are attached, and
// the per-slot Device records created as ports are enumerated.
type Controller struct {
	bus, slot, fn uint8

	capBase uintptr
	opBase  uintptr
	rtBase  uintptr
	dbBase  uintptr

	dcbaa      *DCBAA
	scratchpad *ScratchpadArray

	cmdRing   *Ring
	cmdCursor Cursor

	eventRing   *Ring
	eventCursor Cursor
	erst        *ERST

	// pendingCompletion and pendingCode record the most recent command's
	// result, polled for by issueCommand after ringing doorbell 0.
	pendingCompletion bool
	pendingCode       uint8
	pendingSlot       uint8

	devices [256]*Device

	// transfers holds outstanding BulkTransfer/ControlTransfer calls
	// waiting for their completion event, appended to and removed from by
	// waitTransfer/recordTransferCompletion in transfer.go.
	transfers []pendingTransfer
}

// Init locates the xHCI controller via locate, maps its BAR0 register
// window through the direct map, resets and reprograms it (DCBAA,
// scratchpad array, command ring, event ring/ERST), and starts it
// (USBCMD.RUN=1). It does not enumerate any ports; call EnumeratePorts
// once Init succeeds.
func Init(locate PCILocateFunc) (*Controller, error) {
	bus, slot, fn, ok := locate(PCIClass, PCISubclass, PCIProgIF)
	if !ok {
		return nil, errNoController
	}
	pci.EnableBusMasterAndMemorySpace(bus, slot, fn)

	const offsetBAR0 = 0x10
	barAddr, ok := pci.BAR64(bus, slot, fn, offsetBAR0)
	if !ok {
		return nil, errNot64BitBAR
	}

	capBase := directAddrFn(mm.FrameFromAddress(barAddr)) + (barAddr & (mm.PageSize - 1))
	c := &Controller{bus: bus, slot: slot, fn: fn, capBase: capBase}

	capLen := uint8(c.capRead32(capCAPLENGTH))
	c.opBase = c.capBase + uintptr(capLen)
	c.rtBase = c.capBase + uintptr(c.capRead32(capRTSOFF)&^0x1f)
	c.dbBase = c.capBase + uintptr(c.capRead32(capDBOFF)&^0x3)

	if c.contextSize() != 32 {
		return nil, errUnsupportedContextSize
	}

	if err := c.resetController(); err != nil {
		return nil, err
	}
	if err := c.setupStructures(); err != nil {
		return nil, err
	}
	if err := c.start(); err != nil {
		return nil, err
	}

	kfmt.Printf("xhci: controller at bus %d slot %d fn %d started, %d ports, %d slots\n",
		bus, slot, fn, c.maxPorts(), c.maxSlots())
	return c, nil
}

func (c *Controller) resetController() error {
	c.opWrite32(opUSBCMD, c.opRead32(opUSBCMD)&^cmdRunStop)
	for i := 0; i < resetSpinLimit; i++ {
		if c.opRead32(opUSBSTS)&stsHCHalted != 0 {
			break
		}
	}

	c.opWrite32(opUSBCMD, c.opRead32(opUSBCMD)|cmdHCReset)
	for i := 0; i < resetSpinLimit; i++ {
		cmd := c.opRead32(opUSBCMD)
		sts := c.opRead32(opUSBSTS)
		if cmd&cmdHCReset == 0 && sts&stsControllerNotReady == 0 {
			return nil
		}
	}
	return errResetTimeout
}

func (c *Controller) setupStructures() error {
	numSlots := c.maxSlots()

	dcbaa, err := NewDCBAA(numSlots)
	if err != nil {
		return err
	}
	c.dcbaa = dcbaa

	if n := c.maxScratchpadBuffers(); n > 0 {
		sa, serr := NewScratchpadArray(n)
		if serr != nil {
			return serr
		}
		c.scratchpad = sa
		dcbaa.SetScratchpadArray(sa.PhysAddr())
	}
	c.opWrite64(opDCBAAP, uint64(dcbaa.PhysAddr()))
	c.opWrite32(opCONFIG, uint32(numSlots))

	cmdRing, err := NewRing(false)
	if err != nil {
		return err
	}
	c.cmdRing = cmdRing
	c.cmdCursor = NewCursor()
	c.opWrite64(opCRCR, uint64(cmdRing.PhysAddr())|1) // RCS=1

	eventRing, err := NewRing(true)
	if err != nil {
		return err
	}
	c.eventRing = eventRing
	c.eventCursor = NewCursor()

	erst, err := NewERST(eventRing)
	if err != nil {
		return err
	}
	c.erst = erst

	c.rtWrite32(c.interrupterOff(0, irERSTSZ), 1)
	c.rtWrite64(c.interrupterOff(0, irERDP), uint64(eventRing.PhysAddr()))
	c.rtWrite64(c.interrupterOff(0, irERSTBA), uint64(erst.PhysAddr()))
	return nil
}

func (c *Controller) start() error {
	c.opWrite32(opUSBCMD, c.opRead32(opUSBCMD)|cmdRunStop)
	for i := 0; i < resetSpinLimit; i++ {
		if c.opRead32(opUSBSTS)&stsHCHalted == 0 {
			return nil
		}
	}
	return errStartTimeout
}

// PortSpeed reads the negotiated USB speed for port (0-based) out of its
// PORTSC register, bits 10-13.
func (c *Controller) PortSpeed(port uint8) uint8 {
	const portSC = 0x00
	return uint8(c.portRead32(port, portSC) >> 10 & 0xf)
}

// PortConnected reports whether a device is currently attached to port.
func (c *Controller) PortConnected(port uint8) bool {
	const portSC = 0x00
	const ccs = uint32(1 << 0)
	return c.portRead32(port, portSC)&ccs != 0
}
