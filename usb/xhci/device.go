package xhci

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"unsafe"
)

var errNoConfiguration = &kernel.Error{Module: "xhci", Message: "device's configuration descriptor carried no usable bulk endpoints"}

// USB port speeds, as reported by PORTSC bits 10-13 and required to pick
// EP0's initial max packet size.
const (
	speedFullSpeed = 1
	speedLowSpeed  = 2
	speedHighSpeed = 3
	speedSuperSpeed = 4
)

// ep0MaxPacketSize returns the default EP0 max packet size for speed, per
// the USB specification's per-speed control-endpoint table. Updated to the
// device-reported value once the first 8 bytes of the Device Descriptor
// are read.
func ep0MaxPacketSize(speed uint8) uint16 {
	switch speed {
	case speedLowSpeed:
		return 8
	case speedFullSpeed:
		return 64
	case speedHighSpeed:
		return 64
	case speedSuperSpeed:
		return 512
	default:
		return 8
	}
}

// endpointState is the driver's bookkeeping for one non-EP0 bulk endpoint:
// its transfer ring and producer cursor.
type endpointState struct {
	epNum uint8
	dirIn bool
	ring  *Ring
	cursor Cursor
	maxPacketSize uint16
}

// Device is an enumerated USB device attached to one of the controller's
// root-hub ports: its assigned slot, negotiated speed, parsed descriptors,
// and per-endpoint transfer ring state.
type Device struct {
	Slot  uint8
	Port  uint8
	Speed uint8

	VendorID, ProductID uint16
	Class, SubClass, Protocol uint8

	ep0Ring   *Ring
	ep0Cursor Cursor

	endpoints []endpointState

	inputCtxPhys uintptr
	inputCtx     *InputContext
	devCtxPhys   uintptr
}

// endpoint returns the endpointState for epNum/dirIn, or nil if the device
// has no such configured bulk endpoint.
func (d *Device) endpoint(epNum uint8, dirIn bool) *endpointState {
	for i := range d.endpoints {
		if d.endpoints[i].epNum == epNum && d.endpoints[i].dirIn == dirIn {
			return &d.endpoints[i]
		}
	}
	return nil
}

// EnumeratePorts probes every root-hub port for a connected device and
// enumerates each one found, returning the successfully enumerated
// devices. A single port's enumeration failure does not abort the scan of
// the remaining ports.
func (c *Controller) EnumeratePorts() []*Device {
	var devices []*Device
	for port := uint8(0); port < c.maxPorts(); port++ {
		if !c.PortConnected(port) {
			continue
		}
		dev, err := c.Enumerate(port)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}

// Enumerate runs the full device-enumeration sequence against the device
// attached to port: ENABLE_SLOT, two ADDRESS_DEVICE commands (first with
// BSR to read the first 8 bytes of the Device Descriptor and learn EP0's
// real max packet size, then without BSR to actually address the device),
// a full Device Descriptor and Configuration Descriptor read,
// SET_CONFIGURATION, and CONFIGURE_ENDPOINT for every bulk endpoint the
// configuration descriptor described.
func (c *Controller) Enumerate(port uint8) (*Device, error) {
	speed := c.PortSpeed(port)

	slot, err := c.EnableSlot()
	if err != nil {
		return nil, err
	}

	dev := &Device{Slot: slot, Port: port, Speed: speed}
	c.devices[slot] = dev

	ep0Ring, err := NewRing(false)
	if err != nil {
		return nil, err
	}
	dev.ep0Ring = ep0Ring
	dev.ep0Cursor = NewCursor()

	devCtxPhys, _, err := allocDeviceContext()
	if err != nil {
		return nil, err
	}
	dev.devCtxPhys = devCtxPhys
	c.dcbaa.SetSlot(slot, devCtxPhys)

	inputCtxPhys, inputCtx, err := allocInputContext()
	if err != nil {
		return nil, err
	}
	dev.inputCtxPhys = inputCtxPhys
	dev.inputCtx = inputCtx

	inputCtx.Control.AddFlags = (1 << 0) | (1 << 1) // slot context + EP0 context
	inputCtx.Slot.Dword0 = uint32(1)<<27 | uint32(speed)<<20 // context entries = 1, speed
	inputCtx.Slot.Dword1 = uint32(port+1) << 16
	mps := ep0MaxPacketSize(speed)
	inputCtx.Endpoints[0].Dword1 = epTypeControl<<3 | uint32(mps)<<16
	inputCtx.Endpoints[0].TRDequeuePtr = uint64(ep0Ring.PhysAddr()) | 1 // DCS=1

	if err := c.AddressDevice(slot, inputCtxPhys, true); err != nil {
		return nil, err
	}

	shortDesc := make([]byte, 8)
	shortPhys, shortBuf, err := allocDMABuffer(8)
	if err != nil {
		return nil, err
	}
	if _, err := c.ControlTransfer(slot, dev, 0x80, 6, 0x0100, 0, 8, shortDesc, shortPhys, true); err != nil {
		return nil, err
	}
	copy(shortDesc, shortBuf[:8])
	realMPS := uint16(shortDesc[7])
	if realMPS != 0 {
		mps = realMPS
		if speed == speedSuperSpeed {
			mps = 1 << shortDesc[7]
		}
	}
	inputCtx.Endpoints[0].Dword1 = epTypeControl<<3 | uint32(mps)<<16

	if err := c.AddressDevice(slot, inputCtxPhys, false); err != nil {
		return nil, err
	}

	devDesc := make([]byte, 18)
	devPhys, devBuf, err := allocDMABuffer(18)
	if err != nil {
		return nil, err
	}
	if _, err := c.ControlTransfer(slot, dev, 0x80, 6, 0x0100, 0, 18, devDesc, devPhys, true); err != nil {
		return nil, err
	}
	copy(devDesc, devBuf[:18])
	parseDeviceDescriptor(dev, devDesc)

	cfgDesc := make([]byte, 256)
	cfgPhys, cfgBuf, err := allocDMABuffer(256)
	if err != nil {
		return nil, err
	}
	if _, err := c.ControlTransfer(slot, dev, 0x80, 6, 0x0200, 0, 256, cfgDesc, cfgPhys, true); err != nil {
		return nil, err
	}
	copy(cfgDesc, cfgBuf[:256])
	totalLen := int(cfgDesc[2]) | int(cfgDesc[3])<<8
	if totalLen > len(cfgDesc) {
		totalLen = len(cfgDesc)
	}

	if err := parseConfigDescriptor(dev, cfgDesc[:totalLen]); err != nil {
		return nil, err
	}

	if _, err := c.ControlTransfer(slot, dev, 0x00, 9, 1, 0, 0, nil, 0, false); err != nil {
		return nil, err
	}

	addFlags := uint32(1 << 0)
	for _, ep := range dev.endpoints {
		dci := dciForEndpoint(ep.epNum, ep.dirIn)
		addFlags |= 1 << dci
		epType := epTypeBulkOut
		if ep.dirIn {
			epType = epTypeBulkIn
		}
		inputCtx.Endpoints[dci-1].Dword1 = uint32(epType)<<3 | uint32(ep.maxPacketSize)<<16
		inputCtx.Endpoints[dci-1].TRDequeuePtr = uint64(ep.ring.PhysAddr()) | 1
	}
	inputCtx.Control.DropFlags = 0
	inputCtx.Control.AddFlags = addFlags
	inputCtx.Slot.Dword0 = (inputCtx.Slot.Dword0 &^ (0x1f << 27)) | uint32(len(dev.endpoints)+1)<<27

	if err := c.ConfigureEndpoint(slot, inputCtxPhys); err != nil {
		return nil, err
	}

	return dev, nil
}

// parseDeviceDescriptor fills in dev's VendorID/ProductID/Class fields from
// an 18-byte USB Device Descriptor.
func parseDeviceDescriptor(dev *Device, b []byte) {
	if len(b) < 18 {
		return
	}
	dev.Class = b[4]
	dev.SubClass = b[5]
	dev.Protocol = b[6]
	dev.VendorID = uint16(b[8]) | uint16(b[9])<<8
	dev.ProductID = uint16(b[10]) | uint16(b[11])<<8
}

// parseConfigDescriptor walks a Configuration Descriptor's nested
// Interface and Endpoint descriptors, recording every bulk endpoint found
// into dev.endpoints with a freshly allocated transfer ring each.
func parseConfigDescriptor(dev *Device, b []byte) error {
	const (
		descTypeInterface = 4
		descTypeEndpoint  = 5
		epAttrBulk        = 2
	)

	for i := 0; i+2 <= len(b); {
		length := int(b[i])
		if length < 2 || i+length > len(b) {
			break
		}
		descType := b[i+1]
		switch descType {
		case descTypeEndpoint:
			if length < 7 {
				break
			}
			addr := b[i+2]
			attrs := b[i+3]
			maxPacket := uint16(b[i+4]) | uint16(b[i+5])<<8
			if attrs&0x3 == epAttrBulk {
				epNum := addr & 0x0f
				dirIn := addr&0x80 != 0
				ring, err := NewRing(false)
				if err != nil {
					return err
				}
				dev.endpoints = append(dev.endpoints, endpointState{
					epNum: epNum, dirIn: dirIn, ring: ring, cursor: NewCursor(), maxPacketSize: maxPacket,
				})
			}
		}
		i += length
	}
	if len(dev.endpoints) == 0 {
		return errNoConfiguration
	}
	return nil
}

// allocDMABuffer allocates a page-backed buffer of at least size bytes and
// returns its physical address plus a byte slice view reached through the
// direct map, for control-transfer data stages.
func allocDMABuffer(size int) (uintptr, []byte, error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return 0, nil, err
	}
	base := directAddrFn(frame)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), mm.PageSize)
	for i := range buf[:size] {
		buf[i] = 0
	}
	return frame.Address(), buf, nil
}
