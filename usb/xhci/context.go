package xhci

import (
	"gopheros/kernel/mm"
	"unsafe"
)

// SlotContext is the xHCI Slot Context, the first 32-byte context in every
// Device/Input Context, describing the device as a whole (route string,
// speed, number of active endpoint contexts, root-hub port, USB address).
// Assumes CSZ=0 (32-byte contexts); a 64-byte-context controller (CSZ=1) is
// not supported.
type SlotContext struct {
	Dword0 uint32 // route string, speed, MTT, hub, context entries
	Dword1 uint32 // max exit latency, root hub port number, number of ports
	Dword2 uint32 // TT hub slot id, TT port number, interrupter target
	Dword3 uint32 // USB device address, slot state
	_      [4]uint32
}

// EndpointContext is the xHCI Endpoint Context, one per active endpoint
// (DCI 1-31), describing its transfer ring, type and max packet/burst size.
type EndpointContext struct {
	Dword0        uint32 // endpoint state, mult, max primary streams, interval
	Dword1        uint32 // error count, endpoint type, max burst size, max packet size
	TRDequeuePtr  uint64 // transfer ring dequeue pointer | dequeue cycle state bit
	Dword4        uint32 // average TRB length, max ESIT payload
	_             [3]uint32
}

// Endpoint types, Dword1 bits 3-5.
const (
	epTypeControl = 4
	epTypeBulkOut = 2
	epTypeBulkIn  = 6
)

// DeviceContext is a slot's Device Context: a Slot Context followed by up to
// 31 Endpoint Contexts (DCI 1-31), allocated by the driver
// (allocDeviceContext), written by the controller and read by the driver
// after each ADDRESS_DEVICE/CONFIGURE_ENDPOINT command.
type DeviceContext struct {
	Slot      SlotContext
	Endpoints [31]EndpointContext
}

// InputControlContext is the first 32 bytes of an Input Context: Drop/Add
// context bit vectors telling CONFIGURE_ENDPOINT/EVALUATE_CONTEXT which of
// the following Slot/Endpoint contexts to apply.
type InputControlContext struct {
	DropFlags uint32
	AddFlags  uint32
	_         [5]uint32
	_         uint32
}

// InputContext is the full structure ADDRESS_DEVICE and CONFIGURE_ENDPOINT
// read from: an Input Control Context followed by the same Slot+Endpoint
// layout as a Device Context, of which only the contexts flagged in
// AddFlags are consulted by the controller.
type InputContext struct {
	Control InputControlContext
	Slot    SlotContext
	Endpoints [31]EndpointContext
}

// dciForEndpoint returns the Device Context Index for endpoint number epNum
// (1-15) in direction dirIn: DCI = epNum*2 + (dirIn ? 1 : 0), with DCI 1
// reserved for EP0 (control, directionless).
func dciForEndpoint(epNum uint8, dirIn bool) uint8 {
	dci := epNum * 2
	if dirIn {
		dci++
	}
	return dci
}

// allocDeviceContext allocates a zeroed, page-backed Device Context and
// returns its physical address (for DCBAA) and a typed pointer reached
// through the direct map, following the same Frame.DirectAddress technique
// kernel/mm/vmm/pdt.go uses to treat page-table frames as typed structures.
func allocDeviceContext() (phys uintptr, ctx *DeviceContext, err error) {
	frame, ferr := mm.AllocFrame()
	if ferr != nil {
		return 0, nil, ferr
	}
	ctx = (*DeviceContext)(unsafe.Pointer(directAddrFn(frame)))
	*ctx = DeviceContext{}
	return frame.Address(), ctx, nil
}

// allocInputContext allocates a zeroed, page-backed Input Context.
func allocInputContext() (phys uintptr, ctx *InputContext, err error) {
	frame, ferr := mm.AllocFrame()
	if ferr != nil {
		return 0, nil, ferr
	}
	ctx = (*InputContext)(unsafe.Pointer(directAddrFn(frame)))
	*ctx = InputContext{}
	return frame.Address(), ctx, nil
}
