package xhci

import "gopheros/kernel"

var (
	errTransferTimeout = &kernel.Error{Module: "xhci", Message: "transfer did not complete before the poll limit"}
	errNoEndpoint       = &kernel.Error{Module: "xhci", Message: "device has no configured endpoint matching the requested number/direction"}
)

// TransferResult reports a completed transfer's outcome. The residual byte
// count is kept under its own name rather than as a pre-subtracted "bytes
// transferred" field, since the two numbers are meaningfully different
// things (a short packet's CompletionCode is ccShortPacket with a nonzero
// BytesRemaining, not a distinguishable "bytes transferred" value on its
// own); BytesTransferred derives the latter for callers who only care
// about it.
type TransferResult struct {
	BytesRemaining uint32
	CompletionCode uint8
}

// BytesTransferred returns how many of the requested bytes the controller
// actually moved, derived from the residual BytesRemaining the completion
// event reported.
func (r TransferResult) BytesTransferred(requested int) int {
	return requested - int(r.BytesRemaining)
}

// pendingTransfer records a transfer this driver is waiting on, keyed by
// the physical address of its final (IOC) TRB, the value the Transfer
// Event carries back in TRB.Parameter.
type pendingTransfer struct {
	trbAddr uintptr
	result  TransferResult
	done    bool
}

// recordTransferCompletion matches an observed Transfer Event TRB against
// this controller's outstanding pending transfers.
func (c *Controller) recordTransferCompletion(event TRB) {
	for i := range c.transfers {
		pt := &c.transfers[i]
		if !pt.done && pt.trbAddr == uintptr(event.Parameter) {
			pt.result = TransferResult{BytesRemaining: event.bytesRemaining(), CompletionCode: event.completionCode()}
			pt.done = true
			return
		}
	}
}

// waitTransfer polls the event ring until the transfer whose final TRB is
// at trbAddr completes, recording any other Transfer Events seen along the
// way; events of other types are consumed and dropped.
func (c *Controller) waitTransfer(trbAddr uintptr) (TransferResult, error) {
	slot := len(c.transfers)
	c.transfers = append(c.transfers, pendingTransfer{trbAddr: trbAddr})

	for i := 0; i < commandSpinLimit; i++ {
		if c.transfers[slot].done {
			result := c.transfers[slot].result
			c.transfers = append(c.transfers[:slot], c.transfers[slot+1:]...)
			return result, nil
		}
		event, ok := c.eventCursor.Peek(c.eventRing)
		if !ok {
			continue
		}
		c.eventCursor.Advance()
		c.writeDequeuePointer()
		if event.trbType() == trbTypeTransferEvent {
			c.recordTransferCompletion(event)
		}
	}
	c.transfers = append(c.transfers[:slot], c.transfers[slot+1:]...)
	return TransferResult{}, errTransferTimeout
}

// ControlTransfer performs a full Setup/Data/Status control transfer on
// slot's endpoint 0, returning the Status stage's completion result. data
// is the DMA-visible buffer for the data stage, nil for a no-data request.
func (c *Controller) ControlTransfer(slot uint8, dev *Device, bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte, dataPhys uintptr, dirIn bool) (TransferResult, error) {
	ring := dev.ep0Ring
	cursor := &dev.ep0Cursor

	trt := trtNoData
	if len(data) > 0 {
		if dirIn {
			trt = trtIn
		} else {
			trt = trtOut
		}
	}
	cursor.Enqueue(ring, setupStageTRB(bmRequestType, bRequest, wValue, wIndex, wLength, uint32(trt), cursor.cycle))
	if len(data) > 0 {
		cursor.Enqueue(ring, dataStageTRB(dataPhys, uint32(len(data)), dirIn, cursor.cycle))
	}
	statusAddr := cursor.Enqueue(ring, statusStageTRB(!dirIn || len(data) == 0, cursor.cycle))

	c.ringDoorbell(slot, 1) // DCI 1 == EP0
	return c.waitTransfer(statusAddr)
}

// BulkTransfer issues a single Normal TRB moving length bytes between
// physAddr and the endpoint identified by epNum/dirIn, waiting for its
// completion.
func (c *Controller) BulkTransfer(slot uint8, dev *Device, epNum uint8, dirIn bool, physAddr uintptr, length uint32) (TransferResult, error) {
	ep := dev.endpoint(epNum, dirIn)
	if ep == nil {
		return TransferResult{}, errNoEndpoint
	}
	addr := ep.cursor.Enqueue(ep.ring, normalTRB(physAddr, length, dirIn, ep.cursor.cycle))
	c.ringDoorbell(slot, uint32(dciForEndpoint(epNum, dirIn)))
	return c.waitTransfer(addr)
}
