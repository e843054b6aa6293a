package xhci

// issueCommand enqueues trb on the command ring, rings doorbell 0, and
// polls the event ring until the matching Command Completion Event
// arrives. It returns that event TRB so callers can pull out fields
// specific to the command they issued (the new slot id for
// EnableSlot, for instance).
func (c *Controller) issueCommand(trb TRB) (TRB, error) {
	slotAddr := c.cmdCursor.Enqueue(c.cmdRing, trb)
	c.ringDoorbell(0, 0)

	for i := 0; i < commandSpinLimit; i++ {
		event, ok := c.eventCursor.Peek(c.eventRing)
		if !ok {
			continue
		}
		c.eventCursor.Advance()
		c.writeDequeuePointer()

		if event.trbType() != trbTypeCommandCompletion {
			c.dispatchNonCommandEvent(event)
			continue
		}
		if uintptr(event.Parameter) != slotAddr {
			continue
		}
		code := event.completionCode()
		if code != ccSuccess && code != ccShortPacket {
			return event, errCommandFailed
		}
		return event, nil
	}
	return TRB{}, errCommandFailed
}

// writeDequeuePointer publishes the consumer's current position back to
// ERDP, as the xHCI specification requires after processing event TRBs so
// the controller knows how much event-ring space it has freed.
func (c *Controller) writeDequeuePointer() {
	deq := c.eventRing.PhysAddr() + uintptr(c.eventCursor.index)*trbSize
	c.rtWrite64(c.interrupterOff(0, irERDP), uint64(deq)|1<<3) // EHB
}

// dispatchNonCommandEvent handles event TRBs observed while polling for a
// specific command's completion (port status changes, transfer events for
// transfers issued by a previous call); transfer events are recorded for
// transfer.go's waiters, port status changes are otherwise ignored since
// this driver enumerates ports explicitly rather than reacting to hotplug.
func (c *Controller) dispatchNonCommandEvent(event TRB) {
	switch event.trbType() {
	case trbTypeTransferEvent:
		c.recordTransferCompletion(event)
	case trbTypePortStatusChange:
	}
}

// EnableSlot issues an ENABLE_SLOT command and returns the slot id the
// controller assigned.
func (c *Controller) EnableSlot() (uint8, error) {
	event, err := c.issueCommand(TRB{Control: trbType(trbTypeEnableSlot)})
	if err != nil {
		return 0, err
	}
	return event.slotID(), nil
}

// AddressDevice issues an ADDRESS_DEVICE command for slot using
// inputCtxPhys as the Input Context pointer. bsr requests Block Set
// Address Request semantics (address the slot's context without sending
// SET_ADDRESS on the wire), used for the first of the two ADDRESS_DEVICE
// calls the enumeration sequence makes.
func (c *Controller) AddressDevice(slot uint8, inputCtxPhys uintptr, bsr bool) error {
	ctrl := trbType(trbTypeAddressDevice) | uint32(slot)<<24
	if bsr {
		ctrl |= 1 << 9
	}
	_, err := c.issueCommand(TRB{Parameter: uint64(inputCtxPhys), Control: ctrl})
	return err
}

// ConfigureEndpoint issues a CONFIGURE_ENDPOINT command for slot using
// inputCtxPhys.
func (c *Controller) ConfigureEndpoint(slot uint8, inputCtxPhys uintptr) error {
	ctrl := trbType(trbTypeConfigureEndpoint) | uint32(slot)<<24
	_, err := c.issueCommand(TRB{Parameter: uint64(inputCtxPhys), Control: ctrl})
	return err
}

// NoOp issues a NO_OP command, used by tests and bring-up code to confirm
// the command ring and event ring are wired correctly before attempting
// device enumeration.
func (c *Controller) NoOp() error {
	_, err := c.issueCommand(TRB{Control: trbType(trbTypeNoOpCommand)})
	return err
}
