package device

import (
	"gopheros/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver, writing any diagnostic
	// output to the supplied io.Writer.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for a particular piece of hardware and
// returns a driver for it, or nil if the hardware is not present.
type ProbeFn func() Driver
