package fs

import (
	"gopheros/device/tty"
	"gopheros/kernel"
)

// Console adapts a tty.Device to the File interface so it can be installed
// as a task's stdin/stdout/stderr. No keyboard driver exists yet, so Read
// always reports errNotSupported; Write passes through to the tty.
type Console struct {
	tty tty.Device
}

// NewConsole wraps dev as a File.
func NewConsole(dev tty.Device) *Console { return &Console{tty: dev} }

// Read is not yet backed by an input device.
func (c *Console) Read([]byte) (int, *kernel.Error) { return 0, errNotSupported }

// Write sends buf to the underlying tty one byte at a time via its
// io.ByteWriter method, matching how tty.Device expects to be driven.
func (c *Console) Write(buf []byte) (int, *kernel.Error) {
	for i, b := range buf {
		if err := c.tty.WriteByte(b); err != nil {
			return i, &kernel.Error{Module: "fs", Message: err.Error()}
		}
	}
	return len(buf), nil
}

// Seek is unsupported on a character device.
func (c *Console) Seek(int64, SeekWhence) (int64, *kernel.Error) { return 0, errNotSupported }

// Close is a no-op; the console is a shared, kernel-owned device.
func (c *Console) Close() *kernel.Error { return nil }

// Ioctl is unsupported until termios plumbing exists.
func (c *Console) Ioctl(uintptr, uintptr) (uintptr, *kernel.Error) { return 0, errNotSupported }
