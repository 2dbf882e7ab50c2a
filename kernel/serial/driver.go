package serial

import (
	"io"

	"github.com/calint/uefi-os/kernel"
)

// Driver adapts Port to the device.Driver probe/init seam so COM1 bring-up
// produces the same named, versioned diagnostic line as every other
// device in this kernel.
type Driver struct {
	port Port
}

// NewDriver returns a Driver ready to be passed to device.Probe.
func NewDriver() *Driver {
	return &Driver{}
}

// DriverName implements device.Driver.
func (d *Driver) DriverName() string { return "com1-serial" }

// DriverVersion implements device.Driver.
func (d *Driver) DriverVersion() (major, minor, patch uint16) { return 1, 0, 0 }

// DriverInit programs COM1 and records the resulting Port. It never fails:
// there is no handshake to time out on, only register writes.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	d.port = Init()
	return nil
}

// Port returns the initialized port, valid only after DriverInit has run.
func (d *Driver) Port() Port { return d.port }
