package keyboard

import (
	"io"

	"github.com/calint/uefi-os/kernel"
)

// Driver adapts the PS/2 keyboard controller to the device.Driver
// probe/init seam so its bring-up produces the same named, versioned
// diagnostic line as every other device in this kernel.
type Driver struct{}

// NewDriver returns a Driver ready to be passed to device.Probe.
func NewDriver() *Driver {
	return &Driver{}
}

// DriverName implements device.Driver.
func (d *Driver) DriverName() string { return "ps2-keyboard" }

// DriverVersion implements device.Driver.
func (d *Driver) DriverVersion() (major, minor, patch uint16) { return 1, 0, 0 }

// DriverInit drains the controller and enables scanning. It never fails:
// the handshake with the device has no timeout.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	Init()
	return nil
}
