// Package device defines the probe/init seam every hardware driver in this
// kernel implements, so a bring-up failure produces a named, versioned
// diagnostic line instead of an opaque panic.
package device

import (
	"io"

	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/kfmt"
)

// Driver is implemented by every device driver this kernel brings up.
// Unlike a hosted OS, there is no hot-plug and no discovery list: kmain
// knows the fixed set of devices (COM1, the PS/2 controller) at compile
// time and probes each of them once, in order, during bring-up.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major, minor, patch uint16)

	// DriverInit initializes the device driver, writing any diagnostic
	// output to w.
	DriverInit(w io.Writer) *kernel.Error
}

// Probe initializes drv, logging its name/version and init status to sink
// with a "[driver] name(major.minor.patch): " prefix. Any failure is fatal:
// device bring-up in this kernel has no degraded mode to fall back to.
func Probe(drv Driver, sink io.Writer) {
	var w kfmt.PrefixWriter
	w.Sink = sink

	major, minor, patch := drv.DriverVersion()
	kfmt.Fprintf(&w, "[driver] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)

	if err := drv.DriverInit(&w); err != nil {
		kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
		kfmt.Panic(err)
		return
	}
	kfmt.Fprintf(&w, "initialized\n")
}
