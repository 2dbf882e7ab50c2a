// Package keyboard drives the PS/2 keyboard controller: draining any
// stale output, enabling scanning, and handing back raw scancodes for the
// interrupt handler to read. Scancode translation and on-screen display are
// external collaborators outside this kernel's scope.
package keyboard

import "github.com/calint/uefi-os/kernel/cpu"

const (
	dataPort   = 0x60
	statusPort = 0x64

	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1

	cmdEnableScanning = 0xF4
	ackByte           = 0xFA
)

// Init drains the controller's output buffer, waits for its input buffer
// to empty, sends "enable scanning" and waits for the device's
// acknowledgement. There is no timeout: the hardware is assumed correct.
func Init() {
	for cpu.Inb(statusPort)&statusOutputFull != 0 {
		cpu.Inb(dataPort)
	}

	for cpu.Inb(statusPort)&statusInputFull != 0 {
	}
	cpu.Outb(dataPort, cmdEnableScanning)

	for cpu.Inb(dataPort) != ackByte {
	}
}

// ReadScancode reads one scancode byte from the data port. Called from the
// keyboard interrupt handler once per delivered interrupt.
func ReadScancode() uint8 {
	return cpu.Inb(dataPort)
}
