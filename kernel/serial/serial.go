// Package serial drives the COM1 16550 UART as the kernel's diagnostic
// sink: the earliest byte-oriented writer that kfmt.SetOutputSink can be
// pointed at, long before a framebuffer console would be usable.
package serial

import "github.com/calint/uefi-os/kernel/cpu"

const (
	com1 = 0x3F8

	regData      = com1 + 0
	regDivLo     = com1 + 0
	regIntEnable = com1 + 1
	regDivHi     = com1 + 1
	regFIFOCtrl  = com1 + 2
	regLineCtrl  = com1 + 3
	regModemCtrl = com1 + 4
	regLineStat  = com1 + 5

	divisorBaud38400 = 3 // 115200 / 38400

	lineCtrlDLAB     = 0x80
	lineCtrl8N1      = 0x03
	fifoEnableClear  = 0xC7
	modemCtrlDefault = 0x0B

	lineStatTxEmpty = 1 << 5
)

// Port is the byte-oriented sink the rest of the kernel writes diagnostics
// to. It implements io.Writer so it can be wrapped in a kfmt.PrefixWriter
// per bring-up phase.
type Port struct{}

// Init programs COM1 for 38400 8-N-1 and masks every UART interrupt
// source: diagnostics are written by polling the line-status register, and
// an unmasked 16550 raising a line before the IDT exists would wedge the
// machine.
func Init() Port {
	cpu.Outb(regIntEnable, 0x00)

	cpu.Outb(regLineCtrl, lineCtrlDLAB)
	cpu.Outb(regDivLo, divisorBaud38400&0xFF)
	cpu.Outb(regDivHi, (divisorBaud38400>>8)&0xFF)
	cpu.Outb(regLineCtrl, lineCtrl8N1)

	cpu.Outb(regFIFOCtrl, fifoEnableClear)
	cpu.Outb(regModemCtrl, modemCtrlDefault)

	return Port{}
}

// Write implements io.Writer, spinning on the "transmit holding register
// empty" status bit before each byte.
func (Port) Write(p []byte) (int, error) {
	for _, b := range p {
		for cpu.Inb(regLineStat)&lineStatTxEmpty == 0 {
		}
		cpu.Outb(regData, b)
	}
	return len(p), nil
}
