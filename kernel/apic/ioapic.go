package apic

import "github.com/calint/uefi-os/kernel/cpu"

const (
	ioRegSel          = 0x00
	ioRegWin          = 0x10
	ioRegRedirectBase = 0x10 // redirection entry n: low dword at 0x10+2n, high at 0x11+2n
)

// IOAPIC is one I/O Advanced Programmable Interrupt Controller's
// index/data MMIO window.
type IOAPIC struct {
	Base uintptr
}

func (io *IOAPIC) write(reg uint8, v uint32) {
	cpu.WriteUint32(io.Base+ioRegSel, uint32(reg))
	cpu.WriteUint32(io.Base+ioRegWin, v)
}

// RouteKeyboard programs the redirection entry for localGSI (the keyboard's
// global system interrupt minus this controller's GSIBase) so it fires
// vector on destAPICID, honoring the polarity/trigger bits carried in
// flags (acpi.KeyboardConfig.Flags, already in I/O APIC redirection-entry
// layout).
func (io *IOAPIC) RouteKeyboard(localGSI uint32, flags uint16, vector uint8, destAPICID uint8) {
	reg := uint8(ioRegRedirectBase + localGSI*2)
	io.write(reg, uint32(vector)|uint32(flags))
	io.write(reg+1, uint32(destAPICID)<<24)
}
