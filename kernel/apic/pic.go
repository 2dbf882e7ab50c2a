package apic

import "github.com/calint/uefi-os/kernel/cpu"

const (
	pic1DataPort = 0x21
	pic2DataPort = 0xA1
)

// MaskLegacyPIC masks every line on both cascaded 8259 PICs. Must run
// before the local APIC is enabled so a legacy line can never fire through
// both controllers at once.
func MaskLegacyPIC() {
	cpu.Outb(pic1DataPort, 0xFF)
	cpu.Outb(pic2DataPort, 0xFF)
}
