// Package table defines the on-wire layout of the ACPI structures this
// kernel parses: the root pointer, the table header shared by every ACPI
// table, and the MADT together with its variable-length entries.
package table

// RSDPDescriptor is the ACPI 1.0 root system descriptor pointer.
type RSDPDescriptor struct {
	// Signature must contain "RSD PTR " (the last byte is a space).
	Signature [8]byte

	// Checksum is a value that, added to the sum of all other bytes in
	// this descriptor, must total 0.
	Checksum uint8

	OEMID [6]byte

	// Revision is 0 for ACPI 1.0 and 2 for ACPI 2.0 through 6.x.
	Revision uint8

	// RSDTAddr is the physical address of the 32-bit root system
	// descriptor table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor with the ACPI 2.0+ fields. It is
// used whenever RSDPDescriptor.Revision > 1.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// Length is the size of this descriptor in bytes, 36 for ACPI 2.0+.
	Length uint32

	// XSDTAddr is the physical address of the 64-bit root system
	// descriptor table.
	XSDTAddr uint64

	// ExtendedChecksum is a value that, added to the sum of all other
	// bytes in this descriptor, must total 0.
	ExtendedChecksum uint8

	reserved [3]byte
}

// SDTHeader is the common header shared by every ACPI table.
type SDTHeader struct {
	// Signature identifies the table type (e.g. "APIC" for the MADT).
	Signature [4]byte

	// Length is the size of the table, header included.
	Length uint32

	Revision uint8

	// Checksum is a value that, added to the sum of all other bytes in
	// the table, must total 0.
	Checksum uint8

	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	CreatorID       uint32
	CreatorRevision uint32
}

// MADT (Multiple APIC Description Table) describes the interrupt-controller
// topology. It is followed by a sequence of variable-sized MADTEntry
// records.
type MADT struct {
	SDTHeader

	LocalControllerAddress uint32
	Flags                  uint32
}

// MADTEntryLocalAPIC describes one physical processor and its local
// interrupt controller. Each MADTEntry* struct embeds the common header so
// its Go layout lines up with the on-wire record when overlaid at the
// entry's first byte.
type MADTEntryLocalAPIC struct {
	MADTEntry
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

// MADT local-APIC entry flag bits.
const (
	LocalAPICFlagEnabled      = 1 << 0
	LocalAPICFlagOnlineCapable = 1 << 1
)

// MADTEntryIOAPIC describes an I/O Advanced Programmable Interrupt
// Controller.
type MADTEntryIOAPIC struct {
	MADTEntry
	APICID   uint8
	reserved uint8

	// Address is the physical MMIO address of the controller.
	Address uint32

	// GSIBase is the first global system interrupt handled by this
	// controller.
	GSIBase uint32
}

// MADTEntryInterruptSrcOverride maps a legacy ISA IRQ source to a global
// system interrupt, overriding the identity mapping assumed by default.
type MADTEntryInterruptSrcOverride struct {
	MADTEntry
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	Flags           uint16
}

// Interrupt Source Override polarity/trigger flag bits, as encoded by ACPI
// (bits 0-1 polarity, bits 2-3 trigger mode).
const (
	ISOPolarityActiveLow = 0x2
	ISOTriggerLevel      = 0x8
)

// MADTEntryLocalAPICAddrOverride overrides the default local APIC MMIO
// address of 0xFEE00000. The 64-bit address sits at byte offset 4 of the
// record, which a uint64 field would misalign to 8, so it is carried as two
// halves and reassembled by Address.
type MADTEntryLocalAPICAddrOverride struct {
	MADTEntry
	reserved    uint16
	AddressLow  uint32
	AddressHigh uint32
}

// Address reassembles the 64-bit local APIC MMIO address.
func (e *MADTEntryLocalAPICAddrOverride) Address() uint64 {
	return uint64(e.AddressHigh)<<32 | uint64(e.AddressLow)
}

// MADTEntryType identifies the union variant of a MADTEntry.
type MADTEntryType uint8

// The MADT entry types this kernel interprets; all other types are skipped.
const (
	MADTEntryTypeLocalAPIC           MADTEntryType = 0
	MADTEntryTypeIOAPIC              MADTEntryType = 1
	MADTEntryTypeIntSrcOverride      MADTEntryType = 2
	MADTEntryTypeLocalAPICAddrOverride MADTEntryType = 5
)

// MADTEntry is the common header of a MADT entry. Entries are a
// variable-sized union; callers must switch on Type before reinterpreting
// the bytes that follow as one of the MADTEntry* structs above.
type MADTEntry struct {
	Type   MADTEntryType
	Length uint8
}
