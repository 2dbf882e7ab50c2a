// Package acpi walks the firmware-supplied ACPI tables to recover the
// system's interrupt-controller topology: the set of usable logical
// processors, the installed I/O APICs, and the keyboard's routing.
//
// Parsing happens while UEFI's own identity mapping of physical memory is
// still in effect (ACPI discovery is part of C1, which runs before the
// kernel's own page tables exist), so table addresses are dereferenced
// directly rather than through an explicit mapping call.
package acpi

import (
	"unsafe"

	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/firmware/acpi/table"
	"github.com/calint/uefi-os/kernel/firmware/uefi"
	"github.com/calint/uefi-os/kernel/kfmt"
)

// MaxCores bounds CoreTable; more Local APIC entries than this is a fatal
// scan-time overflow.
const MaxCores = 256

// MaxIOAPICs bounds the scratch list of discovered I/O APICs; more entries
// than this is a fatal scan-time overflow.
const MaxIOAPICs = 8

// Default MMIO addresses used when the MADT carries no override.
const (
	DefaultLocalAPICAddress = 0xFEE00000
	DefaultIOAPICAddress    = 0xFEC00000
	DefaultKeyboardGSI      = 1
)

// Errors returned by Parse. All are fatal in the bring-up sequence; Parse
// never attempts partial recovery.
var (
	ErrNoRSDP              = &kernel.Error{Module: "acpi", Message: "ACPI 2.0+ root pointer not present in firmware configuration table"}
	ErrChecksumMismatch    = &kernel.Error{Module: "acpi", Message: "ACPI table failed checksum validation"}
	ErrMADTNotFound        = &kernel.Error{Module: "acpi", Message: "MADT not present in XSDT"}
	ErrTooManyCores        = &kernel.Error{Module: "acpi", Message: "MADT describes more local APICs than CoreTable capacity"}
	ErrDuplicateAPICID     = &kernel.Error{Module: "acpi", Message: "MADT lists the same local APIC ID twice"}
	ErrTooManyIOAPICs      = &kernel.Error{Module: "acpi", Message: "MADT describes more I/O APICs than the scratch list capacity"}
	ErrMalformedMADTEntry  = &kernel.Error{Module: "acpi", Message: "MADT entry has an invalid length"}
	ErrNoIOAPICForKeyboard = &kernel.Error{Module: "acpi", Message: "no I/O APIC serves the keyboard GSI"}
)

// CoreTable is the ordered, fixed-capacity set of discovered logical
// processors. Entries are APIC IDs; the bootstrap processor is included and
// identified dynamically at dispatch time, not during parsing.
type CoreTable struct {
	ids [MaxCores]uint8
	n   int
}

// Len returns the number of populated entries.
func (c *CoreTable) Len() int { return c.n }

// ID returns the APIC ID at index i.
func (c *CoreTable) ID(i int) uint8 { return c.ids[i] }

func (c *CoreTable) append(apicID uint8) *kernel.Error {
	if c.n >= MaxCores {
		return ErrTooManyCores
	}
	for i := 0; i < c.n; i++ {
		if c.ids[i] == apicID {
			return ErrDuplicateAPICID
		}
	}
	c.ids[c.n] = apicID
	c.n++
	return nil
}

// IOAPIC describes one discovered I/O Advanced Programmable Interrupt
// Controller.
type IOAPIC struct {
	APICID  uint8
	Address uint32
	GSIBase uint32
}

type ioAPICList struct {
	entries [MaxIOAPICs]IOAPIC
	n       int
}

func (l *ioAPICList) append(e IOAPIC) *kernel.Error {
	if l.n >= MaxIOAPICs {
		return ErrTooManyIOAPICs
	}
	l.entries[l.n] = e
	l.n++
	return nil
}

// KeyboardConfig carries the I/O APIC redirection-entry bits the keyboard
// driver needs: the global system interrupt and the polarity/trigger flags,
// matching the I/O APIC redirection-entry layout (bit 13 polarity, bit 15
// trigger).
type KeyboardConfig struct {
	GSI   uint32
	Flags uint16
}

// Keyboard redirection-entry flag bits (I/O APIC layout, not ACPI's).
const (
	KeyboardFlagActiveLow = 1 << 13
	KeyboardFlagLevel     = 1 << 15
)

// Result is the complete output of Parse.
type Result struct {
	Cores            CoreTable
	IOAPICs          []IOAPIC
	Keyboard         KeyboardConfig
	LocalAPICAddress uintptr
}

// KeyboardIOAPIC returns the I/O APIC that should route the keyboard's GSI:
// the one with the greatest GSIBase that is still <= the keyboard GSI. This
// is the only choice that is correct on systems with more than one I/O
// APIC.
func (r *Result) KeyboardIOAPIC() (IOAPIC, *kernel.Error) {
	var (
		best  IOAPIC
		found bool
	)
	for _, io := range r.IOAPICs {
		if io.GSIBase <= r.Keyboard.GSI && (!found || io.GSIBase > best.GSIBase) {
			best = io
			found = true
		}
	}
	if !found {
		return IOAPIC{}, ErrNoIOAPICForKeyboard
	}
	return best, nil
}

// Parse locates the ACPI 2.0+ RSDP via the firmware configuration table,
// walks the XSDT validating checksums along the way, and extracts the
// interrupt topology from the MADT.
func Parse(st *uefi.SystemTable, w *kfmt.PrefixWriter) (Result, *kernel.Error) {
	res := Result{
		LocalAPICAddress: DefaultLocalAPICAddress,
		Keyboard:         KeyboardConfig{GSI: DefaultKeyboardGSI},
	}

	rsdtAddr, err := locateRSDT(st)
	if err != nil {
		return res, err
	}

	var ioapics ioAPICList

	xsdt, err := mapTableHeader(rsdtAddr)
	if err != nil {
		return res, err
	}

	entryCount := (xsdt.Length - uint32(unsafe.Sizeof(table.SDTHeader{}))) / 8
	entriesBase := rsdtAddr + unsafe.Sizeof(table.SDTHeader{})

	var madt *table.MADT
	for i := uint32(0); i < entryCount; i++ {
		tableAddr := uintptr(*(*uint64)(unsafe.Pointer(entriesBase + uintptr(i)*8)))

		hdr, terr := mapTableHeader(tableAddr)
		if terr != nil {
			if terr == ErrChecksumMismatch {
				kfmt.Fprintf(w, "[acpi] table at 0x%x failed checksum, skipping\n", tableAddr)
				continue
			}
			return res, terr
		}

		if string(hdr.Signature[:]) == "APIC" {
			madt = (*table.MADT)(unsafe.Pointer(tableAddr))
		}
	}

	if madt == nil {
		return res, ErrMADTNotFound
	}

	if madt.LocalControllerAddress != 0 {
		res.LocalAPICAddress = uintptr(madt.LocalControllerAddress)
	}

	if err = parseMADTEntries(madt, &res.Cores, &ioapics, &res.Keyboard, &res.LocalAPICAddress); err != nil {
		return res, err
	}

	// The default only stands in when the MADT declares no I/O APIC at
	// all; a declared controller at another address must not compete with
	// a phantom entry for the keyboard GSI.
	if ioapics.n == 0 {
		ioapics.append(IOAPIC{Address: DefaultIOAPICAddress, GSIBase: 0})
	}

	res.IOAPICs = ioapics.entries[:ioapics.n]

	kfmt.Fprintf(w, "[acpi] %d logical processor(s), %d I/O APIC(s), keyboard gsi=%d flags=0x%x\n",
		res.Cores.Len(), len(res.IOAPICs), res.Keyboard.GSI, res.Keyboard.Flags)

	return res, nil
}

// parseMADTEntries walks the variable-length entry stream following the
// MADT header.
func parseMADTEntries(madt *table.MADT, cores *CoreTable, ioapics *ioAPICList, kbd *KeyboardConfig, lapicAddr *uintptr) *kernel.Error {
	base := uintptr(unsafe.Pointer(madt)) + unsafe.Sizeof(table.MADT{})
	end := uintptr(unsafe.Pointer(madt)) + uintptr(madt.Length)

	for cur := base; cur < end; {
		entry := (*table.MADTEntry)(unsafe.Pointer(cur))
		if entry.Length < 2 {
			return ErrMalformedMADTEntry
		}

		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			la := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(cur))
			if la.Flags&(table.LocalAPICFlagEnabled|table.LocalAPICFlagOnlineCapable) != 0 {
				if err := cores.append(la.APICID); err != nil {
					return err
				}
			}

		case table.MADTEntryTypeIOAPIC:
			io := (*table.MADTEntryIOAPIC)(unsafe.Pointer(cur))
			if err := ioapics.append(IOAPIC{APICID: io.APICID, Address: io.Address, GSIBase: io.GSIBase}); err != nil {
				return err
			}

		case table.MADTEntryTypeIntSrcOverride:
			iso := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(cur))
			if iso.IRQSrc == 1 {
				kbd.GSI = iso.GlobalInterrupt
				kbd.Flags = 0
				if iso.Flags&table.ISOPolarityActiveLow != 0 {
					kbd.Flags |= KeyboardFlagActiveLow
				}
				if iso.Flags&table.ISOTriggerLevel != 0 {
					kbd.Flags |= KeyboardFlagLevel
				}
			}

		case table.MADTEntryTypeLocalAPICAddrOverride:
			ovr := (*table.MADTEntryLocalAPICAddrOverride)(unsafe.Pointer(cur))
			*lapicAddr = uintptr(ovr.Address())
		}

		cur += uintptr(entry.Length)
	}

	return nil
}

// mapTableHeader dereferences the SDTHeader at tableAddr and validates its
// checksum over the table's full reported length.
func mapTableHeader(tableAddr uintptr) (*table.SDTHeader, *kernel.Error) {
	hdr := (*table.SDTHeader)(unsafe.Pointer(tableAddr))
	if !validChecksum(tableAddr, hdr.Length) {
		return hdr, ErrChecksumMismatch
	}
	return hdr, nil
}

// validChecksum sums tableLength bytes starting at tablePtr; ACPI tables are
// valid iff that sum is zero mod 256.
func validChecksum(tablePtr uintptr, tableLength uint32) bool {
	var sum uint8
	for i := uint32(0); i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}
	return sum == 0
}

// locateRSDT walks the firmware configuration table for the ACPI 2.0+ GUID
// and returns the physical address of the XSDT referenced by the RSDP found
// there. GUID comparison is byte-by-byte (GUID.Equal) to avoid any
// assumption about firmware alignment.
func locateRSDT(st *uefi.SystemTable) (uintptr, *kernel.Error) {
	addr, ok := st.FindConfigTable(uefi.ACPI20TableGUID)
	if !ok {
		return 0, ErrNoRSDP
	}

	// The on-wire descriptor is 36 bytes; unsafe.Sizeof would report 40
	// because of trailing struct padding, pulling 4 bytes of unrelated
	// firmware memory into the sum.
	const extRSDPSize = 36

	rsdp := (*table.ExtRSDPDescriptor)(unsafe.Pointer(addr))
	if !validChecksum(addr, extRSDPSize) {
		return 0, ErrChecksumMismatch
	}

	return uintptr(rsdp.XSDTAddr), nil
}
