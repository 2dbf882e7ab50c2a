package acpi

import (
	"testing"
	"unsafe"

	"github.com/calint/uefi-os/kernel/firmware/acpi/table"
	"github.com/calint/uefi-os/kernel/firmware/uefi"
)

// fixture assembles a fake firmware configuration table, RSDP, XSDT and
// MADT in host memory so Parse can walk them exactly the way it walks the
// real firmware-provided tables. The buffers are kept referenced for the
// lifetime of the fixture so the addresses handed to Parse stay valid.
type fixture struct {
	madt   []byte
	xsdt   []byte
	rsdp   *table.ExtRSDPDescriptor
	cfg    []uefi.ConfigurationTable
	sysTbl uefi.SystemTable
}

func (f *fixture) systemTable() *uefi.SystemTable {
	f.sysTbl = uefi.SystemTable{
		NumberOfTableEntries: uintptr(len(f.cfg)),
	}
	if len(f.cfg) != 0 {
		f.sysTbl.ConfigurationTable = &f.cfg[0]
	}
	return &f.sysTbl
}

func checksumFix(buf []byte, at int) {
	buf[at] = 0
	var sum uint8
	for _, b := range buf {
		sum += b
	}
	buf[at] = uint8(-sum)
}

// buildMADT produces an "APIC"-signature table containing the supplied raw
// entry bytes, with a valid checksum unless corrupt is set.
func buildMADT(entries []byte, corrupt bool) []byte {
	hdrSize := int(unsafe.Sizeof(table.MADT{}))
	buf := make([]byte, hdrSize+len(entries))
	copy(buf, "APIC")
	putU32(buf, 4, uint32(len(buf))) // Length
	copy(buf[hdrSize:], entries)

	checksumFix(buf, 9)
	if corrupt {
		buf[9]++
	}
	return buf
}

func buildXSDT(tableAddrs ...uintptr) []byte {
	hdrSize := int(unsafe.Sizeof(table.SDTHeader{}))
	buf := make([]byte, hdrSize+8*len(tableAddrs))
	copy(buf, "XSDT")
	putU32(buf, 4, uint32(len(buf)))
	for i, addr := range tableAddrs {
		putU64(buf, hdrSize+8*i, uint64(addr))
	}
	checksumFix(buf, 9)
	return buf
}

func newFixture(madtEntries []byte) *fixture {
	return newFixtureOpts(madtEntries, false, true)
}

func newFixtureOpts(madtEntries []byte, corruptMADT, withMADT bool) *fixture {
	f := &fixture{}

	var xsdtEntries []uintptr
	if withMADT {
		f.madt = buildMADT(madtEntries, corruptMADT)
		xsdtEntries = append(xsdtEntries, uintptr(unsafe.Pointer(&f.madt[0])))
	}
	f.xsdt = buildXSDT(xsdtEntries...)

	f.rsdp = &table.ExtRSDPDescriptor{}
	copy(f.rsdp.Signature[:], "RSD PTR ")
	f.rsdp.Revision = 2
	f.rsdp.Length = 36
	f.rsdp.XSDTAddr = uint64(uintptr(unsafe.Pointer(&f.xsdt[0])))
	rsdpBytes := unsafe.Slice((*byte)(unsafe.Pointer(f.rsdp)), 36)
	checksumFix(rsdpBytes, int(unsafe.Offsetof(f.rsdp.ExtendedChecksum)))

	f.cfg = []uefi.ConfigurationTable{
		{VendorGUID: uefi.ACPI20TableGUID, VendorTable: uintptr(unsafe.Pointer(f.rsdp))},
	}
	return f
}

func putU16(buf []byte, at int, v uint16) {
	buf[at] = byte(v)
	buf[at+1] = byte(v >> 8)
}

func putU32(buf []byte, at int, v uint32) {
	for i := 0; i < 4; i++ {
		buf[at+i] = byte(v >> (8 * i))
	}
}

func putU64(buf []byte, at int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[at+i] = byte(v >> (8 * i))
	}
}

// Raw MADT entry encoders, mirroring the on-wire records rather than the
// Go structs so the test exercises the parser's layout assumptions too.

func entryLocalAPIC(procID, apicID uint8, flags uint32) []byte {
	e := make([]byte, 8)
	e[0] = byte(table.MADTEntryTypeLocalAPIC)
	e[1] = 8
	e[2] = procID
	e[3] = apicID
	putU32(e, 4, flags)
	return e
}

func entryIOAPIC(apicID uint8, addr, gsiBase uint32) []byte {
	e := make([]byte, 12)
	e[0] = byte(table.MADTEntryTypeIOAPIC)
	e[1] = 12
	e[2] = apicID
	putU32(e, 4, addr)
	putU32(e, 8, gsiBase)
	return e
}

func entryISO(src uint8, gsi uint32, flags uint16) []byte {
	e := make([]byte, 10)
	e[0] = byte(table.MADTEntryTypeIntSrcOverride)
	e[1] = 10
	e[2] = 0 // bus: ISA
	e[3] = src
	putU32(e, 4, gsi)
	putU16(e, 8, flags)
	return e
}

func entryLocalAPICAddrOverride(addr uint64) []byte {
	e := make([]byte, 12)
	e[0] = byte(table.MADTEntryTypeLocalAPICAddrOverride)
	e[1] = 12
	putU64(e, 4, addr)
	return e
}

func concat(entries ...[]byte) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func TestParseSingleCore(t *testing.T) {
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryIOAPIC(1, DefaultIOAPICAddress, 0),
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if res.Cores.Len() != 1 {
		t.Fatalf("core count = %d, want 1", res.Cores.Len())
	}
	if res.Cores.ID(0) != 0 {
		t.Fatalf("cores[0] = %d, want 0", res.Cores.ID(0))
	}
	if len(res.IOAPICs) != 1 || res.IOAPICs[0].Address != DefaultIOAPICAddress {
		t.Fatalf("unexpected I/O APIC list: %+v", res.IOAPICs)
	}
	if res.Keyboard.GSI != DefaultKeyboardGSI || res.Keyboard.Flags != 0 {
		t.Fatalf("keyboard config = %+v, want default gsi=%d flags=0", res.Keyboard, DefaultKeyboardGSI)
	}
	if res.LocalAPICAddress != DefaultLocalAPICAddress {
		t.Fatalf("lapic address = 0x%x, want default 0x%x", res.LocalAPICAddress, uintptr(DefaultLocalAPICAddress))
	}
}

func TestParseCoreEnableFlags(t *testing.T) {
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryLocalAPIC(1, 1, table.LocalAPICFlagOnlineCapable),
		entryLocalAPIC(2, 2, 0), // neither enabled nor online-capable
		entryLocalAPIC(3, 3, table.LocalAPICFlagEnabled),
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if res.Cores.Len() != 3 {
		t.Fatalf("core count = %d, want 3 (disabled cores excluded)", res.Cores.Len())
	}
	want := []uint8{0, 1, 3}
	for i, id := range want {
		if res.Cores.ID(i) != id {
			t.Fatalf("cores[%d] = %d, want %d", i, res.Cores.ID(i), id)
		}
	}
}

func TestParseKeyboardOverride(t *testing.T) {
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryIOAPIC(1, DefaultIOAPICAddress, 0),
		entryISO(1, 2, table.ISOPolarityActiveLow|table.ISOTriggerLevel),
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if res.Keyboard.GSI != 2 {
		t.Fatalf("keyboard gsi = %d, want 2", res.Keyboard.GSI)
	}
	if res.Keyboard.Flags != KeyboardFlagActiveLow|KeyboardFlagLevel {
		t.Fatalf("keyboard flags = 0x%x, want bits 13 and 15 set", res.Keyboard.Flags)
	}
}

func TestParseNonKeyboardOverrideIgnored(t *testing.T) {
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryISO(0, 2, table.ISOTriggerLevel), // IRQ 0, not the keyboard
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Keyboard.GSI != DefaultKeyboardGSI || res.Keyboard.Flags != 0 {
		t.Fatalf("keyboard config = %+v, want untouched defaults", res.Keyboard)
	}
}

func TestParseLocalAPICAddrOverride(t *testing.T) {
	const override = uint64(0xFEE10000)
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryLocalAPICAddrOverride(override),
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.LocalAPICAddress != uintptr(override) {
		t.Fatalf("lapic address = 0x%x, want 0x%x", res.LocalAPICAddress, uintptr(override))
	}
}

func TestParseDefaultIOAPICWhenNoneDeclared(t *testing.T) {
	f := newFixture(entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.IOAPICs) != 1 {
		t.Fatalf("I/O APIC count = %d, want 1 (the default)", len(res.IOAPICs))
	}
	if res.IOAPICs[0].Address != DefaultIOAPICAddress || res.IOAPICs[0].GSIBase != 0 {
		t.Fatalf("default I/O APIC = %+v", res.IOAPICs[0])
	}
}

func TestParseDeclaredIOAPICReplacesDefault(t *testing.T) {
	const declared = uint32(0xFEC10000)
	f := newFixture(concat(
		entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled),
		entryIOAPIC(1, declared, 0),
	))

	res, err := Parse(f.systemTable(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.IOAPICs) != 1 || res.IOAPICs[0].Address != declared {
		t.Fatalf("I/O APIC list = %+v, want only the declared controller", res.IOAPICs)
	}
}

func TestParseNoRSDP(t *testing.T) {
	f := newFixture(nil)
	f.cfg = nil

	if _, err := Parse(f.systemTable(), nil); err != ErrNoRSDP {
		t.Fatalf("Parse: got %v, want ErrNoRSDP", err)
	}
}

func TestParseMADTNotFound(t *testing.T) {
	f := newFixtureOpts(nil, false, false)

	if _, err := Parse(f.systemTable(), nil); err != ErrMADTNotFound {
		t.Fatalf("Parse: got %v, want ErrMADTNotFound", err)
	}
}

func TestParseCorruptMADTSkipped(t *testing.T) {
	f := newFixtureOpts(entryLocalAPIC(0, 0, table.LocalAPICFlagEnabled), true, true)

	// A table failing its checksum is skipped, so the MADT is never seen.
	if _, err := Parse(f.systemTable(), nil); err != ErrMADTNotFound {
		t.Fatalf("Parse: got %v, want ErrMADTNotFound", err)
	}
}

func TestParseMalformedEntryLength(t *testing.T) {
	bad := []byte{byte(table.MADTEntryTypeLocalAPIC), 1} // length < header size
	f := newFixture(bad)

	if _, err := Parse(f.systemTable(), nil); err != ErrMalformedMADTEntry {
		t.Fatalf("Parse: got %v, want ErrMalformedMADTEntry", err)
	}
}

func TestParseDuplicateAPICID(t *testing.T) {
	f := newFixture(concat(
		entryLocalAPIC(0, 7, table.LocalAPICFlagEnabled),
		entryLocalAPIC(1, 7, table.LocalAPICFlagEnabled),
	))

	if _, err := Parse(f.systemTable(), nil); err != ErrDuplicateAPICID {
		t.Fatalf("Parse: got %v, want ErrDuplicateAPICID", err)
	}
}

func TestParseTooManyCores(t *testing.T) {
	var entries []byte
	for i := 0; i <= MaxCores; i++ {
		entries = append(entries, entryLocalAPIC(uint8(i), uint8(i), table.LocalAPICFlagEnabled)...)
	}
	f := newFixture(entries)

	if _, err := Parse(f.systemTable(), nil); err != ErrTooManyCores {
		t.Fatalf("Parse: got %v, want ErrTooManyCores", err)
	}
}

func TestParseTooManyIOAPICs(t *testing.T) {
	var entries []byte
	for i := 0; i <= MaxIOAPICs; i++ {
		entries = append(entries, entryIOAPIC(uint8(i), 0xFEC00000+uint32(i)*0x1000, uint32(i)*24)...)
	}
	f := newFixture(entries)

	if _, err := Parse(f.systemTable(), nil); err != ErrTooManyIOAPICs {
		t.Fatalf("Parse: got %v, want ErrTooManyIOAPICs", err)
	}
}

func TestKeyboardIOAPICSelection(t *testing.T) {
	cases := []struct {
		name     string
		ioapics  []IOAPIC
		gsi      uint32
		wantBase uint32
		wantErr  bool
	}{
		{
			name:     "single controller",
			ioapics:  []IOAPIC{{Address: 0xFEC00000, GSIBase: 0}},
			gsi:      1,
			wantBase: 0,
		},
		{
			name: "highest base not exceeding gsi wins",
			ioapics: []IOAPIC{
				{Address: 0xFEC00000, GSIBase: 0},
				{Address: 0xFEC10000, GSIBase: 24},
			},
			gsi:      25,
			wantBase: 24,
		},
		{
			name: "low gsi stays on the first controller",
			ioapics: []IOAPIC{
				{Address: 0xFEC00000, GSIBase: 0},
				{Address: 0xFEC10000, GSIBase: 24},
			},
			gsi:      2,
			wantBase: 0,
		},
		{
			name:    "no controller serves the gsi",
			ioapics: []IOAPIC{{Address: 0xFEC10000, GSIBase: 24}},
			gsi:     2,
			wantErr: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := Result{IOAPICs: c.ioapics, Keyboard: KeyboardConfig{GSI: c.gsi}}
			io, err := res.KeyboardIOAPIC()
			if c.wantErr {
				if err != ErrNoIOAPICForKeyboard {
					t.Fatalf("got %v, want ErrNoIOAPICForKeyboard", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("KeyboardIOAPIC: %v", err)
			}
			if io.GSIBase != c.wantBase {
				t.Fatalf("selected gsi base %d, want %d", io.GSIBase, c.wantBase)
			}
		})
	}
}
