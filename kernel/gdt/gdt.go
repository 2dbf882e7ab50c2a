// Package gdt builds and loads the kernel's global descriptor table: a
// null descriptor plus one ring-0 64-bit code and one ring-0 data
// descriptor. Base and limit are irrelevant to the CPU for code/data
// segments in long mode, so only the access and flag bytes carry meaning.
package gdt

import (
	"unsafe"

	"github.com/calint/uefi-os/kernel/cpu"
)

// Selectors into the table. idt.Table.InstallBootstrap and the SMP
// trampoline's protected-mode GDT both assume code occupies index 1.
const (
	NullSelector = uint16(0 * 8)
	CodeSelector = uint16(1 * 8)
	DataSelector = uint16(2 * 8)
)

const (
	accessPresent  = uint8(1 << 7)
	accessS        = uint8(1 << 4) // code/data, not a system descriptor
	accessExec     = uint8(1 << 3)
	accessRW       = uint8(1 << 1) // readable for code, writable for data

	flagLongCode = uint8(1 << 1) // "L" bit, code descriptors only
)

func descriptor(access, flags uint8) uint64 {
	return uint64(access)<<40 | uint64(flags&0xf)<<52
}

// Table is the 3-entry GDT and the CPU pseudo-descriptor used to load it.
// Load only reads the table, so one built instance can be loaded by any
// number of cores; package dispatch loads a single shared instance on every
// AP, separate from the bootstrap core's.
type Table struct {
	entries [3]uint64
	ptr     struct {
		limit uint16
		base  uint64
	}
}

// Build populates the null/code/data descriptors and the pseudo-descriptor
// that points at them. Separated from Load so the layout can be exercised
// without executing a privileged instruction.
func (t *Table) Build() {
	t.entries[0] = 0
	t.entries[1] = descriptor(accessPresent|accessS|accessExec|accessRW, flagLongCode)
	t.entries[2] = descriptor(accessPresent|accessS|accessRW, 0)

	t.ptr.limit = uint16(unsafe.Sizeof(t.entries) - 1)
	t.ptr.base = uint64(uintptr(unsafe.Pointer(&t.entries[0])))
}

// Load installs an already-built table, flushing CS via the LGDT +
// far-return idiom in cpu.LoadGDT and reloading the data segment registers
// with the data selector. Load performs no writes to the table, so any
// number of cores may load the same built instance.
func (t *Table) Load() {
	cpu.LoadGDT(uintptr(unsafe.Pointer(&t.ptr)), CodeSelector)
	cpu.LoadDataSegments(DataSelector)
}

// Install builds the table and loads it. The table must outlive its use as
// the active GDT, so callers keep the instance at a stable address
// (package-level, in practice) rather than on a transient stack frame.
func (t *Table) Install() {
	t.Build()
	t.Load()
}
