// Package vmm builds the kernel's identity-mapped 4-level page tables.
// Every mapping covers the same physical and virtual address (there is no
// higher half, no recursive mapping trick and no page-fault handler: this
// kernel never takes a fault it expects to recover from), so table
// construction only ever needs to translate an address into PML4/PDPT/PD/PT
// indices and write the matching physical frame into the right slot.
package vmm

import (
	"unsafe"

	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/cpu"
	"github.com/calint/uefi-os/kernel/mem"
	"github.com/calint/uefi-os/kernel/mm"
)

// Class selects the access flags a range is mapped with, matching the
// memory regions this kernel ever maps: ordinary RAM, MMIO windows (the
// local APIC and I/O APIC registers) and the linear framebuffer.
type Class uint8

const (
	// ClassNormal covers conventional RAM, ACPI reclaim/NVS, loader and
	// boot-services code/data, and bump-allocator heap pages: present and
	// writable, cacheable.
	ClassNormal Class = iota

	// ClassMMIO covers the local APIC and I/O APIC register windows:
	// present, writable, caching disabled.
	ClassMMIO

	// ClassFramebuffer covers the GOP linear framebuffer: present,
	// writable, and marked write-combining through PAT index 4.
	ClassFramebuffer
)

const hugePageSize = uintptr(2 * 1024 * 1024)

// patMSR is IA32_PAT; patIndexWC is the PAT slot ConfigurePAT repoints to
// the write-combining memory type (encoding 0x01).
const (
	patMSR                = 0x277
	patIndexWC            = 4
	patTypeWriteCombining = 0x01
)

// ErrConflictingMapping is returned when a range is mapped a second time
// with different flags than its first mapping. Re-mapping the same range
// with identical flags is a no-op, not an error.
var ErrConflictingMapping = &kernel.Error{Module: "vmm", Message: "range already mapped with different flags"}

// Mapper owns the top-level page table (PML4) and the physical-frame
// source used to allocate new table levels as the identity map grows.
type Mapper struct {
	pml4    *[512]entry
	allocFn func(uintptr) (uintptr, error)
}

// New allocates a fresh, zeroed PML4 from allocFn and returns the mapper
// that owns it.
func New(allocFn func(uintptr) (uintptr, error)) (*Mapper, error) {
	addr, err := allocFn(1)
	if err != nil {
		return nil, err
	}
	return &Mapper{pml4: tableAt(addr), allocFn: allocFn}, nil
}

// PML4Address returns the physical address of the top-level table, the
// value the SMP trampoline's long-mode stage loads into CR3 for each AP.
func (m *Mapper) PML4Address() uintptr {
	return uintptr(unsafe.Pointer(m.pml4))
}

// Activate loads this mapper's PML4 into CR3.
func (m *Mapper) Activate() {
	cpu.SwitchPDT(m.PML4Address())
}

// ConfigurePAT repoints PAT index 4 to the write-combining memory type,
// leaving every other index untouched. Must run before CR3 is first
// loaded with a table containing a write-combining entry; no wbinvd is
// required since no entry using the old PAT contents has been cached yet
// (the Open Question this kernel answers by ordering PAT configuration
// before Activate).
func ConfigurePAT() {
	v := cpu.Rdmsr(patMSR)
	v &^= uint64(0xff) << (8 * patIndexWC)
	v |= uint64(patTypeWriteCombining) << (8 * patIndexWC)
	cpu.Wrmsr(patMSR, v)
}

func classFlags(class Class, huge bool) entry {
	f := flagPresent | flagWritable
	switch class {
	case ClassMMIO:
		f |= flagCacheDisable
	case ClassFramebuffer:
		if huge {
			f |= flagPATHuge
		} else {
			f |= flagPATSmall
		}
	}
	if huge {
		f |= flagHuge
	}
	return f
}

// tableFor returns the child table referenced by parent[idx], allocating
// and linking a fresh one (present, writable) if the slot is empty.
func (m *Mapper) tableFor(parent *[512]entry, idx int) (*[512]entry, error) {
	e := parent[idx]
	if e.present() {
		return tableAt(e.addr()), nil
	}

	addr, err := m.allocFn(1)
	if err != nil {
		return nil, err
	}
	parent[idx] = newEntry(addr, flagPresent|flagWritable)
	return tableAt(addr), nil
}

// MapRange identity-maps [phys, phys+length) with the access flags for
// class, using 2 MiB pages wherever both the current address and the
// remaining length are 2 MiB aligned, and walking down to 4 KiB pages
// otherwise. A length that is not a multiple of 4 KiB is rounded up to the
// next page. Re-mapping an already-mapped page with identical flags is a
// no-op; re-mapping it with different flags is fatal.
func (m *Mapper) MapRange(phys uintptr, length mem.Size, class Class) error {
	addr := phys
	remaining := (uintptr(length) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	for remaining > 0 {
		if addr%hugePageSize == 0 && remaining%hugePageSize == 0 {
			if err := m.mapHuge(addr, class); err != nil {
				return err
			}
			addr += hugePageSize
			remaining -= hugePageSize
			continue
		}

		if err := m.mapSmall(addr, class); err != nil {
			return err
		}
		addr += mm.PageSize
		remaining -= mm.PageSize
	}

	return nil
}

func (m *Mapper) mapHuge(addr uintptr, class Class) error {
	pml4i, pdpti, pdi, _ := indices(addr)

	pdpt, err := m.tableFor(m.pml4, pml4i)
	if err != nil {
		return err
	}
	pd, err := m.tableFor(pdpt, pdpti)
	if err != nil {
		return err
	}

	want := newEntry(addr, classFlags(class, true))
	cur := &pd[pdi]
	if cur.present() {
		// Full-entry comparison: the map is an identity map, so the
		// address bits always match for the same slot, and the PAT bit
		// of a 2 MiB leaf (bit 12) sits inside addrMask where an
		// attrs-only comparison would lose it.
		if *cur == want {
			return nil
		}
		return ErrConflictingMapping
	}
	*cur = want
	return nil
}

func (m *Mapper) mapSmall(addr uintptr, class Class) error {
	pml4i, pdpti, pdi, pti := indices(addr)

	pdpt, err := m.tableFor(m.pml4, pml4i)
	if err != nil {
		return err
	}
	pd, err := m.tableFor(pdpt, pdpti)
	if err != nil {
		return err
	}
	if pd[pdi].present() && pd[pdi]&flagHuge != 0 {
		if pd[pdi] == newEntry(addr&^(hugePageSize-1), classFlags(class, true)) {
			return nil
		}
		return ErrConflictingMapping
	}
	pt, err := m.tableFor(pd, pdi)
	if err != nil {
		return err
	}

	want := newEntry(addr, classFlags(class, false))
	cur := &pt[pti]
	if cur.present() {
		if *cur == want {
			return nil
		}
		return ErrConflictingMapping
	}
	*cur = want
	return nil
}
