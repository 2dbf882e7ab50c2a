// Package pmm implements the bootstrap physical memory allocator: a
// monotonic bump allocator carved out of the single largest conventional
// memory region reported by the firmware's memory map. It owns physical
// memory until the kernel's own paging is active and never frees anything
// it hands out.
package pmm

import (
	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/errors"
	"github.com/calint/uefi-os/kernel/firmware/uefi"
	"github.com/calint/uefi-os/kernel/kfmt"
	"github.com/calint/uefi-os/kernel/mem"
	"github.com/calint/uefi-os/kernel/mm"
)

// Heap is the bump allocator's mutable state. AllocatePages is the only
// way to give memory out; there is no corresponding free.
type Heap struct {
	start uintptr
	size  mem.Size
}

// New scans memMap for the largest contiguous conventional-memory region,
// aligns it up/down to page boundaries and returns the allocator that owns
// it. w receives one line per visited region plus the chosen heap bounds,
// matching the "print the memory map before constructing the heap"
// requirement.
func New(memMap *uefi.MemoryMap, w *kfmt.PrefixWriter) (*Heap, error) {
	var bestStart uintptr
	var bestPages uint64

	for i := 0; i < memMap.Len(); i++ {
		d := memMap.At(i)
		kfmt.Fprintf(w, "region 0x%x - 0x%x type=%d pages=%d\n",
			d.PhysicalStart, d.PhysicalStart+uintptr(d.NumberOfPages)*mm.PageSize, uint32(d.Type), d.NumberOfPages)

		if d.Type != uefi.MemoryConventionalMemory {
			continue
		}
		if d.NumberOfPages > bestPages {
			bestPages = d.NumberOfPages
			bestStart = d.PhysicalStart
		}
	}

	if bestPages == 0 {
		return nil, errors.ErrNotFound
	}

	alignedStart := (bestStart + mm.PageSize - 1) &^ (mm.PageSize - 1)
	end := bestStart + uintptr(bestPages)*mm.PageSize
	alignedEnd := end &^ (mm.PageSize - 1)
	if alignedEnd <= alignedStart {
		return nil, errors.ErrNotFound
	}

	h := &Heap{
		start: alignedStart,
		size:  mem.Size(alignedEnd - alignedStart),
	}

	kfmt.Fprintf(w, "heap 0x%x size=%dKb\n", h.start, uint64(h.size/mem.Kb))

	return h, nil
}

// AllocatePages reserves n contiguous, zeroed, page-aligned pages,
// advancing the heap's start and shrinking its remaining size. Asking for
// more than remains is fatal (ErrOutOfMemory); callers at the boundary
// convert that into a kernel panic.
func (h *Heap) AllocatePages(n uintptr) (uintptr, error) {
	need := mem.Size(n) * mem.PageSize
	if need > h.size {
		return 0, errors.ErrOutOfMemory
	}

	addr := h.start
	h.start += uintptr(need)
	h.size -= need

	kernel.Memset(addr, 0, uintptr(need))

	return addr, nil
}

// Start returns the current, unallocated start of the heap.
func (h *Heap) Start() uintptr { return h.start }

// Size returns the number of unallocated bytes remaining.
func (h *Heap) Size() mem.Size { return h.size }

// VerifyFixedAddress checks that [addr, addr+length) lies entirely within
// a single conventional-memory region reported by memMap. The SMP launcher
// places its trampoline and protected-mode page tables at fixed physical
// addresses outside the heap (they must be addressable from 16-bit real
// mode); this is the safety net that must pass before anything is ever
// written there.
func VerifyFixedAddress(memMap *uefi.MemoryMap, addr uintptr, length uintptr) error {
	for i := 0; i < memMap.Len(); i++ {
		d := memMap.At(i)
		if d.Type != uefi.MemoryConventionalMemory {
			continue
		}
		regionEnd := d.PhysicalStart + uintptr(d.NumberOfPages)*mm.PageSize
		if addr >= d.PhysicalStart && addr+length <= regionEnd {
			return nil
		}
	}
	return errors.ErrNotFound
}
