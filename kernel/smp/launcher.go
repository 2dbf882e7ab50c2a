package smp

import (
	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/apic"
	"github.com/calint/uefi-os/kernel/kfmt"
)

// stackPages is the number of 4 KiB pages given to each application
// processor as its own stack. There is no guard page: a stack overflow on
// an AP is a bring-up bug, not a condition this design recovers from.
const stackPages = 4

// ErrStackAlloc wraps a failure to reserve an AP's stack from the bump
// allocator.
var ErrStackAlloc = &kernel.Error{Module: "smp", Message: "failed to allocate AP stack"}

// Launcher starts every application processor discovered in ACPI's core
// table, one at a time, via INIT-SIPI-SIPI.
type Launcher struct {
	LAPIC *apic.LAPIC

	// AllocStack reserves n contiguous pages for one AP's stack. Matches
	// pmm.Heap.AllocatePages's signature exactly, so callers pass it
	// directly.
	AllocStack func(n uintptr) (uintptr, error)

	// KernelPML4 is the real kernel Mapper's top-level table, the
	// identity map every AP adopts once it reaches long mode.
	KernelPML4 uintptr

	// EntryPoint is dispatch.Entry's address: the first Go code every AP
	// runs.
	EntryPoint uintptr

	// TSCTicksPerSecond paces the INIT-SIPI-SIPI timing windows; it comes
	// from apic.LAPIC.CalibrateTimer, already run once on the bootstrap
	// core.
	TSCTicksPerSecond uint64
}

// LaunchAll starts every APIC ID in ids except selfID (the bootstrap
// processor, which is already running and never launched onto itself). Place
// must already have been called once. Returns the first error encountered;
// any core launched before that point keeps running regardless.
func (l *Launcher) LaunchAll(ids []uint8, selfID uint8, w *kfmt.PrefixWriter) error {
	for _, id := range ids {
		if id == selfID {
			continue
		}
		if err := l.launchOne(id); err != nil {
			return err
		}
		kfmt.Fprintf(w, "[smp] started core apic_id=%d\n", uint32(id))
	}
	return nil
}

// launchOne reserves a stack, stamps a fresh TrampolineConfig naming it, and
// drives the INIT-SIPI-SIPI sequence for one APIC ID, then blocks until that
// AP's started flag goes high before returning. Only one trampoline
// instance exists; only one AP is ever mid-launch at a time.
func (l *Launcher) launchOne(apicID uint8) error {
	stackBase, err := l.AllocStack(stackPages)
	if err != nil {
		return ErrStackAlloc
	}
	stackTop := stackBase + stackPages*4096

	writeConfig(l.KernelPML4, stackTop, l.EntryPoint)

	l.LAPIC.SendINIT(apicID)
	apic.DelayMicros(l.TSCTicksPerSecond, 10000)

	l.LAPIC.SendSIPI(apicID, Addr)
	apic.DelayMicros(l.TSCTicksPerSecond, 200)

	l.LAPIC.SendSIPI(apicID, Addr)
	apic.DelayMicros(l.TSCTicksPerSecond, 200)

	pollStarted()

	return nil
}
