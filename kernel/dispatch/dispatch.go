// Package dispatch is the first Go code an application processor runs: it
// brings its own core up to the same privilege and paging state as the
// bootstrap core, then enters the consumer loop that pulls jobs off the
// shared queue until the machine is powered off.
package dispatch

import (
	"sync/atomic"

	"github.com/calint/uefi-os/kernel/apic"
	"github.com/calint/uefi-os/kernel/cpu"
	"github.com/calint/uefi-os/kernel/gdt"
	"github.com/calint/uefi-os/kernel/idt"
	"github.com/calint/uefi-os/kernel/kfmt"
	"github.com/calint/uefi-os/kernel/queue"
)

// SpuriousVector is the LAPIC spurious-interrupt vector every core,
// including every AP, enables itself with.
const SpuriousVector = 0xFF

// Jobs is the shared job queue every AP consumes from. kmain sets this once,
// before launching any AP.
var Jobs *queue.Queue

// LAPIC is the local APIC MMIO window. It is identical on every core: a
// logical processor's local APIC registers are always accessed through the
// same physical base address, regardless of which core is executing.
var LAPIC apic.LAPIC

// Cores is the flattened APIC-ID table kmain publishes once, before
// launching any AP, so each core can later find its own position in it.
var Cores []uint8

// CoreIndex returns this core's position in Cores by linear scan: the
// local APIC ID register is the only way a core learns its
// own identity, since TrampolineConfig carries no index, only a stack and
// an entry point. Returns false if this core's APIC ID is not in Cores,
// which would mean ACPI parsing and the running hardware disagree.
func CoreIndex() (int, bool) {
	id := LAPIC.ID()
	for i, apicID := range Cores {
		if apicID == id {
			return i, true
		}
	}
	return 0, false
}

// started counts how many APs have reached the consumer loop.
var started uint32

// Started returns how many cores have reached the consumer loop so far.
func Started() uint32 { return atomic.LoadUint32(&started) }

// MarkStarted records that this core reached the consumer loop. Exported
// separately from Entry so a test can drive the same counter without
// touching privileged state.
func MarkStarted() { atomic.AddUint32(&started, 1) }

// apGDT and apIDT are the descriptor tables every application processor
// loads: the same flat GDT the bootstrap core uses, and a deliberately
// empty IDT so any interrupt reaching an AP triple-faults instead of being
// swallowed. Package-level because the CPU keeps dereferencing them for as
// long as they are the active tables, and shared because Load only reads:
// PrepareAPTables writes them exactly once, before the first AP exists.
var (
	apGDT gdt.Table
	apIDT idt.Table
)

// PrepareAPTables builds the shared AP descriptor tables. The bootstrap
// core must call this once before launching any AP.
func PrepareAPTables() {
	apGDT.Build()
	apIDT.Empty()
	apIDT.Prepare()
}

// run is the consumer loop body, a package variable so tests can substitute
// a bounded loop in place of Entry's real infinite one.
var run = func() {
	for {
		if !queue.RunNext(Jobs) {
			cpu.Pause()
		}
	}
}

// Entry is the first Go function any application processor calls, reached
// from the long-mode stage of the SMP trampoline (kernel/smp) with no Go
// runtime scaffolding beneath it beyond the stack the trampoline pointed RSP
// at. It loads the shared AP descriptor tables (the flat GDT and the empty
// IDT: any interrupt reaching an AP is a bug and should crash loudly),
// enables the local APIC and never returns.
//
//go:nosplit
func Entry() {
	apGDT.Load()
	apIDT.Load()

	LAPIC.Enable(SpuriousVector)

	idx, found := CoreIndex()
	if found {
		kfmt.Printf("[dispatch] core index=%d apic_id=%d entering consumer loop\n", idx, LAPIC.ID())
	} else {
		kfmt.Printf("[dispatch] apic_id=%d not found in core table, entering consumer loop anyway\n", LAPIC.ID())
	}

	MarkStarted()
	cpu.EnableInterrupts()

	run()
}

// entryAddr returns the address of Entry itself (entry_amd64.s), the value
// the SMP launcher stamps into TrampolineConfig.EntryPoint.
func entryAddr() uintptr

// EntryPoint exposes entryAddr to other packages (kernel/kmain) without
// exporting the raw asm declaration.
func EntryPoint() uintptr { return entryAddr() }
