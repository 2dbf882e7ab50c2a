// Package idt builds and loads the interrupt descriptor table. Only two
// gates are ever populated — the LAPIC timer (vector 32) and the PS/2
// keyboard (vector 33) — because every other vector is either a CPU
// exception this design declares unhandled (the resulting triple-fault
// causes a hardware reset) or simply unused.
// Application processors load a completely empty table: any interrupt
// reaching an AP is a bring-up bug and should crash loudly, not be
// swallowed by a helpful default handler.
package idt

import "unsafe"

// Vector identifies an IDT slot.
type Vector uint8

// The two vectors this kernel ever services.
const (
	VectorTimer    Vector = 32
	VectorKeyboard Vector = 33
)

const numEntries = 256

// gateType64Interrupt is the IDT gate type for a 64-bit interrupt gate
// (clears IF on entry, unlike a trap gate).
const gateType64Interrupt = 0xE

// gateDescriptor is a single 16-byte IDT entry.
type gateDescriptor struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

func newGate(handlerAddr uintptr, codeSelector uint16, present bool) gateDescriptor {
	var typeAttr uint8 = gateType64Interrupt
	if present {
		typeAttr |= 1 << 7
	}
	return gateDescriptor{
		offsetLow:  uint16(handlerAddr),
		selector:   codeSelector,
		istAndZero: 0,
		typeAttr:   typeAttr,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

// Table is the 256-entry interrupt descriptor table and the CPU-format
// pseudo-descriptor used to load it via LIDT.
type Table struct {
	entries [numEntries]gateDescriptor
	ptr     struct {
		limit uint16
		base  uint64
	}
}

// Empty resets the table to all-absent gates, matching the AP bring-up
// requirement of an empty IDT.
func (t *Table) Empty() {
	for i := range t.entries {
		t.entries[i] = gateDescriptor{}
	}
}

// InstallBootstrap populates the two bootstrap-core gates: the timer and
// the keyboard, both 64-bit interrupt gates at DPL 0 using the kernel code
// selector (GDT index 1, matching the layout built by package gdt).
func (t *Table) InstallBootstrap(codeSelector uint16) {
	t.Empty()
	t.entries[VectorTimer] = newGate(timerEntryAddr(), codeSelector, true)
	t.entries[VectorKeyboard] = newGate(keyboardEntryAddr(), codeSelector, true)
	t.Prepare()
}

// Prepare computes the pseudo-descriptor pointing at this table's entries.
// Split from Load so a table shared by several cores is written exactly
// once; Load itself only reads.
func (t *Table) Prepare() {
	t.ptr.limit = uint16(unsafe.Sizeof(t.entries) - 1)
	t.ptr.base = uint64(uintptr(unsafe.Pointer(&t.entries[0])))
}

// Load installs this table as the active IDT via the LIDT instruction. The
// table must outlive its use as the active IDT, so callers keep the
// instance at a stable address rather than on a transient stack frame.
func (t *Table) Load() {
	loadIDT(uintptr(unsafe.Pointer(&t.ptr)))
}

// loadIDT executes LIDT against the pseudo-descriptor at ptrAddr.
func loadIDT(ptrAddr uintptr)

// timerEntryAddr and keyboardEntryAddr return the addresses of the
// hand-written assembly entry stubs (idt_amd64.s) that save/restore
// machine state around a call into the Go-level handlers below.
func timerEntryAddr() uintptr
func keyboardEntryAddr() uintptr

// Registers is the register snapshot the assembly entry stubs hand to the
// Go-level handlers. It does not include the FXSAVE/XSAVE area: that 512
// (or 1024) byte block is saved and restored entirely within the assembly
// stub and never exposed to Go, since no handler in this design inspects
// FPU state.
type Registers struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	// Hardware interrupt frame, pushed by the CPU before the stub runs.
	RIP, CS, RFlags, RSP, SS uint64
}

// TimerHandlerFn and KeyboardHandlerFn are invoked by the assembly entry
// stubs for their respective vectors. They are package-level variables so
// bring-up can wire the real handlers (apic timer tick, PS/2 scancode read)
// after the rest of the interrupt plane is initialized, and so tests can
// substitute a fake.
var (
	TimerHandlerFn    = func(*Registers) {}
	KeyboardHandlerFn = func(*Registers) {}
)

//go:nosplit
func dispatchTimer(r *Registers) {
	TimerHandlerFn(r)
}

//go:nosplit
func dispatchKeyboard(r *Registers) {
	KeyboardHandlerFn(r)
}
