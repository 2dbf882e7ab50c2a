package idt

import "testing"

func TestNewGateEncoding(t *testing.T) {
	const handler = uintptr(0xFFFF_8000_1234_5678)
	const selector = uint16(0x08)

	g := newGate(handler, selector, true)

	if g.offsetLow != 0x5678 {
		t.Fatalf("offsetLow = 0x%x, want 0x5678", g.offsetLow)
	}
	if g.offsetMid != 0x1234 {
		t.Fatalf("offsetMid = 0x%x, want 0x1234", g.offsetMid)
	}
	if g.offsetHigh != 0xFFFF_8000 {
		t.Fatalf("offsetHigh = 0x%x, want 0xffff8000", g.offsetHigh)
	}
	if g.selector != selector {
		t.Fatalf("selector = 0x%x, want 0x%x", g.selector, selector)
	}
	if g.typeAttr != (1<<7)|gateType64Interrupt {
		t.Fatalf("typeAttr = 0x%x, want present 64-bit interrupt gate at DPL 0", g.typeAttr)
	}
	if g.istAndZero != 0 {
		t.Fatalf("istAndZero = %d, want 0 (no IST stack switching)", g.istAndZero)
	}
}

func TestNewGateAbsent(t *testing.T) {
	g := newGate(0, 0, false)
	if g.typeAttr&(1<<7) != 0 {
		t.Fatalf("absent gate must not set the present bit")
	}
}

func TestInstallBootstrapPopulatesExactlyTwoGates(t *testing.T) {
	var tbl Table
	tbl.InstallBootstrap(0x08)

	for v := 0; v < numEntries; v++ {
		present := tbl.entries[v].typeAttr&(1<<7) != 0
		want := v == int(VectorTimer) || v == int(VectorKeyboard)
		if present != want {
			t.Fatalf("vector %d present = %t, want %t", v, present, want)
		}
	}

	if tbl.entries[VectorTimer].selector != 0x08 {
		t.Fatalf("timer gate selector = 0x%x, want 0x08", tbl.entries[VectorTimer].selector)
	}
}

func TestEmptyClearsEveryGate(t *testing.T) {
	var tbl Table
	tbl.InstallBootstrap(0x08)
	tbl.Empty()

	for v := 0; v < numEntries; v++ {
		if tbl.entries[v] != (gateDescriptor{}) {
			t.Fatalf("vector %d not cleared by Empty", v)
		}
	}
}
