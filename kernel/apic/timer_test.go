package apic

import "testing"

// fakePIT simulates the calibration window: the PIT status byte reports
// the output pin low for a fixed number of polls, and each status read
// advances a fake TSC so the measured interval is deterministic.
type fakePIT struct {
	polls     int
	pollsLeft int
	tsc       uint64
	cmds      []uint8
}

func installFakePIT(t *testing.T, polls int) *fakePIT {
	t.Helper()
	f := &fakePIT{polls: polls, pollsLeft: polls}

	origOutb, origInb, origRdtsc := outbFn, inbFn, rdtscFn
	t.Cleanup(func() { outbFn, inbFn, rdtscFn = origOutb, origInb, origRdtsc })

	outbFn = func(port uint16, value uint8) {
		if port == pitCommand {
			f.cmds = append(f.cmds, value)
		}
	}
	inbFn = func(port uint16) uint8 {
		if f.pollsLeft > 0 {
			f.pollsLeft--
			return 0
		}
		return pitOutputPinState
	}
	rdtscFn = func() uint64 {
		f.tsc += 1000
		return f.tsc
	}
	return f
}

func TestCalibrateTimer(t *testing.T) {
	f, l := newFakeLAPIC()
	pit := installFakePIT(t, 5)

	// Simulate the LAPIC timer having counted down from max to this value
	// by the time the PIT window expires.
	const remaining = uint32(0xFFFF_0000)
	f.regs[regCurrentCount/4] = remaining

	apicHz, tscHz := l.CalibrateTimer()

	if got := f.reg(regInitialCount); got != 0xFFFF_FFFF {
		t.Fatalf("initial count = 0x%x, want max count during calibration", got)
	}

	wantAPICHz := uint64(0xFFFF_FFFF-remaining) * 100
	if apicHz != wantAPICHz {
		t.Fatalf("apic ticks/s = %d, want %d", apicHz, wantAPICHz)
	}

	// The TSC is read exactly twice, 1000 fake ticks apart, and the
	// 10 ms window scales by 100 to a per-second rate.
	wantTSCHz := uint64(1000 * 100)
	if tscHz != wantTSCHz {
		t.Fatalf("tsc ticks/s = %d, want %d", tscHz, wantTSCHz)
	}

	if len(pit.cmds) == 0 || pit.cmds[0] != pitSelectCh0AccessLoHiModeInt {
		t.Fatalf("first PIT command = %v, want channel 0 terminal-count setup", pit.cmds)
	}
}
