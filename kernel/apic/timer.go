package apic

import "github.com/calint/uefi-os/kernel/cpu"

const (
	pitChannel0Data = 0x40
	pitCommand      = 0x43
	pitFrequency    = 1193182

	// pitCalibrationMs is the terminal-count window used to calibrate the
	// local APIC timer and the TSC.
	pitCalibrationMs = 10

	pitSelectCh0AccessLoHiModeInt = 0x30
	pitReadBackLatchStatusCh0     = 0xE2
	pitOutputPinState             = 1 << 7
)

// Port and TSC accessors, substituted by tests to simulate the PIT
// countdown without touching real hardware.
var (
	outbFn  = cpu.Outb
	inbFn   = cpu.Inb
	rdtscFn = cpu.Rdtsc
)

// CalibrateTimer lets the local APIC timer free-run from its maximum count
// while PIT channel 0 counts down a ~10 ms window, then derives the local
// APIC's and the TSC's tick rates from how far each moved during that
// window. The caller uses apicTicksPerSecond to compute ConfigureTimer's
// initialCount and tscTicksPerSecond to drive DelayMicros.
func (l *LAPIC) CalibrateTimer() (apicTicksPerSecond, tscTicksPerSecond uint64) {
	l.SetMaxCount()

	count := uint16(pitFrequency * pitCalibrationMs / 1000)
	outbFn(pitCommand, pitSelectCh0AccessLoHiModeInt)
	outbFn(pitChannel0Data, uint8(count))
	outbFn(pitChannel0Data, uint8(count>>8))

	tscStart := rdtscFn()

	for {
		outbFn(pitCommand, pitReadBackLatchStatusCh0)
		if inbFn(pitChannel0Data)&pitOutputPinState != 0 {
			break
		}
	}

	tscEnd := rdtscFn()
	remaining := l.CurrentCount()

	const windowsPerSecond = 1000 / pitCalibrationMs
	apicTicksPerSecond = uint64(0xFFFFFFFF-remaining) * windowsPerSecond
	tscTicksPerSecond = (tscEnd - tscStart) * windowsPerSecond
	return
}

// DelayMicros busy-waits for approximately us microseconds by spinning on
// the TSC. There is no cancellation: this primitive also paces the
// INIT-SIPI-SIPI sequence, which has none either.
func DelayMicros(tscTicksPerSecond uint64, us uint64) {
	target := cpu.Rdtsc() + (tscTicksPerSecond/1_000_000)*us
	for cpu.Rdtsc() < target {
		cpu.Pause()
	}
}
