package kmain

import "testing"

func TestKeyboardJobRunInvokesScancodeSink(t *testing.T) {
	orig := ScancodeSink
	t.Cleanup(func() { ScancodeSink = orig })

	var got uint8
	var called bool
	ScancodeSink = func(scancode uint8) {
		called = true
		got = scancode
	}

	keyboardJob{scancode: 0x1E}.Run()

	if !called {
		t.Fatalf("ScancodeSink was not invoked")
	}
	if got != 0x1E {
		t.Fatalf("scancode = 0x%x, want 0x1E", got)
	}
}

func TestTimerJobRunInvokesTickSink(t *testing.T) {
	orig := TickSink
	t.Cleanup(func() { TickSink = orig })

	var ticks int
	TickSink = func() { ticks++ }

	timerJob{}.Run()
	timerJob{}.Run()

	if ticks != 2 {
		t.Fatalf("ticks = %d, want 2", ticks)
	}
}
