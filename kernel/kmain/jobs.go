package kmain

// ScancodeSink receives every keyboard scancode read by the keyboard
// interrupt handler, by way of the job queue. Scancode-to-character
// translation and on-screen echo belong to external collaborators; the
// default sink discards bytes.
var ScancodeSink = func(scancode uint8) {}

// TickSink receives one call per LAPIC timer tick, by way of the job queue.
// The default sink does nothing.
var TickSink = func() {}

// keyboardJob carries one scancode byte from the keyboard interrupt handler
// to whichever AP core claims it off the shared queue.
type keyboardJob struct{ scancode uint8 }

func (j keyboardJob) Run() { ScancodeSink(j.scancode) }

// timerJob carries one LAPIC timer tick to whichever AP core claims it.
type timerJob struct{}

func (timerJob) Run() { TickSink() }
