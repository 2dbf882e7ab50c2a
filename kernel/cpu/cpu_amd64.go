package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// Hlt executes a single hlt instruction, resuming at the next interrupt.
// Only meaningful with interrupts enabled; with them disabled it never
// resumes.
func Hlt()

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// Rdmsr reads the model-specific register identified by ecx.
func Rdmsr(ecx uint32) uint64

// Wrmsr writes value to the model-specific register identified by ecx.
func Wrmsr(ecx uint32, value uint64)

// Rdtsc returns the current value of the time-stamp counter.
func Rdtsc() uint64

// LoadGDT loads the global descriptor table pointed to by gdtPtrAddr (the
// address of a 10-byte pseudo-descriptor: 2-byte limit, 8-byte base) and
// performs a far return to reload CS with the supplied selector.
func LoadGDT(gdtPtrAddr uintptr, codeSelector uint16)

// LoadDataSegments reloads DS, ES, SS, FS and GS with the supplied selector.
func LoadDataSegments(dataSelector uint16)

// ReadUint32 loads a uint32 from the given memory address using a plain
// (non-reordered) load. Used for LAPIC/IOAPIC MMIO register windows.
func ReadUint32(addr uintptr) uint32

// WriteUint32 stores v at the given memory address. Used for LAPIC/IOAPIC
// MMIO register windows, which must not be accessed via a plain Go pointer
// dereference before the memory model around volatile access is settled.
func WriteUint32(addr uintptr, v uint32)

// Pause emits the "pause" spin-loop hint.
func Pause()

