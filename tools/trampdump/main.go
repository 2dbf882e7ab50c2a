// Command trampdump disassembles the SMP trampoline blob this kernel
// writes into low memory, one addressing-mode stage at a time, as a
// developer diagnostic: the blob is hand-assembled machine code with no
// symbol table, so a decode error here usually means a stage's byte
// encoding drifted from its comment.
package main

import (
	"fmt"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"github.com/calint/uefi-os/kernel/smp"
)

func main() {
	code, layout := smp.TrampolineCode()

	dumpStage(os.Stdout, "real-mode (16-bit)", code[layout.RealModeOffset:layout.ProtectedModeOffset], 16, smp.Addr+layout.RealModeOffset)
	dumpStage(os.Stdout, "protected-mode (32-bit)", code[layout.ProtectedModeOffset:layout.LongModeOffset], 32, smp.Addr+layout.ProtectedModeOffset)
	dumpStage(os.Stdout, "long-mode (64-bit)", code[layout.LongModeOffset:], 64, smp.Addr+layout.LongModeOffset)
}

// dumpStage decodes buf as a sequence of x86 instructions in the given bit
// mode, printing one line per instruction until the buffer is exhausted or
// a decode error is hit.
func dumpStage(w *os.File, name string, buf []byte, mode int, base int) {
	fmt.Fprintf(w, "-- %s, base=0x%x, %d bytes --\n", name, base, len(buf))

	for off := 0; off < len(buf); {
		inst, err := x86asm.Decode(buf[off:], mode)
		if err != nil {
			fmt.Fprintf(w, "  0x%04x: <decode error: %s>\n", base+off, err)
			return
		}

		syntax := x86asm.GoSyntax(inst, uint64(base+off), nil)
		fmt.Fprintf(w, "  0x%04x: %s\n", base+off, syntax)

		if inst.Len == 0 {
			return
		}
		off += inst.Len
	}
}
