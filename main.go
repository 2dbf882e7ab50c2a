package main

import (
	"github.com/calint/uefi-os/kernel/firmware/uefi"
	"github.com/calint/uefi-os/kernel/kmain"
)

// imageHandle and systemTable are the two arguments the UEFI firmware passes
// to efi_main: the loaded-image handle and a pointer to EFI_SYSTEM_TABLE,
// both in RCX/RDX under the Microsoft x64 calling convention. The PE entry
// stub in the image build is responsible for bridging that ABI into the Go
// runtime and populating these two package-level variables before main is
// called.
//
// They are package-level, not parameters of main, so the compiler cannot
// prove them constant and fold Kmain's arguments away.
var (
	imageHandle uintptr
	systemTable *uefi.SystemTable
)

// main is the trampoline from the platform entry stub into the kernel's
// bring-up sequence. It returns only if firmware hand-off fails before the
// boot-services exit, in which case the entry stub reports an aborted
// status back to the firmware; otherwise kmain.Kmain either panics or
// descends into the bootstrap core's steady-state idle loop.
func main() {
	kmain.Kmain(imageHandle, systemTable)
}
