// Package kmain is the kernel's single bring-up sequence: from the moment
// firmware hands control to this image through the point every logical
// processor is parked in the job-queue consumer loop.
package kmain

import (
	"github.com/calint/uefi-os/kernel"
	"github.com/calint/uefi-os/kernel/apic"
	"github.com/calint/uefi-os/kernel/cpu"
	"github.com/calint/uefi-os/kernel/device"
	"github.com/calint/uefi-os/kernel/dispatch"
	"github.com/calint/uefi-os/kernel/firmware/acpi"
	"github.com/calint/uefi-os/kernel/firmware/uefi"
	"github.com/calint/uefi-os/kernel/gdt"
	"github.com/calint/uefi-os/kernel/idt"
	"github.com/calint/uefi-os/kernel/keyboard"
	"github.com/calint/uefi-os/kernel/kfmt"
	"github.com/calint/uefi-os/kernel/mem"
	"github.com/calint/uefi-os/kernel/mm/pmm"
	"github.com/calint/uefi-os/kernel/mm/vmm"
	"github.com/calint/uefi-os/kernel/queue"
	"github.com/calint/uefi-os/kernel/serial"
	"github.com/calint/uefi-os/kernel/smp"
)

// TimerHZ is the rate the LAPIC periodic timer is configured for on the
// bootstrap core, once calibrated against the PIT.
const TimerHZ = 2

// mmioRegionSize is the span mapped for each discovered LAPIC/I-O APIC
// MMIO window: one page, enough for every register this kernel touches.
const mmioRegionSize = mem.PageSize

// jobQueue is the shared job ring every core, bootstrap and application
// alike, drains from. It has static storage: there is no allocator capable
// of producing cache-line-aligned memory this early, and one instance is
// all this design ever needs.
var jobQueue queue.Queue

// bootGDT and bootIDT are the bootstrap core's descriptor tables. The CPU
// keeps dereferencing the active tables for as long as they are loaded, so
// they live at package scope rather than in Kmain's frame.
var (
	bootGDT gdt.Table
	bootIDT idt.Table
)

// Kmain is called once from package main, after the firmware entry stub has
// taken control from UEFI at efi_main. It returns only on a
// firmware failure before the boot-services exit, so the stub can report
// an aborted status back to the firmware; past that barrier every path
// either panics or descends into the idle loop's infinite for.
//
//go:noinline
func Kmain(imageHandle uintptr, st *uefi.SystemTable) {
	serialDriver := serial.NewDriver()
	device.Probe(serialDriver, nil)
	kfmt.SetOutputSink(serialDriver.Port())

	w := &kfmt.PrefixWriter{Sink: serialDriver.Port()}
	kfmt.Fprintf(w, "[kmain] firmware handoff\n")

	// Failures before ExitBootServices print a diagnostic and return, so
	// the entry stub can hand the firmware an aborted status while the
	// firmware is still able to act on it. Anything after the exit
	// barrier has no firmware to return to and panics instead.
	fb, ferr := st.LocateFramebuffer()
	if ferr != nil {
		kfmt.Fprintf(w, "[kmain] %s\n", ferr.Message)
		return
	}

	res, aerr := acpi.Parse(st, w)
	if aerr != nil {
		kfmt.Fprintf(w, "[kmain] %s\n", aerr.Message)
		return
	}

	memMap, status := st.ExitBootServices(imageHandle)
	if status != uefi.StatusSuccess {
		kfmt.Fprintf(w, "[kmain] ExitBootServices did not report success\n")
		return
	}
	kfmt.Fprintf(w, "[kmain] boot services exited\n")

	if err := pmm.VerifyFixedAddress(&memMap, smp.Addr, smp.CodeRegionSize); err != nil {
		kfmt.Panic(err)
	}
	if err := pmm.VerifyFixedAddress(&memMap, smp.PagingAddr, smp.PagingRegionSize); err != nil {
		kfmt.Panic(err)
	}

	heap, err := pmm.New(&memMap, w)
	if err != nil {
		kfmt.Panic(err)
	}

	mapper, err := vmm.New(heap.AllocatePages)
	if err != nil {
		kfmt.Panic(err)
	}
	vmm.ConfigurePAT()

	if err := mapMemoryMap(mapper, &memMap); err != nil {
		kfmt.Panic(err)
	}
	if err := mapInterruptControllers(mapper, &res); err != nil {
		kfmt.Panic(err)
	}
	if err := mapFramebuffer(mapper, fb); err != nil {
		kfmt.Panic(err)
	}

	mapper.Activate()
	kfmt.Fprintf(w, "[paging] identity map active, pml4=0x%x\n", mapper.PML4Address())

	bootGDT.Install()

	jobQueue.Init()
	dispatch.Jobs = &jobQueue

	idt.KeyboardHandlerFn = func(*idt.Registers) {
		queue.Add(dispatch.Jobs, keyboardJob{scancode: keyboard.ReadScancode()})
		dispatch.LAPIC.EOI()
	}
	idt.TimerHandlerFn = func(*idt.Registers) {
		queue.Add(dispatch.Jobs, timerJob{})
		dispatch.LAPIC.EOI()
	}

	bootIDT.InstallBootstrap(gdt.CodeSelector)
	bootIDT.Load()

	apic.MaskLegacyPIC()

	dispatch.LAPIC = apic.LAPIC{Base: res.LocalAPICAddress}
	lapic := &dispatch.LAPIC

	apicTicksPerSecond, tscTicksPerSecond := lapic.CalibrateTimer()
	lapic.ConfigureTimer(uint8(idt.VectorTimer), uint32(apicTicksPerSecond/TimerHZ))
	kfmt.Fprintf(w, "[apic] calibrated apic_hz=%d tsc_hz=%d\n", apicTicksPerSecond, tscTicksPerSecond)

	if err := routeKeyboard(&res, lapic.ID()); err != nil {
		kfmt.Panic(err)
	}

	keyboardDriver := keyboard.NewDriver()
	device.Probe(keyboardDriver, w)

	lapic.Enable(dispatch.SpuriousVector)

	dispatch.PrepareAPTables()
	smp.Place()
	launcher := smp.Launcher{
		LAPIC:             lapic,
		AllocStack:        heap.AllocatePages,
		KernelPML4:        mapper.PML4Address(),
		EntryPoint:        dispatch.EntryPoint(),
		TSCTicksPerSecond: tscTicksPerSecond,
	}

	var idsArr [acpi.MaxCores]uint8
	for i := 0; i < res.Cores.Len(); i++ {
		idsArr[i] = res.Cores.ID(i)
	}
	ids := idsArr[:res.Cores.Len()]
	dispatch.Cores = ids

	if err := launcher.LaunchAll(ids, lapic.ID(), w); err != nil {
		kfmt.Panic(err)
	}

	dispatch.MarkStarted()
	cpu.EnableInterrupts()
	kfmt.Fprintf(w, "[kmain] bootstrap core entering idle loop\n")

	// Unlike the APs' pause-hinted spin, the bootstrap idles in hlt: its
	// own timer and keyboard interrupts are what produce new jobs, so
	// there is nothing to poll for between them.
	for {
		for queue.RunNext(dispatch.Jobs) {
		}
		cpu.Hlt()
	}
}

// mapMemoryMap identity-maps every descriptor reported by the firmware's
// final memory map: ordinary RAM, loader/boot-services regions and ACPI
// reclaim/NVS as ClassNormal, anything the firmware itself marks as MMIO
// as ClassMMIO, and nothing at all for descriptors marked unusable.
func mapMemoryMap(mapper *vmm.Mapper, memMap *uefi.MemoryMap) error {
	for i := 0; i < memMap.Len(); i++ {
		d := memMap.At(i)

		var class vmm.Class
		switch d.Type {
		case uefi.MemoryUnusableMemory:
			continue
		case uefi.MemoryMemoryMappedIO, uefi.MemoryMemoryMappedIOPortSpace:
			class = vmm.ClassMMIO
		default:
			class = vmm.ClassNormal
		}

		length := mem.Size(d.NumberOfPages) * mem.PageSize
		if err := mapper.MapRange(d.PhysicalStart, length, class); err != nil {
			return err
		}
	}
	return nil
}

// mapInterruptControllers maps the local APIC and every discovered I/O
// APIC's MMIO window, none of which are guaranteed to appear as their own
// descriptor in the firmware memory map.
func mapInterruptControllers(mapper *vmm.Mapper, res *acpi.Result) error {
	if err := mapper.MapRange(res.LocalAPICAddress, mmioRegionSize, vmm.ClassMMIO); err != nil {
		return err
	}
	for _, io := range res.IOAPICs {
		if err := mapper.MapRange(uintptr(io.Address), mmioRegionSize, vmm.ClassMMIO); err != nil {
			return err
		}
	}
	return nil
}

// mapFramebuffer maps the GOP linear framebuffer write-combining, sized by
// stride rather than width since the two may differ.
func mapFramebuffer(mapper *vmm.Mapper, fb uefi.FrameBuffer) error {
	length := mem.Size(fb.Stride) * mem.Size(fb.Height) * 4
	if length == 0 {
		return nil
	}
	return mapper.MapRange(fb.Pixels, length, vmm.ClassFramebuffer)
}

// routeKeyboard finds the I/O APIC that owns the keyboard's GSI and
// programs its redirection entry to fire on vector idt.VectorKeyboard,
// delivered to destAPICID (the bootstrap core, which is the only core with
// an interrupt-servicing IDT; dispatch.Entry gives every AP an empty one).
func routeKeyboard(res *acpi.Result, destAPICID uint8) *kernel.Error {
	kbdIOAPIC, err := res.KeyboardIOAPIC()
	if err != nil {
		return err
	}

	io := apic.IOAPIC{Base: uintptr(kbdIOAPIC.Address)}
	localGSI := res.Keyboard.GSI - kbdIOAPIC.GSIBase
	io.RouteKeyboard(localGSI, res.Keyboard.Flags, uint8(idt.VectorKeyboard), destAPICID)
	return nil
}
