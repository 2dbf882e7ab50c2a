package uefi

import (
	"unsafe"

	"github.com/calint/uefi-os/kernel"
)

// ErrNoGOP is returned by LocateFramebuffer when firmware does not expose
// the Graphics Output Protocol. Firmware failures of this kind are fatal in
// the bring-up sequence: an absent GOP has no recovery.
var ErrNoGOP = &kernel.Error{Module: "uefi", Message: "graphics output protocol not found"}

// SystemTable mirrors EFI_SYSTEM_TABLE down to the fields this kernel reads:
// the boot services pointer and the configuration table array used to find
// the ACPI root pointer.
type SystemTable struct {
	Hdr              TableHeader
	FirmwareVendor   uintptr
	FirmwareRevision uint32

	ConsoleInHandle     uintptr
	ConIn               uintptr
	ConsoleOutHandle    uintptr
	ConOut              uintptr
	StandardErrorHandle uintptr
	StdErr              uintptr

	RuntimeServices uintptr
	bootServices    *bootServicesTable

	NumberOfTableEntries uintptr
	ConfigurationTable   *ConfigurationTable
}

// ConfigTables returns the firmware configuration table as a Go slice,
// walking NumberOfTableEntries entries starting at ConfigurationTable.
func (st *SystemTable) ConfigTables() []ConfigurationTable {
	return unsafe.Slice(st.ConfigurationTable, int(st.NumberOfTableEntries))
}

// FindConfigTable scans the configuration table for the given vendor GUID,
// comparing byte-by-byte rather than as a struct equality check so no
// assumption is made about firmware alignment of the GUID field.
func (st *SystemTable) FindConfigTable(guid GUID) (uintptr, bool) {
	for _, entry := range st.ConfigTables() {
		if entry.VendorGUID.Equal(guid) {
			return entry.VendorTable, true
		}
	}
	return 0, false
}

// bootServicesOrPanic returns the boot services table, and panics once
// ExitBootServices has succeeded and the table is gone.
func (st *SystemTable) bootServicesOrPanic() *bootServicesTable {
	if st.bootServices == nil {
		panic(&kernel.Error{Module: "uefi", Message: "boot services not available (called after exit)"})
	}
	return st.bootServices
}

// GetMemoryMap retrieves the current firmware memory map.
func (st *SystemTable) GetMemoryMap() (MemoryMap, Status) {
	return st.bootServicesOrPanic().GetMemoryMap()
}

// AllocatePages reserves n contiguous pages from firmware.
func (st *SystemTable) AllocatePages(n uintptr, memType MemoryType) (uintptr, Status) {
	return st.bootServicesOrPanic().AllocatePages(n, memType)
}

// ExitBootServices retrieves the final memory map and hands control away
// from firmware, retrying on a stale map key.
func (st *SystemTable) ExitBootServices(imageHandle uintptr) (MemoryMap, Status) {
	mm, status := st.bootServicesOrPanic().ExitBootServices(imageHandle)
	if status == StatusSuccess {
		// Boot services function pointers, including the one backing
		// this very call, are unsafe to use from this point on.
		st.bootServices = nil
	}
	return mm, status
}

// LocateFramebuffer consults the Graphics Output Protocol and returns the
// FrameBuffer contract handed to the rest of the kernel. It fails fatally
// (returns ErrNoGOP) if the protocol is absent.
func (st *SystemTable) LocateFramebuffer() (FrameBuffer, *kernel.Error) {
	iface, status := st.bootServicesOrPanic().lookupProtocol(&GraphicsOutputProtocolGUID)
	if status != StatusSuccess || iface == 0 {
		return FrameBuffer{}, ErrNoGOP
	}

	gop := (*GraphicsOutputProtocol)(unsafe.Pointer(iface))
	mode := gop.Mode

	return FrameBuffer{
		Pixels: mode.FrameBufferBase,
		Width:  mode.Info.HorizontalResolution,
		Height: mode.Info.VerticalResolution,
		Stride: mode.Info.PixelsPerScanLine,
	}, nil
}
