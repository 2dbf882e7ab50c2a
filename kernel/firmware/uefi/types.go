// Package uefi defines the subset of the UEFI 2.x data layout that the
// kernel touches during hand-off: the system table, the boot services table
// entries used to discover the graphics output protocol and the memory map,
// and the configuration table used to locate the ACPI root pointer.
//
// Only the fields actually read or written by this kernel are named; the
// rest of each structure is kept as raw padding so the Go layout matches the
// firmware's layout without pulling in the whole UEFI specification.
package uefi

import "unsafe"

// Status is the EFI_STATUS return type. Zero is success; the high bit set
// marks an error code.
type Status uintptr

// StatusSuccess is EFI_SUCCESS.
const StatusSuccess Status = 0

// GUID is a 128-bit globally unique identifier, compared byte-by-byte by
// this kernel rather than as a single integer so no assumption is made
// about the natural alignment of the firmware-supplied table.
type GUID [16]byte

// Equal reports whether two GUIDs match, byte by byte.
func (g GUID) Equal(other GUID) bool {
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

var (
	// GraphicsOutputProtocolGUID identifies the GOP
	// (9042a9de-23dc-4a38-96fb-7aded080516a) in the handle database
	// consulted by LocateFramebuffer. The first three groups are stored
	// little-endian, per the EFI GUID wire layout.
	GraphicsOutputProtocolGUID = GUID{
		0xde, 0xa9, 0x42, 0x90, 0xdc, 0x23, 0x38, 0x4a,
		0x96, 0xfb, 0x7a, 0xde, 0xd0, 0x80, 0x51, 0x6a,
	}

	// ACPI20TableGUID identifies the ACPI 2.0+ RSDP entry
	// (8868e871-e4f1-11d3-bc22-0080c73c8881) in the firmware's
	// configuration table array.
	ACPI20TableGUID = GUID{
		0x71, 0xe8, 0x68, 0x88, 0xf1, 0xe4, 0xd3, 0x11,
		0xbc, 0x22, 0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81,
	}
)

// TableHeader is the common header shared by the system table and the boot
// services table.
type TableHeader struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// MemoryType classifies a MemoryDescriptor's region.
type MemoryType uint32

// Memory types relevant to the bump allocator and the paging builder. The
// numeric values match the UEFI specification.
const (
	MemoryReservedMemoryType MemoryType = iota
	MemoryLoaderCode
	MemoryLoaderData
	MemoryBootServicesCode
	MemoryBootServicesData
	MemoryRuntimeServicesCode
	MemoryRuntimeServicesData
	MemoryConventionalMemory
	MemoryUnusableMemory
	MemoryACPIReclaimMemory
	MemoryACPIMemoryNVS
	MemoryMemoryMappedIO
	MemoryMemoryMappedIOPortSpace
	MemoryPalCode
)

// MemoryDescriptor describes one entry of the firmware's memory map. The
// firmware may append fields in later revisions, which is why MemoryMap
// must be walked using DescriptorSize rather than sizeof(MemoryDescriptor).
type MemoryDescriptor struct {
	Type          MemoryType
	_             uint32 // padding to align PhysicalStart on 8 bytes
	PhysicalStart uintptr
	VirtualStart  uintptr
	NumberOfPages uint64
	Attribute     uint64
}

// MemoryMap is the decoded result of a GetMemoryMap call: a byte buffer
// plus the stride and version needed to interpret it.
type MemoryMap struct {
	Buffer            []byte
	MapKey            uintptr
	DescriptorSize    uintptr
	DescriptorVersion uint32
}

// Len returns the number of descriptors held in the map.
func (m *MemoryMap) Len() int {
	if m.DescriptorSize == 0 {
		return 0
	}
	return len(m.Buffer) / int(m.DescriptorSize)
}

// At returns a pointer to the i-th descriptor, honoring DescriptorSize
// rather than assuming the descriptors are packed as Go structs.
func (m *MemoryMap) At(i int) *MemoryDescriptor {
	off := uintptr(i) * m.DescriptorSize
	return (*MemoryDescriptor)(unsafe.Pointer(&m.Buffer[off]))
}

// PixelFormat enumerates the GOP framebuffer pixel layouts.
type PixelFormat uint32

// ConfigurationTable is one entry of the system table's configuration table
// array, pairing a GUID with a vendor-defined table pointer (the ACPI RSDP
// pointer, for the ACPI 2.0 GUID).
type ConfigurationTable struct {
	VendorGUID  GUID
	VendorTable uintptr
}

// GraphicsOutputModeInfo mirrors EFI_GRAPHICS_OUTPUT_MODE_INFORMATION.
type GraphicsOutputModeInfo struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          PixelFormat
	PixelInformation      [4]uint32
	PixelsPerScanLine    uint32
}

// GraphicsOutputMode mirrors EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE.
type GraphicsOutputMode struct {
	MaxMode               uint32
	Mode                  uint32
	Info                  *GraphicsOutputModeInfo
	SizeOfInfo            uintptr
	FrameBufferBase       uintptr
	FrameBufferSize       uintptr
}

// GraphicsOutputProtocol mirrors the fields of EFI_GRAPHICS_OUTPUT_PROTOCOL
// this kernel reads; QueryMode/SetMode/Blt function pointers are not
// invoked, since the framebuffer is consumed read-only after hand-off.
type GraphicsOutputProtocol struct {
	QueryMode uintptr
	SetMode   uintptr
	Blt       uintptr
	Mode      *GraphicsOutputMode
}

// FrameBuffer is the contract C1 hands to the rest of the kernel: an
// address, dimensions and a stride that may exceed the width.
type FrameBuffer struct {
	Pixels uintptr
	Width  uint32
	Height uint32
	Stride uint32
}
