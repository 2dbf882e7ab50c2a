package uefi

import "unsafe"

// bootServicesTable mirrors the EFI_BOOT_SERVICES layout, named precisely
// where this kernel calls through it. Entries this kernel never calls are
// kept as anonymous padding so the struct overlays the firmware table at the
// correct offsets. Function pointer fields are raw uintptr: they are invoked
// via callMSABI rather than as Go func values.
type bootServicesTable struct {
	hdr TableHeader

	raiseTPL   uintptr
	restoreTPL uintptr

	allocatePagesFn uintptr
	freePagesFn     uintptr
	getMemoryMapFn  uintptr
	allocatePoolFn  uintptr
	freePoolFn      uintptr

	_ [6]uintptr // event/timer services, unused

	_ [3]uintptr // Install/Reinstall/UninstallProtocolInterface, unused

	_ uintptr // HandleProtocol
	_ uintptr // reserved
	_ uintptr // RegisterProtocolNotify

	_ [3]uintptr // LocateHandle, LocateDevicePath, InstallConfigurationTable

	_ [4]uintptr // image services: LoadImage, StartImage, Exit, UnloadImage

	exitBootServicesFn uintptr

	_ [3]uintptr // GetNextMonotonicCount, Stall, SetWatchdogTimer

	_ uintptr // ConnectController
	_ uintptr // DisconnectController

	_ [3]uintptr // OpenProtocol, CloseProtocol, OpenProtocolInformation

	_                uintptr // ProtocolsPerHandle
	_                uintptr // LocateHandleBuffer
	locateProtocolFn uintptr
}

// AllocateType selects how AllocatePages interprets the memory address
// argument.
type AllocateType uint32

// AllocateType values used when reserving pages for the memory map buffer.
const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
)

// pageSize is the UEFI page granularity AllocatePages deals in, fixed at
// 4 KiB by the firmware interface regardless of the CPU's own page sizes.
const pageSize = 4096

// maxMemoryMapRetries bounds the GetMemoryMap/ExitBootServices retry loop:
// each retry re-fetches the map because the map key is invalidated by any
// intervening firmware event (an allocation performed while building the
// diagnostic buffer, for instance).
const maxMemoryMapRetries = 16

// GetMemoryMap fetches the firmware's current memory map into a buffer
// allocated from the firmware itself, sized with one extra page of headroom
// over the size the firmware last reported: the allocation can itself grow
// the map by one descriptor, and the map may grow further between the
// sizing call and the real call.
func (bs *bootServicesTable) GetMemoryMap() (MemoryMap, Status) {
	var (
		mapSize           uintptr
		mapKey            uintptr
		descriptorSize    uintptr
		descriptorVersion uint32
	)

	// First call with a zero-sized buffer just to learn the required size.
	status := Status(callMSABI(bs.getMemoryMapFn,
		uintptr(unsafe.Pointer(&mapSize)),
		0,
		uintptr(unsafe.Pointer(&mapKey)),
		uintptr(unsafe.Pointer(&descriptorSize)),
		uintptr(unsafe.Pointer(&descriptorVersion)),
	))
	_ = status // expected to be EFI_BUFFER_TOO_SMALL; mapSize is still valid

	mapSize += pageSize // one extra page of headroom
	bufAddr, status := bs.AllocatePages((mapSize+pageSize-1)/pageSize, MemoryLoaderData)
	if status != StatusSuccess {
		return MemoryMap{}, status
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(bufAddr)), mapSize)

	status = Status(callMSABI(bs.getMemoryMapFn,
		uintptr(unsafe.Pointer(&mapSize)),
		bufAddr,
		uintptr(unsafe.Pointer(&mapKey)),
		uintptr(unsafe.Pointer(&descriptorSize)),
		uintptr(unsafe.Pointer(&descriptorVersion)),
	))
	if status != StatusSuccess {
		return MemoryMap{}, status
	}

	return MemoryMap{
		Buffer:            buf[:mapSize],
		MapKey:            mapKey,
		DescriptorSize:    descriptorSize,
		DescriptorVersion: descriptorVersion,
	}, StatusSuccess
}

// AllocatePages reserves n contiguous pages of the given type, returning the
// physical address firmware assigned (AllocateAnyPages is always used by
// this kernel; it never requests a fixed address from firmware).
func (bs *bootServicesTable) AllocatePages(n uintptr, memType MemoryType) (uintptr, Status) {
	var phys uintptr
	status := Status(callMSABI(bs.allocatePagesFn,
		uintptr(AllocateAnyPages),
		uintptr(memType),
		n,
		uintptr(unsafe.Pointer(&phys)),
		0,
	))
	return phys, status
}

// ExitBootServices retries GetMemoryMap/ExitBootServices up to
// maxMemoryMapRetries times: ExitBootServices fails with EFI_INVALID_PARAMETER
// whenever the supplied map key no longer matches firmware's current map key,
// which happens whenever firmware services any event between the map fetch
// and the exit call.
func (bs *bootServicesTable) ExitBootServices(imageHandle uintptr) (MemoryMap, Status) {
	var (
		mm     MemoryMap
		status Status
	)

	for attempt := 0; attempt < maxMemoryMapRetries; attempt++ {
		mm, status = bs.GetMemoryMap()
		if status != StatusSuccess {
			return mm, status
		}

		status = Status(callMSABI(bs.exitBootServicesFn, imageHandle, mm.MapKey, 0, 0, 0))
		if status == StatusSuccess {
			return mm, StatusSuccess
		}
	}

	return mm, status
}

// lookupProtocol looks up a singleton protocol instance by GUID.
func (bs *bootServicesTable) lookupProtocol(guid *GUID) (uintptr, Status) {
	var iface uintptr
	status := Status(callMSABI(bs.locateProtocolFn, uintptr(unsafe.Pointer(guid)), 0, uintptr(unsafe.Pointer(&iface)), 0, 0))
	return iface, status
}
