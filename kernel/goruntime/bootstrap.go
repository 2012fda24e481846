// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/pmm"
	"redshift/kernel/mem/vmm"
	"unsafe"
)

// The Go runtime's own heap lives in a fixed virtual region entirely
// disjoint from the kernel heap's region (see kernel/mem/vmm's
// heapRegionStart), so runtime span growth can never collide with kernel
// heap growth. Pages here are handed out by bumping reserveCursor forward;
// nothing is ever unreserved, mirroring the Go runtime's own treatment of
// sysReserve as a one-way address space commitment.
const (
	regionStart = 0x10000000
	regionEnd   = 0x20000000
)

var (
	reserveCursor = uintptr(regionStart)

	frameAllocFn = pmm.FrameAllocator.AllocFrame
	backPageFn   = backPage
	memsetFn     = kernel.Memset

	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// roundToPage rounds size up to the next page boundary.
func roundToPage(size uintptr) mem.Size {
	return (mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings. The returned region is carved out of a
// fixed virtual range set aside for the Go runtime's heap; no page table
// entry is installed until a later sysMap or sysAlloc call actually backs a
// page with a physical frame.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := roundToPage(size)

	start := reserveCursor
	if start+uintptr(regionSize) > regionEnd {
		panic(&kernel.Error{Module: "goruntime", Message: "exhausted the go heap virtual address range"})
	}
	reserveCursor = start + uintptr(regionSize)

	*reserved = true
	return unsafe.Pointer(start)
}

// backPage installs a page table entry for addr in dir pointing at frame,
// creating the containing page table if necessary. It is a thin wrapper
// around PageDirectoryTable.GetPage so that mapRegion's per-page step can be
// stubbed out in tests without reaching into vmm's unexported page table
// entry type.
func backPage(dir *vmm.PageDirectoryTable, addr uintptr, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	pte, err := dir.GetPage(addr, true)
	if err != nil {
		return err
	}
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	return nil
}

// mapRegion backs every page in [addr, addr+size) with a freshly allocated,
// zeroed physical frame, installing present|rw (plus any extra flags) page
// table entries for each. It mirrors kernel/mem/heap's Heap.expand: one
// AllocFrame/GetPage/SetFrame/SetFlags sequence per page.
func mapRegion(addr uintptr, size mem.Size, extraFlags vmm.PageTableEntryFlag) *kernel.Error {
	flags := vmm.FlagPresent | vmm.FlagRW | extraFlags
	for off := mem.Size(0); off < size; off += mem.PageSize {
		frame, err := frameAllocFn()
		if err != nil {
			return err
		}

		if err := backPageFn(vmm.KernelDirectoryTable, addr+uintptr(off), frame, flags); err != nil {
			return err
		}

		memsetFn(addr+uintptr(off), 0, uintptr(mem.PageSize))
	}
	return nil
}

// sysMap establishes a mapping for a particular memory region that has been
// reserved previously via a call to sysReserve, backing every page with a
// freshly allocated physical frame.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	// We trust the allocator to call sysMap with an address inside a reserved region.
	regionStartAddr := uintptr(virtAddr) &^ (uintptr(mem.PageSize) - 1)
	regionSize := roundToPage(size)

	if err := mapRegion(regionStartAddr, regionSize, 0); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves a fresh region from the Go heap's virtual address range
// and backs it with physical frames in a single step, returning the virtual
// region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := roundToPage(size)

	start := reserveCursor
	if start+uintptr(regionSize) > regionEnd {
		return unsafe.Pointer(uintptr(0))
	}
	reserveCursor = start + uintptr(regionSize)

	if err := mapRegion(start, regionSize, 0); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(start)
}

// nanotime returns a monotonically increasing clock value. This is a dummy
// implementation and will be replaced when the timekeeper package is
// implemented.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The implementation
// is the runtime package reads a random stream from /dev/random but since this
// is not available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//  - heap memory allocation (new, make e.t.c)
//  - map primitives
//  - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	getRandomData(nil)
	stat = nanotime()
	_ = stat
}
