// Package vmm implements the kernel's virtual memory manager: classic
// 32-bit two-level page tables, page fault handling and the virtual address
// at which the kernel heap is built.
package vmm

import (
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/bootmem"
	"redshift/kernel/mem/pmm"
)

// DirectoryKind selects the allocation strategy used for a page directory's
// own storage and for any page tables it creates on demand.
type DirectoryKind uint8

const (
	// KernelDirectory allocates its backing pages via the bump allocator.
	// There is exactly one kernel directory, built before the heap exists.
	KernelDirectory DirectoryKind = iota

	// UserDirectory allocates its backing pages via the kernel heap. Used
	// for per-process page directories created after the heap is online.
	UserDirectory
)

// pageTable is the hardware-visible form of a single page table: 1024
// consecutive page table entries occupying exactly one 4 KiB frame.
type pageTable struct {
	entries [mem.PtesPerTable]pageTableEntry
}

// pageAllocFn allocates size bytes (optionally page-aligned) and returns
// their address. It abstracts over the bump allocator (kernel directories)
// and the kernel heap (user directories) so PageDirectoryTable does not need
// to know which one backs it.
type pageAllocFn func(size mem.Size, pageAlign bool) (uintptr, *kernel.Error)

// PageDirectoryTable is the top-level table in the two-level paging scheme.
// It keeps a Go-level pointer to each of its 1024 page tables alongside the
// parallel array of physical table addresses that the hardware (and CR3)
// actually reads.
type PageDirectoryTable struct {
	tables         [mem.TablesPerDirectory]*pageTable
	physicalTables *[mem.TablesPerDirectory]uint32
	physAddr       uintptr

	allocFn pageAllocFn
}

// bootmemAlloc adapts bootmem.StaticAlloc to the pageAllocFn signature.
func bootmemAlloc(size mem.Size, pageAlign bool) (uintptr, *kernel.Error) {
	return bootmem.StaticAlloc(size, pageAlign)
}

// Create allocates and zeroes a new page directory of the given kind.
func Create(kind DirectoryKind, heapAlloc pageAllocFn) (*PageDirectoryTable, *kernel.Error) {
	pdt := &PageDirectoryTable{}
	if kind == KernelDirectory {
		pdt.allocFn = bootmemAlloc
	} else {
		pdt.allocFn = heapAlloc
	}

	addr, err := pdt.allocFn(mem.PageSize, true)
	if err != nil {
		return nil, err
	}

	kernel.Memset(addr, 0, uintptr(mem.PageSize))
	pdt.physAddr = addr
	pdt.physicalTables = (*[mem.TablesPerDirectory]uint32)(unsafe.Pointer(addr))
	return pdt, nil
}

// PhysAddr returns the physical address of this directory's hardware-visible
// table array, i.e. the value that must be loaded into CR3 to activate it.
func (pdt *PageDirectoryTable) PhysAddr() uintptr {
	return pdt.physAddr
}

// GetPage returns a pointer to the page table entry responsible for
// virtAddr. If the containing page table has not yet been allocated and
// create is false, GetPage returns nil. If create is true, a new 4 KiB page
// table is allocated, zeroed, and installed into the directory with
// present|rw|user flags before the entry is returned.
func (pdt *PageDirectoryTable) GetPage(virtAddr uintptr, create bool) (*pageTableEntry, *kernel.Error) {
	dirIndex := (virtAddr >> 22) & (mem.TablesPerDirectory - 1)
	tblIndex := (virtAddr >> 12) & (mem.PtesPerTable - 1)

	table := pdt.tables[dirIndex]
	if table == nil {
		if !create {
			return nil, nil
		}

		addr, err := pdt.allocFn(mem.PageSize, true)
		if err != nil {
			return nil, err
		}

		kernel.Memset(addr, 0, uintptr(mem.PageSize))
		table = (*pageTable)(unsafe.Pointer(addr))
		pdt.tables[dirIndex] = table
		pdt.physicalTables[dirIndex] = uint32(addr) | uint32(FlagPresent|FlagRW|FlagUser)
	}

	return &table.entries[tblIndex], nil
}

// MapPages obtains (creating page tables as needed when create is true) the
// page table entry for every page index in [first, last). When
// identityMap is true, each page is additionally backed by the physical
// frame with the same index (virtual address V maps to physical frame
// V/PageSize) reserved directly in the frame allocator, and the entry is
// stamped present|rw.
func (pdt *PageDirectoryTable) MapPages(first, last Page, create, identityMap bool) *kernel.Error {
	for page := first; page < last; page++ {
		pte, err := pdt.GetPage(page.Address(), create)
		if err != nil {
			return err
		}
		if pte == nil {
			continue
		}

		if identityMap {
			frame := pmm.Frame(page)
			pmm.FrameAllocator.Reserve(frame)
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | FlagRW)
		}
	}

	return nil
}

// Load writes this directory's physical address to CR3 and enables paging
// (CR0 bit 31). Interrupts must be disabled by the caller.
func (pdt *PageDirectoryTable) Load() {
	writeCR3Fn(uint32(pdt.physAddr))
	EnablePaging()
}
