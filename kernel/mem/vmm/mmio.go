package vmm

import (
	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/pmm"
)

// mmioRegionStart and mmioRegionEnd bound the virtual address range reserved
// for mapping device memory that lives at a known physical address (e.g. a
// VGA framebuffer) rather than being backed by freshly allocated frames.
// This window is kept well clear of both the kernel heap's region and the
// Go runtime's heap region so none of the three can collide.
const (
	mmioRegionStart = 0xF0000000
	mmioRegionEnd   = 0xFF000000
)

// ErrOutOfMMIOSpace is returned by MapRegion once the MMIO virtual address
// window has been exhausted.
var ErrOutOfMMIOSpace = &kernel.Error{Module: "vmm", Message: "out of mmio address space"}

var mmioCursor = uintptr(mmioRegionStart)

// MapRegion reserves size bytes of virtual address space from the MMIO
// window and maps them, one page at a time, to consecutive physical frames
// starting at startFrame, stamping flags on each page table entry. It
// returns the first virtual page of the mapping; the caller recovers the
// mapped address via Page.Address().
func MapRegion(startFrame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	regionSize := size
	if regionSize%mem.PageSize != 0 {
		regionSize += mem.PageSize - (regionSize % mem.PageSize)
	}

	virtStart := mmioCursor
	if virtStart+uintptr(regionSize) > mmioRegionEnd {
		return 0, ErrOutOfMMIOSpace
	}
	mmioCursor = virtStart + uintptr(regionSize)

	pageCount := regionSize / mem.PageSize
	for i := mem.Size(0); i < pageCount; i++ {
		addr := virtStart + uintptr(i)*uintptr(mem.PageSize)
		pte, err := KernelDirectoryTable.GetPage(addr, true)
		if err != nil {
			return 0, err
		}
		pte.SetFrame(startFrame + pmm.Frame(i))
		pte.SetFlags(flags)
	}

	return PageFromAddress(virtStart), nil
}
