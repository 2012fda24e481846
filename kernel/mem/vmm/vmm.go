package vmm

import (
	"redshift/kernel"
	"redshift/kernel/cpu"
	"redshift/kernel/kfmt"
	"redshift/kernel/mem"
	"redshift/kernel/mem/pmm"
)

// writeCR3Fn is indirected through a package-level var so tests can stub out
// the actual CR3 write.
var writeCR3Fn = cpu.WriteCR3

// EnablePaging sets CR0's paging bit, turning on the MMU. It is defined here
// (rather than called directly from PageDirectoryTable.Load) so that tests
// outside this package can still reference it without importing cpu
// directly.
func EnablePaging() {
	cpu.EnablePaging()
}

// DisablePaging clears CR0's paging bit.
func DisablePaging() {
	cpu.DisablePaging()
}

// KernelDirectoryTable is the single page directory constructed during boot.
// Every kernel-mode context shares this directory; per-process directories
// (once the scheduler supports address-space isolation) are created
// separately via Create(UserDirectory, ...).
var KernelDirectoryTable *PageDirectoryTable

// heapRegionStart is the virtual address the kernel heap is built at. Unlike
// the identity-mapped kernel image below it, this region is not given any
// page table entries up front: heap.Create backs it with real physical
// frames (via Heap.expand, the same path used for later heap growth) before
// writing anything into it, so there is no unmapped window to fault on.
const heapRegionStart = 0x1000000

// HeapRegionStart returns the virtual address the kernel heap must be built
// at, disjoint from the identity-mapped kernel image and from
// kernel/goruntime's own reserved region.
func HeapRegionStart() uintptr {
	return heapRegionStart
}

// Init brings up the virtual memory subsystem: it sizes the physical frame
// bitmap, builds the kernel's page directory, identity maps every page up
// to kernelEnd (reserving their backing frames directly, leaving page 0
// unmapped so that a nil dereference still faults), and finally loads the
// directory and enables paging. It does not install the page fault handler;
// the caller registers HandlePageFault. The heap region itself is left
// unmapped here; heap.Create backs it with frames.
func Init(kernelStart, kernelEnd uintptr, totalMemKib mem.Size) *kernel.Error {
	if err := pmm.Init(kernelStart, kernelEnd, totalMemKib); err != nil {
		return err
	}

	dir, err := Create(KernelDirectory, nil)
	if err != nil {
		return err
	}
	KernelDirectoryTable = dir

	firstPage := PageFromAddress(uintptr(mem.PageSize))
	lastPage := PageFromAddress(kernelEnd) + 1
	if err := dir.MapPages(firstPage, lastPage, true, true); err != nil {
		return err
	}

	dir.Load()
	return nil
}

// HandlePageFault is installed as the interrupt 14 (page fault) handler. It
// decodes the hardware error code and the faulting address latched in CR2
// and logs a diagnostic. A kernel-mode fault is always a kernel bug and
// escalates to a panic; a user-mode fault has no recovery path yet but is
// not fatal to the kernel, so it is only logged.
func HandlePageFault(errorCode uint32) {
	faultAddr := cpu.ReadCR2()

	mode := "kernel"
	if errorCode&(1<<2) != 0 {
		mode = "user"
	}
	access := "reading"
	if errorCode&(1<<1) != 0 {
		access = "writing"
	}

	var reason string
	switch {
	case errorCode&(1<<3) != 0:
		reason = "invalid write to a reserved field"
	case errorCode&1 == 0:
		reason = "page not present"
	default:
		reason = "protection violation"
	}
	if errorCode&(1<<4) != 0 {
		reason += " during an instruction fetch"
	}

	kfmt.Printf("page fault at 0x%x while %s in %s mode: %s\n", faultAddr, access, mode, reason)
	if mode == "user" {
		return
	}
	kfmt.Panic(&kernel.Error{Module: "vmm", Message: "unrecoverable page fault"})
}
