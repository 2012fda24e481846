// Package kmain wires together the kernel's memory, interrupt and scheduling
// subsystems into a single boot sequence. It is the first Go code to run
// after the assembly entry point sets up a minimal stack.
package kmain

import (
	"redshift/kernel"
	"redshift/kernel/cpu"
	"redshift/kernel/debug"
	"redshift/kernel/gate"
	"redshift/kernel/goruntime"
	"redshift/kernel/hal"
	"redshift/kernel/hal/multiboot"
	"redshift/kernel/initrd"
	"redshift/kernel/kfmt"
	"redshift/kernel/mem"
	"redshift/kernel/mem/bootmem"
	"redshift/kernel/mem/heap"
	"redshift/kernel/mem/vmm"
	"redshift/kernel/sched"
	"redshift/kernel/timer"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoBootModule  = &kernel.Error{Module: "kmain", Message: "bootloader did not supply an initrd module"}
	errNoFreeMemory  = &kernel.Error{Module: "kmain", Message: "bootloader reported no available memory"}
)

// kernelHeapMaxSize bounds how far the kernel heap (C4) is allowed to grow
// past its initial size.
const kernelHeapMaxSize = mem.Size(0x01000000) // 16 MiB

// Kmain is the only Go symbol visible to the assembly entry point. It is
// invoked with the physical address of the multiboot2 info structure and
// the physical address range occupied by the loaded kernel image, both
// supplied by the bootloader/linker.
//
// Kmain is not expected to return: if it does, the entry point halts the
// CPU. It follows spec.md's control flow exactly: bring up interrupt
// dispatch (C5), discover memory from the bootloader, use the bump
// allocator (C1) to seed the frame allocator and paging (C2, C3), enable
// paging, construct the kernel heap (C4) at the virtual address paging
// leaves free for it (heap.Create backs it with frames), then start the
// timer (C6) driving the scheduler (C7).
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	gate.Init()
	gate.Handle(gate.PageFaultException, func(regs *gate.Registers, _ *gate.Frame) {
		vmm.HandlePageFault(regs.ErrorCode)
	})

	multiboot.SetInfoPtr(multibootInfoPtr)

	totalMemKib := discoverMemory()
	if totalMemKib == 0 {
		kfmt.Panic(errNoFreeMemory)
	}

	bootmem.Init(kernelEnd, kernelEnd+uintptr(totalMemKib)*uintptr(mem.Kb))

	if err := vmm.Init(kernelStart, kernelEnd, totalMemKib); err != nil {
		kfmt.Panic(err)
	}
	vmm.EnablePaging()

	kernelHeap, err := heap.Create(nil, heapStart(), heap.InitialSize, kernelHeapMaxSize, true, false)
	if err != nil {
		kfmt.Panic(err)
	}
	bootmem.Freeze()

	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	hal.DetectHardware()

	if err := loadInitrd(); err != nil {
		kfmt.Panic(err)
	}
	if err := debug.Init(); err != nil {
		kfmt.Panic(err)
	}

	timer.Init()
	sched.SetHeap(kernelHeap)
	sched.Init()

	kfmt.Printf("redshift: boot complete, %d KiB available\n", totalMemKib)

	cpu.EnableInterrupts()
	idleFn()

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// idleFn parks the boot processor once initialization completes; the
// scheduler takes over entirely from the timer tick (IRQ0) from this point
// on. It is a var so tests can substitute a non-blocking stub.
var idleFn = func() {
	for {
		cpu.Halt()
	}
}

// heapStart returns the page-aligned virtual address the kernel heap is
// built at. vmm.Init leaves this region unmapped; heap.Create backs it.
func heapStart() uintptr {
	return vmm.HeapRegionStart()
}

// discoverMemory sums the length of every available region the bootloader
// reported and returns the total in KiB.
func discoverMemory() mem.Size {
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	return totalFree / mem.Kb
}

// loadInitrd locates the bootloader's first module and hands its physical
// address range to the initrd reader.
func loadInitrd() *kernel.Error {
	mod, ok := multiboot.GetBootModule()
	if !ok {
		return errNoBootModule
	}

	return initrd.Init(uintptr(mod.Start), mod.End-mod.Start)
}
