package pmm

import (
	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/bootmem"
)

// FrameAllocator is the BitmapAllocator instance that serves as the primary
// allocator for reserving and releasing physical page frames once Init has
// run.
var FrameAllocator BitmapAllocator

// Init sets up the kernel physical memory allocation sub-system: it sizes
// and zeroes the frame bitmap for totalMemKib KiB of physical memory using
// the bump allocator, and reserves the frames occupied by the loaded kernel
// image plus every allocation the bump allocator has handed out so far
// (including the bitmap's own backing storage).
func Init(kernelStart, kernelEnd uintptr, totalMemKib mem.Size) *kernel.Error {
	if err := FrameAllocator.Init(totalMemKib); err != nil {
		return err
	}

	startFrame := FrameFromAddress(kernelStart)
	endFrame := FrameFromAddress(kernelEnd + uintptr(mem.PageSize-1))
	for f := startFrame; f <= endFrame; f++ {
		FrameAllocator.Reserve(f)
	}

	for addr := kernelEnd; addr < bootmem.Cursor(); addr += uintptr(mem.PageSize) {
		FrameAllocator.Reserve(FrameFromAddress(addr))
	}

	return nil
}
