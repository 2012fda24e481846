// Package bootmem implements a bump allocator used to bootstrap the kernel
// before the heap is available.
//
// Before paging is enabled, physical and "virtual" addresses coincide, so
// the cursor this package hands out can be dereferenced directly. Once the
// kernel heap has been constructed, the allocator is frozen via Freeze and
// every subsequent allocation must go through the heap instead.
package bootmem

import (
	"redshift/kernel"
	"redshift/kernel/mem"
)

var (
	// ErrOutOfStaticMemory is returned when the cursor would advance past
	// the upper memory bound reported by the bootloader.
	ErrOutOfStaticMemory = &kernel.Error{Module: "bootmem", Message: "out of static memory"}

	cursor     uintptr
	upperBound uintptr
	frozen     bool

	// allocCount tracks the number of successful allocations; used by
	// tests and by diagnostics printed at boot.
	allocCount uint64
)

// Init sets the allocator's cursor to start and records upperBound as the
// highest address the cursor may advance to.
func Init(start, upperBound_ uintptr) {
	cursor = start
	upperBound = upperBound_
	frozen = false
	allocCount = 0
}

// Freeze prevents any further allocations from this allocator. Called once
// the kernel heap is operational.
func Freeze() {
	frozen = true
}

// Frozen returns true if the allocator has been frozen.
func Frozen() bool {
	return frozen
}

// Cursor returns the current value of the bump cursor.
func Cursor() uintptr {
	return cursor
}

// StaticAlloc advances the cursor by size bytes and returns the address
// that preceded the advance. If pageAlign is true, the cursor is rounded up
// to the next page boundary before the allocation is carved out of it.
//
// StaticAlloc fails with ErrOutOfStaticMemory if the allocator has been
// frozen or if satisfying the request would push the cursor past the
// reported upper memory bound; both conditions are fatal for the caller.
func StaticAlloc(size mem.Size, pageAlign bool) (uintptr, *kernel.Error) {
	if frozen || size == 0 {
		return 0, ErrOutOfStaticMemory
	}

	addr := cursor
	if pageAlign {
		pageSizeMinus1 := uintptr(mem.PageSize - 1)
		addr = (addr + pageSizeMinus1) &^ pageSizeMinus1
	}

	next := addr + uintptr(size)
	if next > upperBound || next < addr {
		return 0, ErrOutOfStaticMemory
	}

	cursor = next
	allocCount++
	return addr, nil
}
