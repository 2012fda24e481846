package heap

import (
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/kfmt"
	"redshift/kernel/mem"
)

// Resize changes the usable size of the block at ptr to newSize. It prefers
// an in-place shrink (splitting the freed tail into its own hole) or an
// in-place grow into an immediately-following hole, and falls back to
// allocating a new block, copying the old contents, and freeing ptr only
// when neither fits. ptr is left untouched and still valid if the fallback
// allocation fails.
func Resize(h *Heap, ptr uintptr, newSize mem.Size) (uintptr, *kernel.Error) {
	if ptr == 0 {
		return 0, nil
	}

	defer kernel.EnterCritical()()

	header := headerFromPointer(ptr)
	footer := footerOf(header)
	if header.magic != blockMagic || footer.magic != blockMagic || footer.header != header {
		kfmt.Panic(&kernel.Error{Module: "heap", Message: "corrupted block on resize"})
	}

	current := mem.Size(header.size)
	switch {
	case newSize == current:
		return ptr, nil
	case newSize < current:
		h.shrinkBlock(header, newSize)
		return ptr, nil
	}

	if grown := h.growIntoRightHole(header, newSize); grown {
		return ptr, nil
	}

	newPtr, err := Alloc(h, newSize, false)
	if err != nil {
		return 0, err
	}
	kernel.Memcopy(ptr, newPtr, uintptr(current))
	Free(h, ptr)
	return newPtr, nil
}

// shrinkBlock reduces header's usable size to newSize, splitting the freed
// tail off into its own hole when it is large enough to hold one, or simply
// leaving the extra bytes folded into the block otherwise.
func (h *Heap) shrinkBlock(header *blockHeader, newSize mem.Size) {
	holeSize := mem.Size(header.size) - newSize
	header.size = uint32(newSize)
	placeFooter(header)

	if holeSize > minBlockSize {
		h.carveHole(footerAddress(header)+uintptr(footerSize), holeSize-minBlockSize)
	} else {
		header.size += uint32(holeSize)
		placeFooter(header)
	}
}

// growIntoRightHole absorbs the hole immediately following header, if one
// exists and is large enough to satisfy newSize, splitting off any leftover
// as a new trailing hole. It reports whether the grow succeeded.
func (h *Heap) growIntoRightHole(header *blockHeader, newSize mem.Size) bool {
	addr := footerAddress(header) + uintptr(footerSize)
	if addr >= h.end {
		return false
	}
	next := (*blockHeader)(unsafe.Pointer(addr))
	if next.magic != blockMagic || next.flags != blockAvailable {
		return false
	}

	combined := mem.Size(header.size) + minBlockSize + mem.Size(next.size)
	if combined < newSize {
		return false
	}

	h.remove(next)
	holeSize := combined - newSize
	header.size = uint32(newSize)
	placeFooter(header)

	if holeSize > minBlockSize {
		h.carveHole(footerAddress(header)+uintptr(footerSize), holeSize-minBlockSize)
	} else {
		header.size += uint32(holeSize)
		placeFooter(header)
	}
	return true
}
