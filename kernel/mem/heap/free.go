package heap

import (
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/kfmt"
	"redshift/kernel/mem"
	"redshift/kernel/mem/pmm"
)

const (
	noUnify    = 0
	unifyLeft  = 1 << 0
	unifyRight = 1 << 1
)

// Free releases the block whose usable region begins at ptr, coalescing it
// with any adjacent holes and, if the freed region reaches the end of the
// heap, contracting the heap's backing store.
func Free(h *Heap, ptr uintptr) {
	if ptr == 0 {
		return
	}

	defer kernel.EnterCritical()()

	header := headerFromPointer(ptr)
	footer := footerOf(header)
	if header.magic != blockMagic || footer.magic != blockMagic || footer.header != header {
		kfmt.Panic(&kernel.Error{Module: "heap", Message: "corrupted block on free"})
	}

	originalSize := mem.Size(header.size)
	header.flags |= blockAvailable

	unifyResult := h.unifyHoles(&header, &footer)
	addToList := unifyResult&unifyLeft == 0

	h.freeCount++
	h.bytesAllocated -= uint64(originalSize)

	if footerAddress(header)+uintptr(footerSize) >= h.end {
		oldLen := mem.Size(h.end - h.start)
		newLen := h.contract(mem.Size(uintptr(unsafe.Pointer(header)) - h.start))

		if shrunkBy := oldLen - newLen; mem.Size(header.size) > shrunkBy {
			header.size -= uint32(shrunkBy)
			footer = placeFooter(header)
		} else {
			h.remove(header)
			return
		}
	}

	if addToList {
		h.insert(header)
	}
}

// unifyLeftHole merges *header into its left neighbour if that neighbour is
// itself a hole, by inspecting the footer immediately preceding *header.
func (h *Heap) unifyLeftHole(header **blockHeader, footer *blockFooter) int {
	addr := uintptr(unsafe.Pointer(*header))
	if addr-h.start < uintptr(footerSize) {
		return noUnify
	}
	candidate := (*blockFooter)(unsafe.Pointer(addr - uintptr(footerSize)))
	if candidate.magic != blockMagic || candidate.header.flags != blockAvailable {
		return noUnify
	}

	cachedSize := (*header).size
	*header = candidate.header
	footer.header = *header
	(*header).size += cachedSize
	return unifyLeft
}

// unifyRightHole merges the hole immediately following *footer into header,
// removing the absorbed header from the block index.
func (h *Heap) unifyRightHole(header *blockHeader, footer **blockFooter) int {
	addr := footerAddress(header) + uintptr(footerSize)
	if addr >= h.end {
		return noUnify
	}
	candidate := (*blockHeader)(unsafe.Pointer(addr))
	if candidate.magic != blockMagic || candidate.flags != blockAvailable {
		return noUnify
	}

	header.size += candidate.size
	*footer = placeFooter(header)
	h.remove(candidate)
	return unifyRight
}

func (h *Heap) unifyHoles(header **blockHeader, footer **blockFooter) int {
	left := h.unifyLeftHole(header, *footer)
	right := h.unifyRightHole(*header, footer)
	return left | right
}

// contract shrinks the heap's backing store so that it ends at
// h.start+newSize (rounded up to a page and never below MinimumSize),
// freeing the physical frame backing every page dropped.
func (h *Heap) contract(newSize mem.Size) mem.Size {
	oldSize := mem.Size(h.end - h.start)
	if newSize%mem.PageSize != 0 {
		newSize += mem.PageSize - (newSize % mem.PageSize)
	}
	if newSize < MinimumSize {
		newSize = MinimumSize
	}
	if newSize >= oldSize {
		return oldSize
	}

	for off := oldSize - mem.PageSize; off > newSize; off -= mem.PageSize {
		addr := h.start + uintptr(off)
		if pte, err := h.dir.GetPage(addr, false); err == nil {
			pmm.FrameAllocator.FreeFrame(pte.Frame())
			pte.SetFlags(0)
		}
	}

	h.end = h.start + uintptr(newSize)
	return newSize
}
