package heap

import (
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/pmm"
	"redshift/kernel/mem/vmm"
)

// Alloc reserves size bytes from the heap, optionally page-aligning the
// returned usable address, and returns that address.
func Alloc(h *Heap, size mem.Size, pageAlign bool) (uintptr, *kernel.Error) {
	defer kernel.EnterCritical()()

	blockSize := totalBlockSize(size)
	hole := h.smallestHole(blockSize, pageAlign)
	if hole < 0 {
		return h.growAndAlloc(size, pageAlign)
	}

	header := h.allocWithinHole(hole, size, pageAlign)
	h.allocCount++
	h.bytesAllocated += uint64(header.size)
	return usableAddress(header), nil
}

// allocWithinHole carves size bytes (plus any page-alignment padding) out
// of the hole at blocks[holeIndex], splitting off a smaller hole in front
// (for alignment) and/or behind (for leftover space) as needed.
func (h *Heap) allocWithinHole(holeIndex int, size mem.Size, pageAlign bool) *blockHeader {
	header := h.blocks[holeIndex]
	blockSize := totalBlockSize(size)
	originalAddr := uintptr(unsafe.Pointer(header))
	originalSize := mem.Size(header.size)

	if mem.Size(originalSize)-blockSize <= minBlockSize {
		// Leftover space too small to hole off on its own; fold it into
		// this allocation instead.
		size += originalSize - blockSize
		blockSize = totalBlockSize(size)
	}

	if pageAlign && originalAddr%uintptr(mem.PageSize) != 0 {
		padding := mem.Size(mem.PageSize) - mem.Size(originalAddr%uintptr(mem.PageSize)) - headerSize
		frontHole := h.carveHole(originalAddr, padding)
		originalAddr = usableAddress(frontHole) + uintptr(frontHole.size)
		originalSize -= mem.Size(frontHole.size) + minBlockSize
	} else {
		h.remove(header)
	}

	block := (*blockHeader)(unsafe.Pointer(originalAddr))
	*block = blockHeader{magic: blockMagic, flags: blockAllocated, size: uint32(size)}
	placeFooter(block)
	h.insert(block)

	if originalSize-blockSize > minBlockSize {
		tailAddr := originalAddr + uintptr(headerSize) + uintptr(size) + uintptr(footerSize)
		tailSize := originalSize - blockSize
		h.carveHole(tailAddr, tailSize)
	}

	return block
}

// carveHole writes a fresh hole header+footer at addr and indexes it.
func (h *Heap) carveHole(addr uintptr, size mem.Size) *blockHeader {
	header := (*blockHeader)(unsafe.Pointer(addr))
	*header = blockHeader{magic: blockMagic, flags: blockAvailable, size: uint32(size)}
	placeFooter(header)
	h.insert(header)
	return header
}

// growAndAlloc expands the heap by enough pages to satisfy size, places a
// new hole at the end of the old region, and retries the allocation.
func (h *Heap) growAndAlloc(size mem.Size, pageAlign bool) (uintptr, *kernel.Error) {
	oldEnd := h.end
	oldLen := mem.Size(h.end - h.start)
	blockSize := totalBlockSize(size)

	if err := h.expand(oldLen + blockSize); err != nil {
		return 0, err
	}

	h.carveHole(oldEnd, mem.Size(h.end-h.start)-oldLen)

	hole := h.smallestHole(blockSize, pageAlign)
	if hole < 0 {
		return 0, ErrOutOfMemory
	}
	header := h.allocWithinHole(hole, size, pageAlign)
	h.allocCount++
	h.bytesAllocated += uint64(header.size)
	return usableAddress(header), nil
}

// expand grows the heap's backing store to newSize bytes (rounded up to a
// page boundary), allocating and mapping one physical frame per new page.
func (h *Heap) expand(newSize mem.Size) *kernel.Error {
	if newSize%mem.PageSize != 0 {
		newSize += mem.PageSize - (newSize % mem.PageSize)
	}
	if newSize > h.maxSize {
		return ErrOutOfMemory
	}

	oldSize := mem.Size(h.end - h.start)
	flags := vmm.FlagPresent
	if h.writable {
		flags |= vmm.FlagRW
	}
	if h.userMode {
		flags |= vmm.FlagUser
	}

	for off := oldSize; off < newSize; off += mem.PageSize {
		frame, err := pmm.FrameAllocator.AllocFrame()
		if err != nil {
			return err
		}

		pte, err := h.dir.GetPage(h.start+uintptr(off), true)
		if err != nil {
			return err
		}
		pte.SetFrame(frame)
		pte.SetFlags(flags)
	}

	h.end = h.start + uintptr(newSize)
	return nil
}
