// Package heap implements the kernel's general-purpose dynamic memory
// allocator: a first-fit allocator over a size-ordered list of blocks, with
// splitting on allocation and left/right coalescing on free. The Go
// runtime's own allocator does not use it: kernel/goruntime maps a separate
// region for the runtime.
package heap

import (
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/vmm"
)

// blockMagic guards every header and footer against accidental corruption;
// any operation that finds a mismatching magic indicates a heap bug or an
// out-of-bounds write by client code.
const blockMagic = 0x600DB10C

// blockFlag marks whether a block is in use or free (a "hole").
type blockFlag uint32

const (
	blockAllocated blockFlag = 0
	blockAvailable blockFlag = 1
)

// blockHeader precedes every block's usable memory.
type blockHeader struct {
	magic uint32
	flags blockFlag
	size  uint32 // size of the usable region; excludes header and footer
}

// blockFooter follows every block's usable memory and points back at its
// header, letting Free() and the coalescing logic locate neighbouring
// blocks without a separate doubly-linked structure.
type blockFooter struct {
	magic  uint32
	header *blockHeader
}

var (
	headerSize = mem.Size(unsafe.Sizeof(blockHeader{}))
	footerSize = mem.Size(unsafe.Sizeof(blockFooter{}))
	// minBlockSize is the smallest possible block: header + footer with a
	// zero-length usable region.
	minBlockSize = headerSize + footerSize
)

// ErrOutOfMemory is returned when the heap cannot grow far enough to
// satisfy a request.
var ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "heap exhausted and unable to grow"}

// maxBlocklistEntries bounds the size-ordered block index. It is sized
// generously relative to MinimumSize / minBlockSize so that a heap
// fragmented down to its smallest useful blocks still fits.
const maxBlocklistEntries = 8192

const (
	// MinimumSize is the smallest total size a heap is ever contracted to.
	MinimumSize = mem.Size(0x00080000) // 512 KiB

	// InitialSize is the size a freshly created kernel heap is given.
	InitialSize = mem.Size(0x00100000) // 1 MiB
)

// Heap is a first-fit dynamic memory allocator managing a single
// contiguous, page-aligned virtual address range.
type Heap struct {
	dir    *vmm.PageDirectoryTable
	blocks [maxBlocklistEntries]*blockHeader
	count  int

	start, end uintptr
	maxSize    mem.Size

	writable, userMode bool

	allocCount, freeCount uint
	bytesAllocated        uint64
}

// Create places a new heap over [start, start+initialSize) (which must
// already be page aligned) and reserves that it may grow up to maxSize.
// The entire initial region is a single hole. dir is the page directory
// used to back newly-grown pages; if nil, the kernel directory is used.
func Create(dir *vmm.PageDirectoryTable, start uintptr, initialSize, maxSize mem.Size, writable, userMode bool) (*Heap, *kernel.Error) {
	if dir == nil {
		dir = vmm.KernelDirectoryTable
	}

	h := &Heap{
		dir:      dir,
		start:    start,
		end:      start,
		maxSize:  maxSize,
		writable: writable,
		userMode: userMode,
	}

	// Back [start, start+initialSize) with real physical frames before
	// writing the first hole header into it: expand is the same path used
	// for later heap growth, so the initial region is mapped exactly like
	// every page the heap grows into afterwards.
	if err := h.expand(initialSize); err != nil {
		return nil, err
	}

	hole := (*blockHeader)(unsafe.Pointer(start))
	*hole = blockHeader{magic: blockMagic, flags: blockAvailable, size: uint32(initialSize) - uint32(minBlockSize)}
	placeFooter(hole)
	h.insert(hole)

	return h, nil
}

// usableAddress returns the address of the usable memory immediately
// following header.
func usableAddress(header *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(header)) + uintptr(headerSize)
}

// footerAddress returns the address of header's footer.
func footerAddress(header *blockHeader) uintptr {
	return usableAddress(header) + uintptr(header.size)
}

func footerOf(header *blockHeader) *blockFooter {
	return (*blockFooter)(unsafe.Pointer(footerAddress(header)))
}

func headerFromPointer(ptr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(ptr - uintptr(headerSize)))
}

func placeFooter(header *blockHeader) *blockFooter {
	footer := footerOf(header)
	*footer = blockFooter{magic: blockMagic, header: header}
	return footer
}

// totalBlockSize returns the footprint of a block (header + usable +
// footer) given the size of its usable region.
func totalBlockSize(usable mem.Size) mem.Size {
	return minBlockSize + usable
}

// insert adds header to the size-ordered block index, keeping it sorted
// ascending by usable size via simple insertion (blocklists stay small
// relative to maxBlocklistEntries in practice).
func (h *Heap) insert(header *blockHeader) {
	i := h.count
	h.blocks[i] = header
	for i > 0 && h.blocks[i-1].size > h.blocks[i].size {
		h.blocks[i-1], h.blocks[i] = h.blocks[i], h.blocks[i-1]
		i--
	}
	h.count++
}

// remove deletes the block index entry pointing at header, if present.
func (h *Heap) remove(header *blockHeader) {
	for i := 0; i < h.count; i++ {
		if h.blocks[i] == header {
			copy(h.blocks[i:h.count-1], h.blocks[i+1:h.count])
			h.blocks[h.count-1] = nil
			h.count--
			return
		}
	}
}

// smallestHole returns the index of the smallest hole whose usable region
// can satisfy a request for size bytes (after accounting for page
// alignment padding, if requested), or -1 if none exists.
func (h *Heap) smallestHole(size mem.Size, pageAlign bool) int {
	for i := 0; i < h.count; i++ {
		header := h.blocks[i]
		avail := mem.Size(header.size)
		if pageAlign {
			addr := usableAddress(header)
			var offset mem.Size
			if addr%uintptr(mem.PageSize) != 0 {
				offset = mem.PageSize - mem.Size(addr%uintptr(mem.PageSize))
			}
			if avail < offset {
				continue
			}
			avail -= offset
		}
		if avail >= size {
			return i
		}
	}
	return -1
}
