package heap

import (
	"testing"
	"unsafe"

	"redshift/kernel"
	"redshift/kernel/mem"
	"redshift/kernel/mem/bootmem"
	"redshift/kernel/mem/pmm"
	"redshift/kernel/mem/vmm"
)

// bootmemArena backs the page directory and page tables newTestHeap builds.
// It is unrelated to the heap's own backing memory (see the heapArena built
// inside newTestHeap): GetPage only uses a virtual address to index a table,
// it never requires that address to fall within the bump allocator's range,
// exactly as a real heap's virtual region is disjoint from the identity
// mapped boot region it is built alongside.
var bootmemArena [32 * 1024]byte

// newTestHeap wires up a real page directory and a real (if modestly sized)
// frame allocator so Create's now-mandatory frame-backing expand call has
// something to allocate from, then builds the heap itself over a plain Go
// byte array standing in for its backing memory.
func newTestHeap(t *testing.T, arenaSize mem.Size) (*Heap, *vmm.PageDirectoryTable) {
	t.Helper()

	bmStart := uintptr(unsafe.Pointer(&bootmemArena[0]))
	bootmem.Init(bmStart, bmStart+uintptr(len(bootmemArena)))
	t.Cleanup(func() { bootmem.Init(0, 0) })

	if err := pmm.FrameAllocator.Init(mem.Size(4096)); err != nil {
		t.Fatalf("pmm.FrameAllocator.Init: %v", err)
	}

	dir, err := vmm.Create(vmm.KernelDirectory, nil)
	if err != nil {
		t.Fatalf("vmm.Create: %v", err)
	}

	heapArena := make([]byte, arenaSize)
	start := uintptr(unsafe.Pointer(&heapArena[0]))

	h, cErr := Create(dir, start, arenaSize, arenaSize, true, false)
	if cErr != nil {
		t.Fatalf("Create: %v", cErr)
	}
	return h, dir
}

func TestCreateSeedsSingleHole(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)
	if h.count != 1 {
		t.Fatalf("expected a single hole after Create, got %d entries", h.count)
	}
	if h.blocks[0].flags != blockAvailable {
		t.Fatalf("expected the initial block to be a hole")
	}
	wantSize := uint32(mem.PageSize) - uint32(minBlockSize)
	if h.blocks[0].size != wantSize {
		t.Fatalf("expected initial hole size %d, got %d", wantSize, h.blocks[0].size)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if ptr == 0 {
		t.Fatalf("expected non-zero pointer")
	}
	header := headerFromPointer(ptr)
	if header.magic != blockMagic {
		t.Fatalf("allocated block missing magic")
	}
	if header.flags != blockAllocated {
		t.Fatalf("allocated block should not be marked available")
	}
	if h.allocCount != 1 {
		t.Fatalf("expected allocCount == 1, got %d", h.allocCount)
	}

	Free(h, ptr)
	if h.freeCount != 1 {
		t.Fatalf("expected freeCount == 1, got %d", h.freeCount)
	}
	if header.flags != blockAvailable {
		t.Fatalf("freed block should be marked available")
	}
}

func TestAllocSplitsLargeHoleLeavingRemainder(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	_, err := Alloc(h, 32, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if h.count != 2 {
		t.Fatalf("expected the hole to be split into an allocated block and a remainder hole, got %d entries", h.count)
	}
}

func TestAllocFoldsSmallRemainderIntoBlock(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	// Sized so the initial hole's usable region is just over the requested
	// block's footprint: the one-byte remainder is too small to stand alone
	// as a hole and gets folded into the allocation.
	initialHoleUsable := mem.Size(mem.PageSize) - minBlockSize
	requestSize := initialHoleUsable - minBlockSize - 1

	ptr, err := Alloc(h, requestSize, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	header := headerFromPointer(ptr)
	if mem.Size(header.size) <= requestSize {
		t.Fatalf("expected leftover space too small to hole off to be folded into the allocation, got size %d", header.size)
	}
	if h.count != 1 {
		t.Fatalf("expected no separate remainder hole, got %d entries", h.count)
	}
}

func TestFreeUnifiesAdjacentHoles(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	a, err := Alloc(h, 32, false)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	b, err := Alloc(h, 32, false)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	Free(h, a)
	beforeMerge := h.count

	Free(h, b)
	if h.count >= beforeMerge+1 {
		t.Fatalf("expected freeing the adjacent block to unify holes rather than grow the index")
	}
}

func TestAllocFailsWhenHeapCannotGrow(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	if _, err := Alloc(h, 4*mem.PageSize, false); err == nil {
		t.Fatalf("expected an out-of-memory error when the request exceeds maxSize")
	}
}

func TestAllocPageAligned(t *testing.T) {
	h, _ := newTestHeap(t, 3*mem.PageSize)

	ptr, err := Alloc(h, 64, true)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if ptr%uintptr(mem.PageSize) != 0 {
		t.Fatalf("expected a page-aligned address, got %#x", ptr)
	}
}

func TestResizeSameSizeIsNoop(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	resized, rErr := Resize(h, ptr, 64)
	if rErr != nil {
		t.Fatalf("Resize: %v", rErr)
	}
	if resized != ptr {
		t.Fatalf("expected resize(p, current_size(p)) to return p unchanged, got %#x want %#x", resized, ptr)
	}
}

func TestResizeShrinkCarvesTrailingHole(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 512, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	countBeforeShrink := h.count

	resized, rErr := Resize(h, ptr, 64)
	if rErr != nil {
		t.Fatalf("Resize: %v", rErr)
	}
	if resized != ptr {
		t.Fatalf("expected an in-place shrink to keep the same pointer")
	}

	header := headerFromPointer(ptr)
	if mem.Size(header.size) != 64 {
		t.Fatalf("expected shrunk block usable size 64, got %d", header.size)
	}
	if h.count != countBeforeShrink+1 {
		t.Fatalf("expected the freed tail to become its own hole, block count %d -> %d", countBeforeShrink, h.count)
	}
}

func TestResizeShrinkFoldsTinyRemainder(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	countBeforeShrink := h.count

	resized, rErr := Resize(h, ptr, 64-1)
	if rErr != nil {
		t.Fatalf("Resize: %v", rErr)
	}
	if resized != ptr {
		t.Fatalf("expected an in-place shrink to keep the same pointer")
	}

	header := headerFromPointer(ptr)
	if mem.Size(header.size) != 64 {
		t.Fatalf("expected the one-byte shrink to be folded back into the block, got size %d", header.size)
	}
	if h.count != countBeforeShrink {
		t.Fatalf("expected no new hole for a too-small remainder, block count %d -> %d", countBeforeShrink, h.count)
	}
}

func TestResizeGrowIntoAdjacentHole(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	resized, rErr := Resize(h, ptr, 256)
	if rErr != nil {
		t.Fatalf("Resize: %v", rErr)
	}
	if resized != ptr {
		t.Fatalf("expected growing into the trailing hole to keep the same pointer")
	}

	header := headerFromPointer(ptr)
	if mem.Size(header.size) < 256 {
		t.Fatalf("expected grown block usable size >= 256, got %d", header.size)
	}
}

func TestResizeGrowMovesWhenNoAdjacentHole(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	a, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	// Allocate b immediately after a so a has no hole to its right.
	_, err = Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	kernel.Memset(a, 0xAB, 64)

	resized, rErr := Resize(h, a, 128)
	if rErr != nil {
		t.Fatalf("Resize: %v", rErr)
	}
	if resized == a {
		t.Fatalf("expected resize to move when no adjacent hole can satisfy the grow")
	}

	header := headerFromPointer(resized)
	if mem.Size(header.size) < 128 {
		t.Fatalf("expected moved block usable size >= 128, got %d", header.size)
	}

	check := *(*byte)(unsafe.Pointer(resized))
	if check != 0xAB {
		t.Fatalf("expected moved block to preserve original contents, got %#x", check)
	}
}

func TestResizeGrowFailureLeavesOriginalIntact(t *testing.T) {
	h, _ := newTestHeap(t, mem.PageSize)

	ptr, err := Alloc(h, 64, false)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	// newSize is far larger than maxSize, so neither growing into the
	// trailing hole nor growing by moving can succeed.
	resized, rErr := Resize(h, ptr, 4*mem.PageSize)
	if rErr == nil {
		t.Fatalf("expected Resize to report failure when it cannot grow")
	}
	if resized != 0 {
		t.Fatalf("expected a failed resize to return 0, got %#x", resized)
	}

	header := headerFromPointer(ptr)
	if mem.Size(header.size) != 64 {
		t.Fatalf("expected the original block to be untouched after a failed grow, got size %d", header.size)
	}
}
