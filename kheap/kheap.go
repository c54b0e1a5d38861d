// Package kheap implements the kernel's first-fit, address-ordered,
// boundary-coalescing heap. The kernel allocates task stacks from it;
// TCBs and the semaphore, mutex, queue, and timer objects are ordinary Go
// values and do not come from this heap.
//
// Blocks are tracked as Go structs rather than by casting raw bytes, which
// keeps the allocator free of unsafe.Pointer arithmetic; the backing
// store is still a single contiguous []byte, and every accounting
// invariant (used+free+overhead == total, no two adjacent free blocks)
// holds over that byte range exactly as it would over real memory.
package kheap

import (
	"sync"

	"github.com/khryptorgraphics/zkrtos/ilist"
	"github.com/khryptorgraphics/zkrtos/kerrors"
)

// Ptr is an opaque handle to an allocation: the offset of the user's data
// within the heap's backing store (header-offset + aligned HeaderSize).
type Ptr int

// None is the invalid/null Ptr.
const None Ptr = -1

// block is the allocator's bookkeeping record for one heap block. It is
// never exposed to callers; Ptr is the only thing they hold.
type block struct {
	node   ilist.Node // membership in the free list when free
	offset int        // offset of this block's header
	size   int        // total size including header
	free   bool
}

// Stats is the set of counters the allocator reports.
type Stats struct {
	TotalSize     int
	PeakUsed      int
	CurrentUsed   int
	TotalAllocs   uint64
	TotalFrees    uint64
	AllocFailures uint64
}

// AllocFailedHook is invoked (outside the allocator's own lock) whenever
// Alloc cannot satisfy a request.
type AllocFailedHook func(requested int)

// Heap is a fixed-size, first-fit allocator over a static byte region.
type Heap struct {
	mu sync.Mutex

	buf         []byte
	alignment   int
	headerSize  int
	minBlock    int
	blocks      map[int]*block // header-offset -> block, used and free both
	freeList    *ilist.List    // address-ordered ascending
	usedCount   int
	stats       Stats
	onAllocFail AllocFailedHook
}

// minHeaderOverhead is the notional per-block bookkeeping cost before
// alignment; it stands in for the size+flags header a block carries
// inline in memory.
const minHeaderOverhead = 8

// New creates a Heap of size bytes aligned to alignment (4 or 8). size is
// rounded down to a multiple of alignment.
func New(size, alignment int) *Heap {
	if alignment != 4 && alignment != 8 {
		alignment = 8
	}
	size = alignDown(size, alignment)
	h := &Heap{
		buf:        make([]byte, size),
		alignment:  alignment,
		headerSize: alignUp(minHeaderOverhead, alignment),
		blocks:     make(map[int]*block),
		freeList:   ilist.New(),
	}
	h.minBlock = 2 * h.headerSize
	root := &block{offset: 0, size: size, free: true}
	root.node = *ilist.NewNode(root)
	h.blocks[0] = root
	h.freeList.PushBack(&root.node)
	h.stats.TotalSize = size
	return h
}

// SetAllocFailedHook registers the hook invoked when Alloc fails.
// Passing nil unregisters it.
func (h *Heap) SetAllocFailedHook(fn AllocFailedHook) {
	h.mu.Lock()
	h.onAllocFail = fn
	h.mu.Unlock()
}

func alignUp(n, a int) int   { return (n + a - 1) &^ (a - 1) }
func alignDown(n, a int) int { return n &^ (a - 1) }

// Alloc requests n usable bytes and returns a handle to them, or
// kerrors.NotEnoughMemory if no sufficiently large block exists.
func (h *Heap) Alloc(n int) (Ptr, kerrors.Code) {
	if n <= 0 {
		return None, kerrors.InvalidParam
	}
	h.mu.Lock()

	want := alignUp(n, h.alignment) + h.headerSize
	if want < h.minBlock {
		want = h.minBlock
	}
	want = alignUp(want, h.alignment)

	var fit *block
	for node := h.freeList.Front(); node != nil; node = node.Next() {
		b := node.Owner().(*block)
		if b.size >= want {
			fit = b
			break
		}
	}
	if fit == nil {
		h.stats.AllocFailures++
		hook := h.onAllocFail
		h.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		return None, kerrors.NotEnoughMemory
	}

	ilist.Remove(&fit.node)
	remainder := fit.size - want
	if remainder >= h.minBlock {
		fit.size = want
		rem := &block{offset: fit.offset + want, size: remainder, free: true}
		rem.node = *ilist.NewNode(rem)
		h.blocks[rem.offset] = rem
		h.insertFreeSorted(rem)
	}
	fit.free = false
	h.usedCount++
	h.stats.TotalAllocs++
	h.stats.CurrentUsed += fit.size
	if h.stats.CurrentUsed > h.stats.PeakUsed {
		h.stats.PeakUsed = h.stats.CurrentUsed
	}
	h.mu.Unlock()
	return Ptr(fit.offset + h.headerSize), kerrors.Success
}

// insertFreeSorted links b into the free list at the position that keeps
// the list address-ordered ascending. Caller holds h.mu.
func (h *Heap) insertFreeSorted(b *block) {
	var after *ilist.Node
	for node := h.freeList.Front(); node != nil; node = node.Next() {
		other := node.Owner().(*block)
		if other.offset > b.offset {
			break
		}
		after = node
	}
	if after == nil {
		h.freeList.PushFront(&b.node)
	} else {
		h.freeList.InsertAfter(&b.node, after)
	}
}

// Free releases a previously allocated handle. Freeing an unknown or
// already-free handle returns kerrors.MemoryCorruption without mutating
// state.
func (h *Heap) Free(p Ptr) kerrors.Code {
	if p == None {
		return kerrors.InvalidParam
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	offset := int(p) - h.headerSize
	b, ok := h.blocks[offset]
	if !ok || b.free {
		return kerrors.MemoryCorruption
	}

	b.free = true
	h.usedCount--
	h.stats.TotalFrees++
	h.stats.CurrentUsed -= b.size
	h.insertFreeSorted(b)
	h.coalesce(b)
	return kerrors.Success
}

// coalesce merges b with its physically adjacent free neighbours. Caller
// holds h.mu and has already linked b into the free list.
func (h *Heap) coalesce(b *block) {
	// Successor: the block immediately after b in address order is the
	// free-list node directly following b.node (list is address sorted).
	if next := b.node.Next(); next != nil {
		succ := next.Owner().(*block)
		if succ.offset == b.offset+b.size {
			ilist.Remove(next)
			b.size += succ.size
			delete(h.blocks, succ.offset)
		}
	}
	// Predecessor: walk back one link.
	if prevOwner := h.predecessorOf(b); prevOwner != nil {
		if prevOwner.offset+prevOwner.size == b.offset {
			ilist.Remove(&b.node)
			prevOwner.size += b.size
			delete(h.blocks, b.offset)
		}
	}
}

func (h *Heap) predecessorOf(b *block) *block {
	var prev *block
	for node := h.freeList.Front(); node != nil; node = node.Next() {
		owner := node.Owner().(*block)
		if owner == b {
			return prev
		}
		prev = owner
	}
	return nil
}

// Stats returns a snapshot of the allocator's counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	return s
}

// FreeBlockCount returns the number of distinct free blocks.
func (h *Heap) FreeBlockCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeList.Len()
}

// FragmentationPercent reports (freeBlocks-1)*100/freeBlocks: 0 for a
// single large free block, approaching 100 as free space splinters.
func (h *Heap) FragmentationPercent() int {
	h.mu.Lock()
	n := h.freeList.Len()
	h.mu.Unlock()
	if n <= 1 {
		return 0
	}
	return (n - 1) * 100 / n
}

// Bytes returns a slice view of the user-visible region backing handle p,
// sized to the block's (rounded-up) capacity, for callers that need to
// read or write payload bytes directly (e.g. a task's stack region).
func (h *Heap) Bytes(p Ptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	offset := int(p) - h.headerSize
	b, ok := h.blocks[offset]
	if !ok || b.free {
		return nil
	}
	return h.buf[int(p) : b.offset+b.size]
}
