// Package heap implements a single-region, first-fit heap allocator for a
// constrained bare-metal execution environment. It manages one contiguous
// byte region handed to it at boot time and exposes the four-operation
// allocator contract (allocate, free, reallocate, zero-allocate) over an
// intrusive, address-ordered block header list.
//
// The allocator is not reentrant and not internally thread-safe: mutual
// exclusion is the caller's job, achieved here by masking preemption for
// the duration of each public operation (see internal/runtime/kernel).
// Structural corruption — a header outside the region, a broken adjacency,
// a double free — is never recovered from; it is reported to
// internal/exception and the process aborts.
package heap

import (
	"unsafe"

	"github.com/linmo-rt/linmo/internal/exception"
	"github.com/linmo-rt/linmo/internal/runtime/kernel"
)

// Heap is one contiguous, word-aligned memory region managed as a
// first-fit intrusive free list. The zero value is not usable; construct
// one with NewHeap.
type Heap struct {
	config *Config

	region []byte // keeps the backing array alive and pinned

	base uintptr // region_base
	end  uintptr // region_end, after rounding length down to W

	head     *header // first header, always at base
	sentinel *header // terminal header, at end - headerSize

	freeBlocks int
}

// NewHeap lays out a sentinel-terminated block list over region and
// returns a ready-to-use Heap. It returns nil if region is empty or too
// small to hold two headers plus the minimum payload, if the configured
// word size is not a power of two, or if region's address is not aligned
// to the configured word size — mirroring init's
// silent-reject contract rather than returning an error, since there is
// nothing partially constructed to clean up.
func NewHeap(region []byte, opts ...Option) *Heap {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.WordSize == 0 || cfg.WordSize&(cfg.WordSize-1) != 0 {
		return nil
	}

	if len(region) == 0 {
		return nil
	}

	base := uintptr(unsafe.Pointer(&region[0]))
	if base%cfg.WordSize != 0 {
		return nil
	}

	length := uintptr(len(region))
	length -= length % cfg.WordSize

	if length < 2*headerSize+cfg.MinPayload {
		return nil
	}

	h := &Heap{
		config: cfg,
		region: region,
		base:   base,
		end:    base + length,
	}

	h.head = headerAt(h.base)
	h.sentinel = headerAt(h.end - headerSize)

	h.head.sizeAndFlag = length - 2*headerSize // used flag clear: free
	h.head.next = h.sentinel

	h.sentinel.sizeAndFlag = 0
	markUsed(h.sentinel)
	h.sentinel.next = nil

	h.freeBlocks = 1

	return h
}

// roundUpWord rounds n up to the next multiple of the heap's word size.
func (h *Heap) roundUpWord(n uintptr) uintptr {
	w := h.config.WordSize
	return (n + w - 1) &^ (w - 1)
}

func (h *Heap) corrupt(message string) {
	exception.Raise(exception.ExceptionHeapCorrupt, message)
}

// Allocate returns a payload pointer of at least size bytes, or nil if
// size is zero, exceeds MaxPayload, or no free block is large enough.
func (h *Heap) Allocate(size uintptr) unsafe.Pointer {
	if size == 0 || size > h.config.MaxPayload {
		return nil
	}

	size = h.roundUpWord(size)
	if size < h.config.MinPayload {
		size = h.config.MinPayload
	}

	kernel.EnterCriticalSection()
	defer kernel.LeaveCriticalSection()

	if h.freeBlocks > h.config.CoalesceThreshold {
		h.coalesceSweep()
	}

	var found *header
	for b := h.head; b != h.sentinel; b = b.next {
		if !h.validateBlock(b) {
			h.corrupt("allocate: block failed validation")
			return nil
		}
		if !isUsed(b) && payloadSize(b) >= size {
			found = b
			break
		}
	}

	if found == nil {
		return nil
	}

	h.split(found, size)
	markUsed(found)

	h.freeBlocks--
	if h.freeBlocks < 0 {
		h.corrupt("allocate: free_blocks underflow")
		return nil
	}

	return payloadPtr(found)
}

// Free returns ptr's block to the pool, coalescing with both neighbors
// where possible. ptr == nil is a no-op. Any other pointer not currently
// live — a wild pointer or a double free — is fatal.
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	kernel.EnterCriticalSection()
	defer kernel.LeaveCriticalSection()

	b := headerFromPayload(ptr)
	if !h.validateBlock(b) || !isUsed(b) {
		h.corrupt("free: invalid or already-free pointer")
		return
	}

	markFree(b)
	h.freeBlocks++

	// Forward merge: absorb b.next if it is free. The sentinel is always
	// used, so this never tries to merge past the end of the region.
	if b.next != nil && !isUsed(b.next) {
		n := b.next
		setSize(b, payloadSize(b)+headerSize+payloadSize(n))
		b.next = n.next
		h.freeBlocks--
	}

	// Backward merge: walk the full address-ordered list from head to
	// find b's predecessor, then absorb b into it if free. The walk
	// visits every header, not just free ones.
	var pred *header
	for c := h.head; c != nil && c != b; c = c.next {
		pred = c
	}

	if pred != nil && !isUsed(pred) {
		setSize(pred, payloadSize(pred)+headerSize+payloadSize(b))
		pred.next = b.next
		h.freeBlocks--
	}

	if h.freeBlocks < 0 {
		h.corrupt("free: free_blocks underflow")
	}
}

// Reallocate resizes ptr's block to size bytes, preferring in-place
// shrink/grow over a relocate+copy+free. ptr == nil behaves as Allocate;
// size == 0 behaves as Free and returns nil. If a relocate is required
// and the fresh allocation fails, the original block is left untouched
// and nil is returned.
func (h *Heap) Reallocate(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if size > h.config.MaxPayload {
		return nil
	}
	if ptr == nil {
		return h.Allocate(size)
	}
	if size == 0 {
		h.Free(ptr)
		return nil
	}

	size = h.roundUpWord(size)
	if size < h.config.MinPayload {
		size = h.config.MinPayload
	}

	kernel.EnterCriticalSection()
	defer kernel.LeaveCriticalSection()

	b := headerFromPayload(ptr)
	if !h.validateBlock(b) || !isUsed(b) {
		h.corrupt("reallocate: invalid pointer")
		return nil
	}

	old := payloadSize(b)

	// In-place shrink, no-op: excess too small to form a free block.
	if size <= old && old-size < headerSize+h.config.MinPayload {
		return ptr
	}

	// Split shrink.
	if size <= old {
		h.split(b, size)
		if h.freeBlocks > h.config.CoalesceThreshold {
			h.coalesceSweep()
		}
		return ptr
	}

	// Grow into next-free.
	if b.next != nil && !isUsed(b.next) &&
		old+headerSize+payloadSize(b.next) >= size {
		n := b.next
		setSize(b, old+headerSize+payloadSize(n))
		b.next = n.next
		h.freeBlocks--

		h.split(b, size)
		if h.freeBlocks > h.config.CoalesceThreshold {
			h.coalesceSweep()
		}
		return ptr
	}

	// Relocate.
	newPtr := h.allocateLocked(size)
	if newPtr == nil {
		return nil
	}

	copySize := old
	if size < copySize {
		copySize = size
	}
	copy(unsafe.Slice((*byte)(newPtr), copySize), unsafe.Slice((*byte)(ptr), copySize))

	h.freeLocked(b)

	return newPtr
}

// ZeroAllocate allocates room for count*size bytes (overflow-checked) and
// zero-fills it before returning the payload pointer.
func (h *Heap) ZeroAllocate(count, size uintptr) unsafe.Pointer {
	if count > 0 && size > h.config.MaxPayload/count {
		return nil
	}

	total := h.roundUpWord(count * size)

	p := h.Allocate(total)
	if p == nil {
		return nil
	}

	if total > 0 {
		clear(unsafe.Slice((*byte)(p), total))
	}

	return p
}

// split carves a new free successor out of b when the leftover space after
// size bytes is large enough to hold a header plus MinPayload; otherwise
// the excess becomes internal slack and b is left at its original size.
func (h *Heap) split(b *header, size uintptr) {
	remaining := payloadSize(b) - size
	if remaining < headerSize+h.config.MinPayload {
		return
	}

	newHeaderAddr := addrOf(b) + headerSize + size
	newBlock := headerAt(newHeaderAddr)
	newBlock.sizeAndFlag = remaining - headerSize // free
	newBlock.next = b.next

	b.next = newBlock
	setSize(b, size)

	h.freeBlocks++
}

// coalesceSweep merges every adjacent free pair in one address-ordered
// pass, amortizing the structural cleanup the singly-linked free path
// cannot do cheaply on its own.
func (h *Heap) coalesceSweep() {
	for b := h.head; b != h.sentinel && b != nil; {
		if isUsed(b) {
			b = b.next
			continue
		}

		for b.next != nil && b.next != h.sentinel && !isUsed(b.next) {
			n := b.next
			setSize(b, payloadSize(b)+headerSize+payloadSize(n))
			b.next = n.next
			h.freeBlocks--
		}

		b = b.next
	}
}

// allocateLocked and freeLocked are Allocate/Free without the critical
// section, used by Reallocate's relocate path which already holds the
// critical section for the whole operation.
func (h *Heap) allocateLocked(size uintptr) unsafe.Pointer {
	if h.freeBlocks > h.config.CoalesceThreshold {
		h.coalesceSweep()
	}

	var found *header
	for b := h.head; b != h.sentinel; b = b.next {
		if !h.validateBlock(b) {
			h.corrupt("allocate: block failed validation")
			return nil
		}
		if !isUsed(b) && payloadSize(b) >= size {
			found = b
			break
		}
	}

	if found == nil {
		return nil
	}

	h.split(found, size)
	markUsed(found)
	h.freeBlocks--

	return payloadPtr(found)
}

func (h *Heap) freeLocked(b *header) {
	markFree(b)
	h.freeBlocks++

	if b.next != nil && !isUsed(b.next) {
		n := b.next
		setSize(b, payloadSize(b)+headerSize+payloadSize(n))
		b.next = n.next
		h.freeBlocks--
	}

	var pred *header
	for c := h.head; c != nil && c != b; c = c.next {
		pred = c
	}

	if pred != nil && !isUsed(pred) {
		setSize(pred, payloadSize(pred)+headerSize+payloadSize(b))
		pred.next = b.next
		h.freeBlocks--
	}
}
