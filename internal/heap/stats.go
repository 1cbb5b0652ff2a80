package heap

import "github.com/linmo-rt/linmo/internal/runtime/kernel"

// Stats is a point-in-time snapshot of a Heap's bookkeeping state, useful
// for debug tooling and property tests; it is never consulted by the
// allocator itself.
type Stats struct {
	RegionBase  uintptr
	RegionEnd   uintptr
	FreeBlocks  int
	TotalBlocks int
}

// Stats walks the block list and reports its current shape. Like every
// other public operation it runs under a critical section, since it reads
// header state a concurrent Allocate/Free would otherwise be mutating.
func (h *Heap) Stats() Stats {
	kernel.EnterCriticalSection()
	defer kernel.LeaveCriticalSection()

	s := Stats{RegionBase: h.base, RegionEnd: h.end}

	for b := h.head; ; b = b.next {
		s.TotalBlocks++
		if !isUsed(b) {
			s.FreeBlocks++
		}
		if b == h.sentinel {
			break
		}
	}

	return s
}

// FreeBlocks reports the current free_blocks counter directly, without a
// full list walk.
func (h *Heap) FreeBlocks() int {
	return h.freeBlocks
}
