package heap

import "unsafe"

// header precedes every payload in the region, allocated or free. next
// chains headers in address order; the terminal sentinel has next == nil.
// sizeAndFlag packs the payload size (in bytes, always a multiple of W)
// into all but its low bit, which is the used flag.
type header struct {
	next        *header
	sizeAndFlag uintptr
}

// headerSize is sizeof(H): the fixed cost charged against every live and
// free range in the region.
const headerSize = unsafe.Sizeof(header{})

const usedFlag = uintptr(1)

func isUsed(b *header) bool {
	return b.sizeAndFlag&usedFlag != 0
}

func payloadSize(b *header) uintptr {
	return b.sizeAndFlag &^ usedFlag
}

func markUsed(b *header) {
	b.sizeAndFlag |= usedFlag
}

func markFree(b *header) {
	b.sizeAndFlag &^= usedFlag
}

// setSize replaces the payload size, preserving the used flag.
func setSize(b *header, size uintptr) {
	b.sizeAndFlag = size | (b.sizeAndFlag & usedFlag)
}

func addrOf(b *header) uintptr {
	return uintptr(unsafe.Pointer(b))
}

func headerAt(addr uintptr) *header {
	return (*header)(unsafe.Pointer(addr))
}

// payloadPtr returns the address of the first payload byte following b's
// header: header = payload - sizeof(H), so payload = header + sizeof(H).
func payloadPtr(b *header) unsafe.Pointer {
	return unsafe.Pointer(addrOf(b) + headerSize)
}

// headerFromPayload recovers a block's header from a payload pointer a
// caller handed back to free/reallocate.
func headerFromPayload(p unsafe.Pointer) *header {
	return headerAt(uintptr(p) - headerSize)
}

// validateBlock implements §4.8: structural sanity of a single header
// against region bounds and, where a successor exists, the no-gap/no-overlap
// adjacency invariant.
func (h *Heap) validateBlock(b *header) bool {
	addr := addrOf(b)
	if addr < h.base || addr >= h.end {
		return false
	}
	if addr%h.config.WordSize != 0 {
		return false
	}

	size := payloadSize(b)
	if size == 0 || size > h.config.MaxPayload {
		return false
	}
	if addr+headerSize+size > h.end {
		return false
	}

	if b.next != nil {
		if addr+headerSize+size != addrOf(b.next) {
			return false
		}
	}

	return true
}
