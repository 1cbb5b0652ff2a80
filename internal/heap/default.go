package heap

import "unsafe"

// defaultHeap is the process-wide allocator most callers use. §6's external
// contract describes a single global allocator; this package also exposes
// the instantiable Heap type above so tests (and a future multi-heap
// reimplementation) don't have to go through global state.
var defaultHeap *Heap

// Init lays out the default heap over region. It returns false (and
// leaves any previous default heap untouched) if region is unusable -
// mirroring the source's silent-reject contract for bad init arguments.
func Init(region []byte, opts ...Option) bool {
	h := NewHeap(region, opts...)
	if h == nil {
		return false
	}

	defaultHeap = h

	return true
}

// Allocate delegates to the default heap. Calling it before Init succeeds
// is a programming error in the caller, not a condition this package
// recovers from.
func Allocate(size uintptr) unsafe.Pointer {
	return defaultHeap.Allocate(size)
}

// Free delegates to the default heap.
func Free(ptr unsafe.Pointer) {
	defaultHeap.Free(ptr)
}

// Reallocate delegates to the default heap.
func Reallocate(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return defaultHeap.Reallocate(ptr, size)
}

// ZeroAllocate delegates to the default heap.
func ZeroAllocate(count, size uintptr) unsafe.Pointer {
	return defaultHeap.ZeroAllocate(count, size)
}
