package kernel

// Critical sections disable preemption for the duration of a kernel
// operation that must observe a consistent view of shared state, such as
// the heap's block list. They nest: only the outermost Enter actually
// masks interrupts, and only the matching outermost Leave restores them.
//
// There is exactly one core in the target environment, so depth is a
// plain counter rather than anything atomic. Callers must not call
// EnterCriticalSection/LeaveCriticalSection from more than one goroutine
// concurrently; that mirrors the single-core, non-reentrant contract of
// the bare-metal kernel this package stands in for.
var criticalDepth int

// EnterCriticalSection disables interrupts if this is the outermost call.
func EnterCriticalSection() {
	if criticalDepth == 0 {
		disableInterrupts()
	}

	criticalDepth++
}

// LeaveCriticalSection restores interrupts once the outermost critical
// section exits. Calling it without a matching Enter is a programming
// error in the caller and is ignored rather than going negative.
func LeaveCriticalSection() {
	if criticalDepth == 0 {
		return
	}

	criticalDepth--
	if criticalDepth == 0 {
		enableInterrupts()
	}
}

// InCriticalSection reports whether a critical section is currently held.
func InCriticalSection() bool {
	return criticalDepth > 0
}

// disableInterrupts masks interrupts (the `csrci mstatus, MIE` / `cli`
// equivalent). The host simulator has nothing to mask.
func disableInterrupts() {}

// enableInterrupts restores interrupts.
func enableInterrupts() {}
