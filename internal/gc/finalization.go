package gc

import "sync"

// FinalizationRegistry tracks weak targets for FinalizationRegistry/WeakRef
// cleanup scheduling. It stores only (weak target, entry index) pairs —
// the held value, unregister token, and cleanup callback are expected to
// live on the JS-visible wrapper object so they're traced as ordinary GC
// roots-of-the-wrapper, exactly as otter-vm-gc/src/finalization.rs does.
type FinalizationRegistry struct {
	mu      sync.Mutex
	heap    *Heap
	entries []targetEntry
	pending []uint32
	nextIdx uint32
}

type targetEntry struct {
	target Ref
	index  uint32
}

func newFinalizationRegistry(h *Heap) *FinalizationRegistry {
	return &FinalizationRegistry{heap: h}
}

// Finalization returns the heap's shared finalization registry.
func (h *Heap) Finalization() *FinalizationRegistry { return h.finalize }

// Register records target for weak tracking, returning an entry index the
// caller stores alongside its held value/callback on the JS wrapper.
func (f *FinalizationRegistry) Register(target Ref) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.nextIdx
	f.nextIdx++
	f.entries = append(f.entries, targetEntry{target: target, index: idx})
	return idx
}

// UnregisterTarget removes every entry registered against target (used by
// FinalizationRegistry.unregister with a token identifying by target).
func (f *FinalizationRegistry) UnregisterTarget(target Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.entries)
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.target != target {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return len(f.entries) != before
}

// UnregisterIndices removes entries by entry index (looked up via an
// unregister token).
func (f *FinalizationRegistry) UnregisterIndices(indices map[uint32]bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.entries)
	kept := f.entries[:0]
	for _, e := range f.entries {
		if !indices[e.index] {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return len(f.entries) != before
}

// sweepDeadTargets is called during Heap.Collect's sweep phase: any target
// still White after tracing is dead, and its entry index moves to the
// pending queue for microtask-scheduled cleanup.
func (f *FinalizationRegistry) sweepDeadTargets(h *Heap, version uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.entries[:0]
	for _, e := range f.entries {
		cell := h.Get(e.target)
		if cell == nil || cell.Header().colorFor(h) == White {
			f.pending = append(f.pending, e.index)
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
}

// DrainPending removes and returns all entry indices whose targets were
// collected since the last drain. The caller enqueues one microtask per
// index to invoke the registered cleanup callback.
func (f *FinalizationRegistry) DrainPending() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

// HasPending reports whether any cleanup callbacks are queued.
func (f *FinalizationRegistry) HasPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) > 0
}
