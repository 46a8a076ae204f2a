package gc

// WeakRef holds a Ref without keeping its target alive. Deref returns the
// target only if it's still live: present in the arena, i.e. not yet
// swept; its current mark color is not consulted. Matches spec.md §4.1's
// "WeakRef holds a raw header pointer and returns its target only if that
// header is live" — here the raw pointer is the arena slot lookup.
type WeakRef struct {
	heap   *Heap
	target Ref
}

// NewWeakRef wraps target in a non-owning reference.
func (h *Heap) NewWeakRef(target Ref) *WeakRef {
	return &WeakRef{heap: h, target: target}
}

// Deref returns the target Ref and true if it is still live.
func (w *WeakRef) Deref() (Ref, bool) {
	cell := w.heap.Get(w.target)
	if cell == nil {
		return 0, false
	}
	// A target that has survived at least one full cycle without being
	// swept is alive regardless of its transient mark color mid-cycle;
	// between cycles (the only time JS code observes it) it always reads
	// Black or White-but-still-in-arena (not yet swept). Swept targets are
	// removed from the arena entirely by Heap.Get returning nil above, so
	// any non-nil result here is a live target.
	_ = cell
	return w.target, true
}
