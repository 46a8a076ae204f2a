// Package shape implements hidden classes: the persistent transition tree
// of property layouts described in spec.md §3 and §4.2, ported from
// otter-vm-core/src/shape.rs's Arc-parent/Weak-children representation.
//
// Shapes are not heap cells tracked by internal/gc's tracing collector —
// like the Rust original's Arc<Shape>, their lifetime is managed by
// ordinary reference counting, which in Go means: ordinary strong
// pointers for the parent chain (keeping the path to any live object's
// shape alive), and the stdlib's weak.Pointer for the child transition
// map, so a branch with no live object referencing it is reclaimed by the
// host runtime's own collector without Heap.Collect needing to know about
// shapes at all.
package shape

import (
	"sync"
	"sync/atomic"
	"weak"
)

// KeyKind discriminates a PropertyKey's representation.
type KeyKind uint8

const (
	KeyString KeyKind = iota
	KeyIndex
	KeySymbol
)

// PropertyKey is one of: an interned string, an integer array index, or a
// well-known/registered symbol identity (spec.md §3).
type PropertyKey struct {
	Kind  KeyKind
	Str   string
	Index uint32
	Sym   uint64
}

func StringKey(s string) PropertyKey  { return PropertyKey{Kind: KeyString, Str: s} }
func IndexKey(i uint32) PropertyKey   { return PropertyKey{Kind: KeyIndex, Index: i} }
func SymbolKey(id uint64) PropertyKey { return PropertyKey{Kind: KeySymbol, Sym: id} }

// DictionaryThreshold is the own-property count (spec.md §3: "N ≈ 32") at
// which an object abandons shape mode for good. Tuned nowhere else in the
// spec's testable properties; see DESIGN.md's open-question decisions.
const DictionaryThreshold = 32

var nextShapeID atomic.Uint64

// Shape is an immutable node describing one additional property over its
// parent's layout. The zero value is not useful; construct via Root().
type Shape struct {
	id     uint64
	parent *Shape // strong: keeps the whole path to root alive
	key    PropertyKey
	hasKey bool
	offset int // valid iff hasKey

	mu          sync.Mutex
	transitions map[PropertyKey]weak.Pointer[Shape]

	propertyMap map[PropertyKey]int // flattened: inherited + own
	keysOrdered []PropertyKey       // flattened insertion order
}

// Root returns a fresh empty shape — the root of a new transition tree.
// Each VmContext owns one root, keeping contexts' shape trees independent
// per spec.md's "own inside VmContext, not process-global statics" note.
func Root() *Shape {
	return &Shape{
		id:          nextShapeID.Add(1),
		transitions: make(map[PropertyKey]weak.Pointer[Shape]),
		propertyMap: map[PropertyKey]int{},
	}
}

func (s *Shape) ID() uint64 { return s.id }

// Transition returns the child shape for adding key, creating and caching
// it if necessary. Two objects that add the same sequence of keys from the
// same starting shape converge on pointer-identical Shapes (spec.md
// testable property #2), because the transition map is keyed by
// PropertyKey and shared by every shape reachable from the same parent.
func (s *Shape) Transition(key PropertyKey) *Shape {
	s.mu.Lock()
	if wp, ok := s.transitions[key]; ok {
		if child := wp.Value(); child != nil {
			s.mu.Unlock()
			return child
		}
	}
	s.mu.Unlock()

	nextOffset := 0
	if s.hasKey {
		nextOffset = s.offset + 1
	}

	propertyMap := make(map[PropertyKey]int, len(s.propertyMap)+1)
	for k, v := range s.propertyMap {
		propertyMap[k] = v
	}
	propertyMap[key] = nextOffset

	keysOrdered := make([]PropertyKey, len(s.keysOrdered), len(s.keysOrdered)+1)
	copy(keysOrdered, s.keysOrdered)
	keysOrdered = append(keysOrdered, key)

	child := &Shape{
		id:          nextShapeID.Add(1),
		parent:      s,
		key:         key,
		hasKey:      true,
		offset:      nextOffset,
		transitions: make(map[PropertyKey]weak.Pointer[Shape]),
		propertyMap: propertyMap,
		keysOrdered: keysOrdered,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check: another goroutine (or reentrant caller) may have raced
	// us to create the same transition.
	if wp, ok := s.transitions[key]; ok {
		if existing := wp.Value(); existing != nil {
			return existing
		}
	}
	s.transitions[key] = weak.Make(child)
	return child
}

// Offset returns the slot offset for key, if this shape's lineage defines it.
func (s *Shape) Offset(key PropertyKey) (int, bool) {
	off, ok := s.propertyMap[key]
	return off, ok
}

// OwnKeys returns every key in this shape's lineage, in insertion order.
func (s *Shape) OwnKeys() []PropertyKey {
	out := make([]PropertyKey, len(s.keysOrdered))
	copy(out, s.keysOrdered)
	return out
}

// PropertyCount returns the number of properties this shape's lineage defines.
func (s *Shape) PropertyCount() int { return len(s.propertyMap) }

// Parent returns the shape this one transitioned from, or nil for a root.
func (s *Shape) Parent() *Shape { return s.parent }
