// Package clone implements the structured clone algorithm (spec.md §6's
// "Structured clone wire", §8's round-trip testable property): a
// recursive deep copy of plain values and containers that preserves
// internal graph identity within one clone operation and shares (rather
// than copies) SharedArrayBuffers, ported from
// otter-vm-core/src/structured_clone.rs's StructuredCloner.
package clone

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

// Cloner runs one structured-clone operation. Its identity map is scoped
// to a single Clone/Value call tree, matching the Rust original's
// StructuredCloner::new() being constructed fresh per clone rather than
// reused/shared across unrelated transfers.
type Cloner struct {
	heap   *gc.Heap
	root   *shape.Shape
	proto  value.Value
	memory map[gc.Ref]value.Value // source Ref -> already-cloned destination Value
}

// New builds a Cloner that allocates any cloned containers on heap,
// rooted at root with prototype proto (normally a VmContext's root shape
// and Object.prototype).
func New(heap *gc.Heap, root *shape.Shape, proto value.Value) *Cloner {
	return &Cloner{heap: heap, root: root, proto: proto, memory: make(map[gc.Ref]value.Value)}
}

// Clone is the package-level convenience entry point spec.md §6 names: a
// fresh Cloner per call, since each structured-clone operation gets its
// own identity map.
func Clone(heap *gc.Heap, root *shape.Shape, proto value.Value, v value.Value) (value.Value, error) {
	return New(heap, root, proto).Value(v)
}

// Value recursively clones v. Primitives (undefined, null, boolean,
// number) are trivially copyable and returned as-is. Heap kinds are
// dispatched by tag per spec.md §3/§6:
//   - string: immutable, so sharing the cell is observationally identical
//     to copying it.
//   - bigint: likewise immutable; no concrete BigInt cell type exists yet
//     in this tree (see DESIGN.md), so it is shared for the same reason
//     strings are.
//   - object, array: deep-copied recursively, own-keys order preserved,
//     cycles resolved via the identity map.
//   - array buffer: bytes copied into a fresh buffer.
//   - shared array buffer: shared by reference (spec.md §6: "shares ...
//     shared array buffers"), not copied — the clone is the same Value.
//   - typed array: the backing buffer is cloned (copied or shared per its
//     own kind above) and a fresh view constructed over the clone.
//   - function, native function, symbol, promise, proxy, generator: not
//     cloneable; rejected with vmerr.NotCloneable (spec.md §6, §7: "JS-
//     catchable as TypeError").
func (c *Cloner) Value(v value.Value) (value.Value, error) {
	if !v.IsHeap() {
		return v, nil
	}
	switch v.HeapTag() {
	case gc.TagString, gc.TagBigInt, gc.TagSharedArrayBuffer:
		return v, nil
	case gc.TagObject:
		return c.cloneContainer(v, gc.TagObject, object.New)
	case gc.TagArray:
		return c.cloneContainer(v, gc.TagArray, object.NewArray)
	case gc.TagArrayBuffer:
		return c.cloneArrayBuffer(v)
	case gc.TagTypedArray:
		return c.cloneTypedArray(v)
	case gc.TagFunction, gc.TagNativeFunction:
		return value.Undef(), &vmerr.NotCloneable{Kind: "function"}
	case gc.TagSymbol:
		return value.Undef(), &vmerr.NotCloneable{Kind: "symbol"}
	case gc.TagPromise:
		return value.Undef(), &vmerr.NotCloneable{Kind: "promise"}
	case gc.TagProxy:
		return value.Undef(), &vmerr.NotCloneable{Kind: "proxy"}
	case gc.TagGenerator:
		return value.Undef(), &vmerr.NotCloneable{Kind: "generator"}
	default:
		return value.Undef(), &vmerr.NotCloneable{Kind: "unknown"}
	}
}

// cloneContainer deep-copies a plain object or array. newEmpty is
// object.New or object.NewArray, picked by the caller so the clone keeps
// the source's own-kind.
func (c *Cloner) cloneContainer(v value.Value, tag gc.Tag, newEmpty func(*shape.Shape, value.Value) *object.Object) (value.Value, error) {
	ref := v.Ref()
	if cloned, ok := c.memory[ref]; ok {
		return cloned, nil
	}
	src, ok := c.heap.Get(ref).(*object.Object)
	if !ok {
		return value.Undef(), nil
	}

	dst := newEmpty(c.root, c.proto)
	dstRef := c.heap.Alloc(dst, 64)
	dstVal := value.FromRef(dstRef, tag)

	// Register before cloning properties, so a property that cycles back
	// to this object resolves to dstVal instead of recursing forever.
	c.memory[ref] = dstVal

	for _, key := range src.OwnKeys() {
		val, err := src.Get(c.heap, key, nil)
		if err != nil {
			return value.Undef(), err
		}
		clonedVal, err := c.Value(val)
		if err != nil {
			return value.Undef(), err
		}
		if err := dst.Set(key, clonedVal); err != nil {
			return value.Undef(), err
		}
	}

	return dstVal, nil
}

func (c *Cloner) cloneArrayBuffer(v value.Value) (value.Value, error) {
	ref := v.Ref()
	if cloned, ok := c.memory[ref]; ok {
		return cloned, nil
	}
	src, ok := c.heap.Get(ref).(*object.ArrayBuffer)
	if !ok {
		return value.Undef(), nil
	}
	dst := src.Clone()
	dstRef := c.heap.Alloc(dst, uintptr(24+dst.Len()))
	dstVal := value.FromRef(dstRef, gc.TagArrayBuffer)
	c.memory[ref] = dstVal
	return dstVal, nil
}

func (c *Cloner) cloneTypedArray(v value.Value) (value.Value, error) {
	ref := v.Ref()
	if cloned, ok := c.memory[ref]; ok {
		return cloned, nil
	}
	src, ok := c.heap.Get(ref).(*object.TypedArray)
	if !ok {
		return value.Undef(), nil
	}

	clonedBuffer, err := c.Value(src.Buffer)
	if err != nil {
		return value.Undef(), err
	}

	dst := object.NewTypedArray(src.Kind, clonedBuffer, src.ByteOffset, src.Length)
	dstRef := c.heap.Alloc(dst, 32)
	dstVal := value.FromRef(dstRef, gc.TagTypedArray)
	c.memory[ref] = dstVal
	return dstVal, nil
}
