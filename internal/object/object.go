// Package object implements JsObject: shape-mode and dictionary-mode
// property storage, the prototype chain walk, descriptors, and proxy trap
// dispatch (spec.md §3, §4.2).
package object

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

// ProtoDepthLimit bounds prototype-chain walks so a cyclic chain (only
// reachable through proxies per spec.md §3) throws rather than loops
// forever.
const ProtoDepthLimit = 10000

// DescriptorKind distinguishes data from accessor descriptors.
type DescriptorKind uint8

const (
	DataDescriptor DescriptorKind = iota
	AccessorDescriptor
)

// Descriptor is either a data descriptor {value, writable, enumerable,
// configurable} or an accessor {get, set, enumerable, configurable}.
type Descriptor struct {
	Kind         DescriptorKind
	Value        value.Value // DataDescriptor
	Get, Set     value.Value // AccessorDescriptor (Undef() if absent)
	Writable     bool
	Enumerable   bool
	Configurable bool
}

// StorageMode is an object's current property-storage representation.
type StorageMode uint8

const (
	ShapeMode StorageMode = iota
	DictionaryMode
)

// InvokeProxyTrap is a dependency-injection hook, in the style of
// logiface/global.go's OsExit var: the object package cannot import the
// interpreter (which must import object), so proxy trap invocation is
// wired in by whatever constructs the VmContext. The default stub treats
// every proxy as transparent (forwards straight to target), which is only
// correct for a proxy with no handler traps defined — real trap dispatch
// requires this to be overridden once an interpreter exists.
var InvokeProxyTrap = func(handler value.Value, trap string, args []value.Value) (value.Value, bool, error) {
	return value.Undef(), false, nil
}

// Object is a JS object cell: a prototype value plus mode-specific
// property payload. Arrays additionally carry a dense element vector and
// length; proxies carry a target/handler pair instead of their own storage.
type Object struct {
	hdr   gc.Header
	proto value.Value // Heap Value (object) or Null

	mode      StorageMode
	shape     *shape.Shape
	slots     []value.Value // ShapeMode: parallel to shape's slot offsets
	dict      map[shape.PropertyKey]*Descriptor
	dictOrder []shape.PropertyKey // insertion order, spliced out on delete

	isArray  bool
	elements []value.Value
	length   uint32

	isProxy bool
	target  value.Value
	handler value.Value

	className string // "Object", "Array", "Function", ... for diagnostics/toString
}

// New creates a plain object in shape mode, rooted at root, with the given
// prototype.
func New(root *shape.Shape, proto value.Value) *Object {
	return &Object{
		hdr:       gc.NewHeader(gc.TagObject),
		proto:     proto,
		mode:      ShapeMode,
		shape:     root,
		className: "Object",
	}
}

// NewArray creates an array object: dense elements plus the ordinary
// object property machinery for non-index properties.
func NewArray(root *shape.Shape, proto value.Value) *Object {
	o := New(root, proto)
	o.hdr = gc.NewHeader(gc.TagArray)
	o.isArray = true
	o.className = "Array"
	return o
}

// NewProxy creates a proxy wrapping target with the given handler.
func NewProxy(target, handler value.Value) *Object {
	return &Object{
		hdr:       gc.NewHeader(gc.TagProxy),
		proto:     value.Null_(),
		isProxy:   true,
		target:    target,
		handler:   handler,
		className: "Proxy",
	}
}

func (o *Object) Header() *gc.Header { return &o.hdr }

// Trace visits every Value this object holds a strong reference to: the
// prototype, shape-mode slots or dictionary descriptor values, array
// elements, and (for proxies) the target/handler pair.
func (o *Object) Trace(mark func(gc.Ref)) {
	traceValue(o.proto, mark)
	switch o.mode {
	case ShapeMode:
		for _, v := range o.slots {
			traceValue(v, mark)
		}
	case DictionaryMode:
		for _, d := range o.dict {
			traceValue(d.Value, mark)
			traceValue(d.Get, mark)
			traceValue(d.Set, mark)
		}
	}
	for _, v := range o.elements {
		traceValue(v, mark)
	}
	if o.isProxy {
		traceValue(o.target, mark)
		traceValue(o.handler, mark)
	}
}

func traceValue(v value.Value, mark func(gc.Ref)) {
	if v.IsHeap() {
		mark(v.Ref())
	}
}

func (o *Object) IsDictionaryMode() bool { return o.mode == DictionaryMode }
func (o *Object) IsArray() bool          { return o.isArray }
func (o *Object) IsProxy() bool          { return o.isProxy }
func (o *Object) Prototype() value.Value { return o.proto }
func (o *Object) SetPrototype(p value.Value) { o.proto = p }
func (o *Object) ClassName() string      { return o.className }

// resolve looks up ref's *Object via the heap, for prototype-chain walks.
func resolve(heap *gc.Heap, v value.Value) *Object {
	if !v.IsHeap() {
		return nil
	}
	cell := heap.Get(v.Ref())
	if cell == nil {
		return nil
	}
	obj, _ := cell.(*Object)
	return obj
}

// ownGet looks up key on this object only (no prototype walk), honoring
// array fast-path indices.
func (o *Object) ownGet(key shape.PropertyKey) (value.Value, bool) {
	if o.isArray && key.Kind == shape.KeyIndex {
		if int(key.Index) < len(o.elements) {
			return o.elements[key.Index], true
		}
		return value.Undef(), false
	}
	switch o.mode {
	case ShapeMode:
		if off, ok := o.shape.Offset(key); ok {
			return o.slots[off], true
		}
	case DictionaryMode:
		if d, ok := o.dict[key]; ok {
			if d.Kind == DataDescriptor {
				return d.Value, true
			}
			// Accessor without an interpreter-driven Get invocation
			// context returns undefined; Object.Get below handles the
			// call when a heap+invoker is available.
			return value.Undef(), true
		}
	}
	return value.Undef(), false
}

func (o *Object) ownDescriptor(key shape.PropertyKey) (*Descriptor, bool) {
	if o.mode == DictionaryMode {
		d, ok := o.dict[key]
		return d, ok
	}
	if off, ok := o.shape.Offset(key); ok {
		return &Descriptor{Kind: DataDescriptor, Value: o.slots[off], Writable: true, Enumerable: true, Configurable: true}, true
	}
	return nil, false
}

// Has walks the prototype chain (own first), proxy-aware.
func (o *Object) Has(heap *gc.Heap, key shape.PropertyKey) (bool, error) {
	cur := o
	for depth := 0; cur != nil; depth++ {
		if depth > ProtoDepthLimit {
			return false, &vmerr.RangeError{Message: "prototype chain too deep"}
		}
		if cur.isProxy {
			if res, handled, err := InvokeProxyTrap(cur.handler, "has", []value.Value{cur.target, keyToValue(key)}); err != nil {
				return false, err
			} else if handled {
				return res.Truthy(), nil
			}
			cur = resolve(heap, cur.target)
			continue
		}
		if o.isArray && key.Kind == shape.KeyIndex && int(key.Index) < len(cur.elements) {
			return true, nil
		}
		if _, ok := cur.ownGet(key); ok {
			return true, nil
		}
		cur = resolve(heap, cur.proto)
	}
	return false, nil
}

// Get implements property read with full prototype-chain + proxy + accessor
// semantics. invokeAccessor is supplied by the interpreter to call a
// getter's Value as a function; nil disables accessor support (get-only
// data fast path).
func (o *Object) Get(heap *gc.Heap, key shape.PropertyKey, invokeAccessor func(fn, this value.Value) (value.Value, error)) (value.Value, error) {
	cur := o
	for depth := 0; cur != nil; depth++ {
		if depth > ProtoDepthLimit {
			return value.Undef(), &vmerr.RangeError{Message: "prototype chain too deep"}
		}
		if cur.isProxy {
			res, handled, err := InvokeProxyTrap(cur.handler, "get", []value.Value{cur.target, keyToValue(key)})
			if err != nil {
				return value.Undef(), err
			}
			if handled {
				return res, nil
			}
			cur = resolve(heap, cur.target)
			continue
		}
		if cur.isArray && key.Kind == shape.KeyIndex && int(key.Index) < len(cur.elements) {
			return cur.elements[key.Index], nil
		}
		if d, ok := cur.ownDescriptor(key); ok {
			if d.Kind == AccessorDescriptor {
				if d.Get.IsUndefined() || invokeAccessor == nil {
					return value.Undef(), nil
				}
				thisVal := value.FromRef(0, gc.TagObject) // caller overrides `this` via invokeAccessor closure
				return invokeAccessor(d.Get, thisVal)
			}
			return d.Value, nil
		}
		cur = resolve(heap, cur.proto)
	}
	return value.Undef(), nil
}

// Set implements the shape/dictionary transition algorithm of spec.md
// §4.2's "Algorithm for set in shape mode".
func (o *Object) Set(key shape.PropertyKey, v value.Value) error {
	if o.isArray && key.Kind == shape.KeyIndex {
		idx := int(key.Index)
		for idx >= len(o.elements) {
			o.elements = append(o.elements, value.Undef())
		}
		o.elements[idx] = v
		if key.Index+1 > o.length {
			o.length = key.Index + 1
		}
		return nil
	}

	switch o.mode {
	case ShapeMode:
		if off, ok := o.shape.Offset(key); ok {
			if !o.slotWritable(off) {
				return &vmerr.TypeError{Message: "cannot assign to read only property"}
			}
			o.slots[off] = v
			return nil
		}
		if o.shape.PropertyCount() >= shape.DictionaryThreshold {
			o.promoteToDictionary()
			o.dict[key] = &Descriptor{Kind: DataDescriptor, Value: v, Writable: true, Enumerable: true, Configurable: true}
			o.dictOrder = append(o.dictOrder, key)
			return nil
		}
		child := o.shape.Transition(key)
		o.shape = child
		o.slots = append(o.slots, v)
		return nil
	case DictionaryMode:
		if d, ok := o.dict[key]; ok {
			if d.Kind == AccessorDescriptor {
				return nil // setter invocation is the interpreter's job; no-op here
			}
			if !d.Writable {
				return &vmerr.TypeError{Message: "cannot assign to read only property"}
			}
			d.Value = v
			return nil
		}
		o.dict[key] = &Descriptor{Kind: DataDescriptor, Value: v, Writable: true, Enumerable: true, Configurable: true}
		o.dictOrder = append(o.dictOrder, key)
		return nil
	}
	return nil
}

func (o *Object) slotWritable(off int) bool {
	// Shape-mode slots are always data/writable; non-writable data
	// properties require dictionary mode (spec.md §4.2: "Accessors are
	// only representable in dictionary mode").
	_ = off
	return true
}

// promoteToDictionary migrates shape-mode storage into a standalone
// descriptor map, dropping the shape lineage for good (spec.md §4.2).
func (o *Object) promoteToDictionary() {
	if o.mode == DictionaryMode {
		return
	}
	keys := o.shape.OwnKeys()
	o.dict = make(map[shape.PropertyKey]*Descriptor, len(o.slots)+1)
	o.dictOrder = make([]shape.PropertyKey, 0, len(keys)+1)
	for _, key := range keys {
		off, _ := o.shape.Offset(key)
		o.dict[key] = &Descriptor{Kind: DataDescriptor, Value: o.slots[off], Writable: true, Enumerable: true, Configurable: true}
		o.dictOrder = append(o.dictOrder, key)
	}
	o.mode = DictionaryMode
	o.shape = nil
	o.slots = nil
}

// Define implements Object.defineProperty semantics: non-configurable
// redefinition fails with a TypeError; any define forces dictionary mode,
// since accessors can't live in shape-mode slots.
func (o *Object) Define(key shape.PropertyKey, d Descriptor) error {
	if o.mode == ShapeMode {
		o.promoteToDictionary()
	}
	existing, ok := o.dict[key]
	if ok && !existing.Configurable {
		return &vmerr.TypeError{Message: "cannot redefine non-configurable property"}
	}
	dc := d
	o.dict[key] = &dc
	if !ok {
		o.dictOrder = append(o.dictOrder, key)
	}
	return nil
}

// Delete removes key. Per spec.md §4.2, any delete converts shape mode to
// dictionary mode unconditionally (rather than bloating the transition
// tree with many near-identical shapes for the post-delete layout).
func (o *Object) Delete(key shape.PropertyKey) bool {
	if o.isArray && key.Kind == shape.KeyIndex {
		idx := int(key.Index)
		if idx >= 0 && idx < len(o.elements) {
			o.elements[idx] = value.Undef()
			return true
		}
		return false
	}
	if o.mode == ShapeMode {
		if _, ok := o.shape.Offset(key); !ok {
			return false
		}
		o.promoteToDictionary()
	}
	if d, ok := o.dict[key]; ok {
		if !d.Configurable {
			return false
		}
		delete(o.dict, key)
		for i, k := range o.dictOrder {
			if k == key {
				o.dictOrder = append(o.dictOrder[:i], o.dictOrder[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

// OwnKeys returns this object's own enumerable-order keys: numeric indices
// ascending first, then string/symbol keys in insertion order (DESIGN.md's
// resolution of spec.md's "implementation-defined" enumeration-order
// question, matching ECMA-262's OrdinaryOwnPropertyKeys).
func (o *Object) OwnKeys() []shape.PropertyKey {
	var indices []shape.PropertyKey
	var rest []shape.PropertyKey

	if o.isArray {
		for i, v := range o.elements {
			if v.IsUndefined() {
				continue
			}
			indices = append(indices, shape.IndexKey(uint32(i)))
		}
	}

	switch o.mode {
	case ShapeMode:
		for _, k := range o.shape.OwnKeys() {
			classify(k, &indices, &rest)
		}
	case DictionaryMode:
		// dictOrder tracks insertion order with deletions spliced out, so
		// enumeration order survives arbitrary delete/insert sequences
		// (spec.md scenario 3) without depending on Go's randomized map
		// iteration order.
		for _, k := range o.dictOrder {
			if d, ok := o.dict[k]; ok && d.Enumerable {
				classify(k, &indices, &rest)
			}
		}
	}

	sortIndices(indices)
	return append(indices, rest...)
}

func classify(k shape.PropertyKey, indices, rest *[]shape.PropertyKey) {
	if k.Kind == shape.KeyIndex {
		*indices = append(*indices, k)
	} else {
		*rest = append(*rest, k)
	}
}

func sortIndices(keys []shape.PropertyKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1].Index > keys[j].Index; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

func keyToValue(key shape.PropertyKey) value.Value {
	switch key.Kind {
	case shape.KeyIndex:
		return value.Int(int32(key.Index))
	default:
		return value.FromRef(0, gc.TagString)
	}
}
