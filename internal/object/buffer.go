package object

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// ArrayBuffer is the heap cell backing a fixed-length raw byte buffer
// (spec.md §3's "array buffer" heap kind). Bytes are copied, never shared,
// by structured clone — only SharedArrayBuffer shares memory (spec.md §6).
type ArrayBuffer struct {
	hdr  gc.Header
	Data []byte
}

// NewArrayBuffer allocates a zero-filled buffer of the given byte length.
func NewArrayBuffer(size int) *ArrayBuffer {
	return &ArrayBuffer{hdr: gc.NewHeader(gc.TagArrayBuffer), Data: make([]byte, size)}
}

func (b *ArrayBuffer) Header() *gc.Header      { return &b.hdr }
func (b *ArrayBuffer) Trace(mark func(gc.Ref)) {}
func (b *ArrayBuffer) Len() int                { return len(b.Data) }

// Clone returns a fresh ArrayBuffer with an independent copy of the
// backing bytes (spec.md §6: structured clone copies array buffers;
// only SharedArrayBuffer is shared by reference).
func (b *ArrayBuffer) Clone() *ArrayBuffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &ArrayBuffer{hdr: gc.NewHeader(gc.TagArrayBuffer), Data: data}
}

// SharedArrayBuffer is the heap cell backing cross-context shared memory
// (spec.md §3, §5: "the only cross-context shared memory ... mediate
// through atomic byte cells"). A `VmContext` is thread-confined (spec.md
// §4.7), so ordinary byte access from the owning goroutine needs no
// locking here; true concurrent access from another worker's goroutine is
// the transfer path's concern (a host/extension surface, per spec.md §1's
// scoping of worker machinery out of the core).
type SharedArrayBuffer struct {
	hdr  gc.Header
	Data []byte
}

// NewSharedArrayBuffer allocates a zero-filled shared buffer of the given
// byte length.
func NewSharedArrayBuffer(size int) *SharedArrayBuffer {
	return &SharedArrayBuffer{hdr: gc.NewHeader(gc.TagSharedArrayBuffer), Data: make([]byte, size)}
}

func (b *SharedArrayBuffer) Header() *gc.Header      { return &b.hdr }
func (b *SharedArrayBuffer) Trace(mark func(gc.Ref)) {}
func (b *SharedArrayBuffer) Len() int                { return len(b.Data) }

// TypedArrayKind identifies the element representation of a TypedArray
// view (spec.md §3's "typed array view" buffer kind).
type TypedArrayKind uint8

const (
	Int8Array TypedArrayKind = iota
	Uint8Array
	Uint8ClampedArray
	Int16Array
	Uint16Array
	Int32Array
	Uint32Array
	Float32Array
	Float64Array
	BigInt64Array
	BigUint64Array
)

// TypedArray is a fixed-kind view over an ArrayBuffer or SharedArrayBuffer
// Value (spec.md §3). Per-element read/write by Kind is a compiler-emitted
// opcode sequence or host-extension concern outside this core's bytecode
// surface, so only the view's identity and extent live here.
type TypedArray struct {
	hdr gc.Header

	Kind       TypedArrayKind
	Buffer     value.Value // TagArrayBuffer or TagSharedArrayBuffer
	ByteOffset int
	Length     int
}

// NewTypedArray creates a view of kind over buffer, starting at byteOffset
// for length elements.
func NewTypedArray(kind TypedArrayKind, buffer value.Value, byteOffset, length int) *TypedArray {
	return &TypedArray{hdr: gc.NewHeader(gc.TagTypedArray), Kind: kind, Buffer: buffer, ByteOffset: byteOffset, Length: length}
}

func (t *TypedArray) Header() *gc.Header { return &t.hdr }

// Trace visits the backing buffer this view holds a strong reference to.
func (t *TypedArray) Trace(mark func(gc.Ref)) {
	if t.Buffer.IsHeap() {
		mark(t.Buffer.Ref())
	}
}
