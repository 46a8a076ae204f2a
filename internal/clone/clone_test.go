package clone

import (
	"testing"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
	"github.com/stretchr/testify/require"
)

// dummyCell is a minimal gc.Cell stand-in for heap kinds that have no
// dedicated cell type in this tree yet (symbol), used only to exercise
// Cloner.Value's tag dispatch.
type dummyCell struct{ hdr gc.Header }

func (d *dummyCell) Header() *gc.Header      { return &d.hdr }
func (d *dummyCell) Trace(mark func(gc.Ref)) {}

func newCtx() (*gc.Heap, *shape.Shape, value.Value) {
	heap := gc.New()
	root := shape.Root()
	proto := object.New(root, value.Null_())
	protoRef := heap.Alloc(proto, 64)
	return heap, root, value.FromRef(protoRef, gc.TagObject)
}

func TestClonePrimitives(t *testing.T) {
	heap, root, proto := newCtx()

	for _, v := range []value.Value{value.Undef(), value.Null_(), value.Bool_(true), value.Int(42)} {
		got, err := Clone(heap, root, proto, v)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestCloneStringIsSharedNotCopied(t *testing.T) {
	heap, root, proto := newCtx()

	s := object.NewJSString("hello")
	ref := heap.Alloc(s, 32)
	v := value.FromRef(ref, gc.TagString)

	got, err := Clone(heap, root, proto, v)
	require.NoError(t, err)
	require.Equal(t, v.Ref(), got.Ref())
}

func TestCloneObjectDeepCopiesProperties(t *testing.T) {
	heap, root, proto := newCtx()

	src := object.New(root, proto)
	require.NoError(t, src.Set(shape.StringKey("x"), value.Int(1)))
	require.NoError(t, src.Set(shape.StringKey("y"), value.Int(2)))
	srcRef := heap.Alloc(src, 64)
	srcVal := value.FromRef(srcRef, gc.TagObject)

	got, err := Clone(heap, root, proto, srcVal)
	require.NoError(t, err)
	require.NotEqual(t, srcVal.Ref(), got.Ref())

	dst, ok := heap.Get(got.Ref()).(*object.Object)
	require.True(t, ok)

	x, err := dst.Get(heap, shape.StringKey("x"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), x.AsInt32())

	y, err := dst.Get(heap, shape.StringKey("y"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), y.AsInt32())

	// Mutating the clone must not affect the source.
	require.NoError(t, dst.Set(shape.StringKey("x"), value.Int(99)))
	xSrc, err := src.Get(heap, shape.StringKey("x"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), xSrc.AsInt32())
}

func TestCloneObjectHandlesCycles(t *testing.T) {
	heap, root, proto := newCtx()

	src := object.New(root, proto)
	srcRef := heap.Alloc(src, 64)
	srcVal := value.FromRef(srcRef, gc.TagObject)
	require.NoError(t, src.Set(shape.StringKey("self"), srcVal))

	got, err := Clone(heap, root, proto, srcVal)
	require.NoError(t, err)

	dst, ok := heap.Get(got.Ref()).(*object.Object)
	require.True(t, ok)

	self, err := dst.Get(heap, shape.StringKey("self"), nil)
	require.NoError(t, err)
	require.Equal(t, got.Ref(), self.Ref())
}

func TestCloneArrayPreservesOwnKind(t *testing.T) {
	heap, root, proto := newCtx()

	src := object.NewArray(root, proto)
	require.NoError(t, src.Set(shape.IndexKey(0), value.Int(7)))
	srcRef := heap.Alloc(src, 64)
	srcVal := value.FromRef(srcRef, gc.TagArray)

	got, err := Clone(heap, root, proto, srcVal)
	require.NoError(t, err)
	require.Equal(t, gc.TagArray, got.HeapTag())

	dst, ok := heap.Get(got.Ref()).(*object.Object)
	require.True(t, ok)
	require.True(t, dst.IsArray())
}

func TestCloneArrayBufferCopiesBytes(t *testing.T) {
	heap, root, proto := newCtx()

	src := object.NewArrayBuffer(4)
	copy(src.Data, []byte{1, 2, 3, 4})
	srcRef := heap.Alloc(src, 24+4)
	srcVal := value.FromRef(srcRef, gc.TagArrayBuffer)

	got, err := Clone(heap, root, proto, srcVal)
	require.NoError(t, err)
	require.NotEqual(t, srcVal.Ref(), got.Ref())

	dst, ok := heap.Get(got.Ref()).(*object.ArrayBuffer)
	require.True(t, ok)
	require.Equal(t, src.Data, dst.Data)

	// Independent backing storage: mutating the source must not affect
	// the clone.
	src.Data[0] = 99
	require.Equal(t, byte(1), dst.Data[0])
}

func TestCloneSharedArrayBufferSharesIdentity(t *testing.T) {
	heap, root, proto := newCtx()

	src := object.NewSharedArrayBuffer(4)
	srcRef := heap.Alloc(src, 24+4)
	srcVal := value.FromRef(srcRef, gc.TagSharedArrayBuffer)

	got, err := Clone(heap, root, proto, srcVal)
	require.NoError(t, err)
	require.Equal(t, srcVal.Ref(), got.Ref())
}

func TestCloneTypedArrayClonesBackingBuffer(t *testing.T) {
	heap, root, proto := newCtx()

	buf := object.NewArrayBuffer(8)
	bufRef := heap.Alloc(buf, 24+8)
	bufVal := value.FromRef(bufRef, gc.TagArrayBuffer)

	ta := object.NewTypedArray(object.Int32Array, bufVal, 0, 2)
	taRef := heap.Alloc(ta, 32)
	taVal := value.FromRef(taRef, gc.TagTypedArray)

	got, err := Clone(heap, root, proto, taVal)
	require.NoError(t, err)
	require.NotEqual(t, taVal.Ref(), got.Ref())

	dst, ok := heap.Get(got.Ref()).(*object.TypedArray)
	require.True(t, ok)
	require.Equal(t, object.Int32Array, dst.Kind)
	require.Equal(t, 2, dst.Length)
	require.NotEqual(t, bufVal.Ref(), dst.Buffer.Ref())
}

func TestCloneTypedArrayOverSharedBufferSharesIt(t *testing.T) {
	heap, root, proto := newCtx()

	buf := object.NewSharedArrayBuffer(8)
	bufRef := heap.Alloc(buf, 24+8)
	bufVal := value.FromRef(bufRef, gc.TagSharedArrayBuffer)

	ta := object.NewTypedArray(object.Uint8Array, bufVal, 0, 8)
	taRef := heap.Alloc(ta, 32)
	taVal := value.FromRef(taRef, gc.TagTypedArray)

	got, err := Clone(heap, root, proto, taVal)
	require.NoError(t, err)

	dst, ok := heap.Get(got.Ref()).(*object.TypedArray)
	require.True(t, ok)
	require.Equal(t, bufVal.Ref(), dst.Buffer.Ref())
}

func TestCloneRejectsNonCloneableKinds(t *testing.T) {
	heap, root, proto := newCtx()

	cases := []struct {
		name string
		tag  gc.Tag
		want string
	}{
		{"function", gc.TagFunction, "function"},
		{"nativeFunction", gc.TagNativeFunction, "function"},
		{"symbol", gc.TagSymbol, "symbol"},
		{"promise", gc.TagPromise, "promise"},
		{"generator", gc.TagGenerator, "generator"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cell := &dummyCell{hdr: gc.NewHeader(tc.tag)}
			ref := heap.Alloc(cell, 16)
			v := value.FromRef(ref, tc.tag)

			_, err := Clone(heap, root, proto, v)
			require.Error(t, err)
			var nc *vmerr.NotCloneable
			require.ErrorAs(t, err, &nc)
			require.Equal(t, tc.want, nc.Kind)
		})
	}
}

func TestCloneRejectsProxy(t *testing.T) {
	heap, root, proto := newCtx()

	p := object.NewProxy(value.Null_(), value.Null_())
	ref := heap.Alloc(p, 48)
	v := value.FromRef(ref, gc.TagProxy)

	_, err := Clone(heap, root, proto, v)
	require.Error(t, err)
	var nc *vmerr.NotCloneable
	require.ErrorAs(t, err, &nc)
	require.Equal(t, "proxy", nc.Kind)
}
