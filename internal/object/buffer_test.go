package object

import (
	"testing"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
	"github.com/stretchr/testify/require"
)

func TestArrayBufferCloneIsIndependentCopy(t *testing.T) {
	b := NewArrayBuffer(4)
	copy(b.Data, []byte{1, 2, 3, 4})

	c := b.Clone()
	require.Equal(t, b.Data, c.Data)

	b.Data[0] = 99
	require.Equal(t, byte(1), c.Data[0])
	require.Equal(t, gc.TagArrayBuffer, c.Header().Tag())
}

func TestSharedArrayBufferHeaderTag(t *testing.T) {
	b := NewSharedArrayBuffer(8)
	require.Equal(t, 8, b.Len())
	require.Equal(t, gc.TagSharedArrayBuffer, b.Header().Tag())
}

func TestTypedArrayTracesBackingBuffer(t *testing.T) {
	heap := gc.New()
	buf := NewArrayBuffer(16)
	bufRef := heap.Alloc(buf, 24+16)
	bufVal := value.FromRef(bufRef, gc.TagArrayBuffer)

	ta := NewTypedArray(Int32Array, bufVal, 0, 4)
	require.Equal(t, gc.TagTypedArray, ta.Header().Tag())

	var marked []gc.Ref
	ta.Trace(func(r gc.Ref) { marked = append(marked, r) })
	require.Equal(t, []gc.Ref{bufRef}, marked)
}
