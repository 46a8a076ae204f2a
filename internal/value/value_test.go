package value

import (
	"testing"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveTruthy(t *testing.T) {
	require.False(t, Undef().Truthy())
	require.False(t, Null_().Truthy())
	require.False(t, Bool_(false).Truthy())
	require.True(t, Bool_(true).Truthy())
	require.False(t, Int(0).Truthy())
	require.True(t, Int(1).Truthy())
	require.False(t, Float(0).Truthy())
	require.True(t, Float(1.5).Truthy())
}

func TestHeapKindPredicates(t *testing.T) {
	v := FromRef(gc.Ref(1), gc.TagArray)
	require.True(t, v.IsHeap())
	require.True(t, v.IsArray())
	require.True(t, v.IsObject())
	require.False(t, v.IsFunction())
	require.True(t, v.Truthy())
}

func TestNumberToString(t *testing.T) {
	require.Equal(t, "55", NumberToString(55))
	require.Equal(t, "NaN", NumberToString(nan()))
	require.Equal(t, "1.5", NumberToString(1.5))
}

func nan() float64 {
	var f float64
	return f / f
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(Int(3), Float(3)))
	require.False(t, Equal(Int(3), Float(4)))
	require.True(t, Equal(Undef(), Undef()))
	require.False(t, Equal(Undef(), Null_()))

	a := FromRef(gc.Ref(5), gc.TagObject)
	b := FromRef(gc.Ref(5), gc.TagObject)
	c := FromRef(gc.Ref(6), gc.TagObject)
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}
