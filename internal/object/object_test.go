package object

import (
	"testing"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/stretchr/testify/require"
)

func TestShapeModeGetSetHas(t *testing.T) {
	root := shape.Root()
	o := New(root, value.Null_())

	require.NoError(t, o.Set(shape.StringKey("a"), value.Int(1)))
	require.NoError(t, o.Set(shape.StringKey("b"), value.Int(2)))

	heap := gc.New()
	ok, err := o.Has(heap, shape.StringKey("a"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := o.Get(heap, shape.StringKey("b"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), v.AsInt32())

	require.False(t, o.IsDictionaryMode())
}

func TestDictionaryPromotionOnDeletePreservesOrder(t *testing.T) {
	root := shape.Root()
	o := New(root, value.Null_())

	require.NoError(t, o.Set(shape.StringKey("a"), value.Int(1)))
	require.NoError(t, o.Set(shape.StringKey("b"), value.Int(2)))
	require.NoError(t, o.Set(shape.StringKey("c"), value.Int(3)))
	require.False(t, o.IsDictionaryMode())

	require.True(t, o.Delete(shape.StringKey("b")))
	require.True(t, o.IsDictionaryMode())

	require.NoError(t, o.Set(shape.StringKey("d"), value.Int(4)))

	keys := o.OwnKeys()
	require.Equal(t, []shape.PropertyKey{
		shape.StringKey("a"),
		shape.StringKey("c"),
		shape.StringKey("d"),
	}, keys)
}

func TestPromotionAtThreshold(t *testing.T) {
	root := shape.Root()
	o := New(root, value.Null_())

	for i := 0; i < shape.DictionaryThreshold; i++ {
		require.NoError(t, o.Set(shape.StringKey(string(rune('a'+i))), value.Int(int32(i))))
	}
	require.False(t, o.IsDictionaryMode())

	// one more property past the threshold forces dictionary mode
	require.NoError(t, o.Set(shape.StringKey("overflow"), value.Int(999)))
	require.True(t, o.IsDictionaryMode())
}

func TestOwnKeysNumericIndicesFirst(t *testing.T) {
	root := shape.Root()
	o := New(root, value.Null_())

	require.NoError(t, o.Set(shape.StringKey("b"), value.Int(1)))
	require.NoError(t, o.Set(shape.IndexKey(2), value.Int(2)))
	require.NoError(t, o.Set(shape.StringKey("a"), value.Int(3)))
	require.NoError(t, o.Set(shape.IndexKey(1), value.Int(4)))

	keys := o.OwnKeys()
	require.Equal(t, []shape.PropertyKey{
		shape.IndexKey(1),
		shape.IndexKey(2),
		shape.StringKey("b"),
		shape.StringKey("a"),
	}, keys)
}

func TestPrototypeChainWalk(t *testing.T) {
	heap := gc.New()
	root := shape.Root()

	protoObj := New(root, value.Null_())
	require.NoError(t, protoObj.Set(shape.StringKey("inherited"), value.Int(42)))
	protoRef := heap.Alloc(protoObj, 64)

	child := New(root, value.FromRef(protoRef, gc.TagObject))
	ok, err := child.Has(heap, shape.StringKey("inherited"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := child.Get(heap, shape.StringKey("inherited"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(42), v.AsInt32())
}

func TestProxyTrapDispatch(t *testing.T) {
	old := InvokeProxyTrap
	defer func() { InvokeProxyTrap = old }()

	InvokeProxyTrap = func(handler value.Value, trap string, args []value.Value) (value.Value, bool, error) {
		if trap == "has" {
			return value.Bool_(true), true, nil
		}
		if trap == "get" {
			return value.Int(7), true, nil
		}
		return value.Undef(), false, nil
	}

	heap := gc.New()
	target := New(shape.Root(), value.Null_())
	targetRef := heap.Alloc(target, 64)
	p := NewProxy(value.FromRef(targetRef, gc.TagObject), value.Int(0))

	ok, err := p.Has(heap, shape.StringKey("anything"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := p.Get(heap, shape.StringKey("anything"), nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), v.AsInt32())
}

func TestArrayDenseElements(t *testing.T) {
	root := shape.Root()
	a := NewArray(root, value.Null_())
	require.True(t, a.IsArray())

	require.NoError(t, a.Set(shape.IndexKey(0), value.Int(10)))
	require.NoError(t, a.Set(shape.IndexKey(2), value.Int(30)))

	heap := gc.New()
	v, err := a.Get(heap, shape.IndexKey(2), nil)
	require.NoError(t, err)
	require.Equal(t, int32(30), v.AsInt32())

	keys := a.OwnKeys()
	require.Equal(t, []shape.PropertyKey{shape.IndexKey(0), shape.IndexKey(2)}, keys)
}

func TestDefineNonConfigurableCannotBeRedefined(t *testing.T) {
	root := shape.Root()
	o := New(root, value.Null_())
	require.NoError(t, o.Define(shape.StringKey("x"), Descriptor{
		Kind: DataDescriptor, Value: value.Int(1), Writable: true, Enumerable: true, Configurable: false,
	}))
	require.True(t, o.IsDictionaryMode())

	err := o.Define(shape.StringKey("x"), Descriptor{Kind: DataDescriptor, Value: value.Int(2)})
	require.Error(t, err)
}
