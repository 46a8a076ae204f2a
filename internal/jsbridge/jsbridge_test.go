package jsbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/otter/internal/isolate"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
)

func setProp(ctx *isolate.VmContext, this value.Value, name string, v value.Value) error {
	cell := ctx.Heap.Get(this.Ref())
	obj := cell.(*object.Object)
	return obj.Set(shape.StringKey(name), v)
}

func TestDefineGlobalFunctionRoundTrip(t *testing.T) {
	ctx := isolate.New()
	b := New(ctx)

	var gotThis value.Value
	var gotArgs []value.Value
	require.NoError(t, b.DefineGlobalFunction("greet", func(this value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
		gotThis, gotArgs = this, args
		return value.Int(99), nil
	}))

	fn, err := ctx.VM.GetProperty(ctx.GlobalsRef, "greet")
	require.NoError(t, err)
	require.True(t, ctx.VM.IsCallable(fn))

	result, err := ctx.VM.Call(fn, value.Int(1), []value.Value{value.Int(2), value.Int(3)})
	require.NoError(t, err)
	require.Equal(t, int32(99), result.AsInt32())
	require.Equal(t, int32(1), gotThis.AsInt32())
	require.Len(t, gotArgs, 2)
}

func TestDefineNamespace(t *testing.T) {
	ctx := isolate.New()
	b := New(ctx)

	ns, err := b.DefineNamespace("math", map[string]value.Value{
		"pi": value.Float(3.14),
	})
	require.NoError(t, err)
	require.True(t, ns.IsHeap())

	global, err := ctx.VM.GetProperty(ctx.GlobalsRef, "math")
	require.NoError(t, err)
	pi, err := ctx.VM.GetProperty(global, "pi")
	require.NoError(t, err)
	require.Equal(t, 3.14, pi.AsFloat())
}

func TestDefineConstructor(t *testing.T) {
	ctx := isolate.New()
	b := New(ctx)

	_, ctor, err := b.DefineConstructor("Point", func(this value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
		require.NoError(t, setProp(nc.VmContext(), this, "x", args[0]))
		return this, nil
	}, []Method{
		{Name: "getX", Fn: func(this value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
			return nc.VmContext().VM.GetProperty(this, "x")
		}},
	})
	require.NoError(t, err)
	require.True(t, ctx.VM.IsCallable(ctor))

	instance, err := ctx.VM.Call(ctor, value.Undef(), []value.Value{value.Int(7)})
	require.NoError(t, err)

	getX, err := ctx.VM.GetProperty(instance, "getX")
	require.NoError(t, err)
	require.True(t, ctx.VM.IsCallable(getX))

	x, err := ctx.VM.Call(getX, instance, nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), x.AsInt32())
}

func TestDefineTimersFireViaLoop(t *testing.T) {
	ctx := isolate.New()
	b := New(ctx)
	require.NoError(t, b.DefineTimers())

	fired := false
	require.NoError(t, b.DefineGlobalFunction("markFired", func(this value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
		fired = true
		return value.Undef(), nil
	}))

	markFired, err := ctx.VM.GetProperty(ctx.GlobalsRef, "markFired")
	require.NoError(t, err)

	setTimeout, err := ctx.VM.GetProperty(ctx.GlobalsRef, "setTimeout")
	require.NoError(t, err)
	require.True(t, ctx.VM.IsCallable(setTimeout))

	_, err = ctx.VM.Call(setTimeout, value.Undef(), []value.Value{markFired, value.Int(0)})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ctx.Loop.RunUntilIdle(runCtx, time.Now().Add(time.Second)))
	require.True(t, fired)
}

type fixedProvider struct {
	specifier string
	rec       ModuleRecord
}

func (p fixedProvider) Resolve(specifier string) (string, bool) {
	if specifier != p.specifier {
		return "", false
	}
	return specifier, true
}

func (p fixedProvider) Load(url string) (ModuleRecord, error) { return p.rec, nil }

func TestProviderChainResolvesLeftToRightAndMemoizes(t *testing.T) {
	ctx := isolate.New()
	b := New(ctx)

	ns := value.Int(42)
	b.Chain().Register(fixedProvider{specifier: "other:thing", rec: ModuleRecord{Kind: ModuleKindNative, Namespace: value.Int(1)}})
	b.Chain().Register(fixedProvider{specifier: "otter:math", rec: ModuleRecord{Kind: ModuleKindNative, Namespace: ns}})

	got, err := b.Require("otter:math")
	require.NoError(t, err)
	require.Equal(t, int32(42), got.AsInt32())

	got2, err := b.Require("otter:math")
	require.NoError(t, err)
	require.Equal(t, got.AsInt32(), got2.AsInt32())

	_, err = b.Require("unknown:specifier")
	require.Error(t, err)
}

func TestSchemeProviderResolvesOwnSchemeOnly(t *testing.T) {
	var loadedRest string
	sp := NewSchemeProvider("otter", func(rest string) (ModuleRecord, error) {
		loadedRest = rest
		return ModuleRecord{Kind: ModuleKindNative, Namespace: value.Int(1)}, nil
	})

	_, ok := sp.Resolve("node:fs")
	require.False(t, ok)

	url, ok := sp.Resolve("otter:fs")
	require.True(t, ok)
	require.Equal(t, "fs", url)

	_, err := sp.Load(url)
	require.NoError(t, err)
	require.Equal(t, "fs", loadedRest)
}

