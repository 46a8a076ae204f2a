package isolate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/interp"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

func TestNewWiresCoreFields(t *testing.T) {
	c := New()
	require.NotNil(t, c.Heap)
	require.NotNil(t, c.RootShape)
	require.NotNil(t, c.Globals)
	require.True(t, c.GlobalsRef.IsHeap())
	require.True(t, c.ObjectProto.IsHeap())
	require.NotNil(t, c.VM)
	require.NotNil(t, c.Queue)
	require.NotNil(t, c.Loop)
}

func TestStructuredCloneDeepCopiesObjects(t *testing.T) {
	c := New()

	src := object.New(c.RootShape, c.ObjectProto)
	require.NoError(t, src.Set(shape.StringKey("x"), value.Int(1)))
	srcRef := c.Heap.Alloc(src, 64)
	srcVal := value.FromRef(srcRef, gc.TagObject)

	got, err := c.StructuredClone(srcVal)
	require.NoError(t, err)
	require.NotEqual(t, srcVal.Ref(), got.Ref())

	_, err = c.StructuredClone(value.Undef())
	require.NoError(t, err)
}

func TestStructuredCloneRejectsFunctions(t *testing.T) {
	c := New()

	fn := interp.NewNativeClosure("f", func(vm *interp.Interpreter, this value.Value, args []value.Value) (value.Value, error) {
		return value.Undef(), nil
	})
	fnRef := c.Heap.Alloc(fn, 64)
	fnVal := value.FromRef(fnRef, gc.TagNativeFunction)

	_, err := c.StructuredClone(fnVal)
	require.Error(t, err)
	var nc *vmerr.NotCloneable
	require.ErrorAs(t, err, &nc)
}

func TestAssertOwnerThreadPanicsOffOwner(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.Panics(t, func() { c.AssertOwnerThread() })
	}()
	wg.Wait()

	require.NotPanics(t, func() { c.AssertOwnerThread() })
}

func addStringConstant(c *VmContext, mod *bytecode.Module, s string) int {
	str := object.NewJSString(s)
	ref := c.Heap.Alloc(str, uintptr(24+len(str.Data)))
	return mod.AddConstant(value.FromRef(ref, gc.TagString))
}

// TestEvalRoundTrip hand-assembles `var result = 2 + 3;` and verifies
// Eval both returns the computed value and leaves it visible as a global.
func TestEvalRoundTrip(t *testing.T) {
	c := New()
	mod := bytecode.NewModule("eval-roundtrip")

	resultConst := addStringConstant(c, mod, "result")

	fn := bytecode.NewFunction("main", 3, 0, 0, 0)
	fn.Consts = []int{resultConst}
	fn.Code = []bytecode.Instruction{
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 0, 2),
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 1, 3),
		bytecode.EncodeABC(bytecode.OpAdd, 2, 0, 1),
		bytecode.EncodeABx(bytecode.OpSetGlobal, 2, 0),
		bytecode.EncodeABC(bytecode.OpReturn, 2, 2, 0),
	}
	mod.Entry = mod.AddFunction(fn)

	result, err := c.Eval(mod)
	require.NoError(t, err)
	require.True(t, result.IsInt32())
	require.Equal(t, int32(5), result.AsInt32())

	global, err := c.VM.GetProperty(c.GlobalsRef, "result")
	require.NoError(t, err)
	require.True(t, global.IsInt32())
	require.Equal(t, int32(5), global.AsInt32())
}

func TestSymbolForIsStableAndPerContext(t *testing.T) {
	c := New()
	a := c.SymbolFor("iterator")
	b := c.SymbolFor("iterator")
	require.Equal(t, a, b)

	other := New()
	require.Equal(t, a, other.SymbolFor("iterator"))
}

type stubProvider struct {
	mod *bytecode.Module
	err error
}

func (s stubProvider) Resolve(specifier string) (*bytecode.Module, error) { return s.mod, s.err }

func TestRegisterProviderAndResolve(t *testing.T) {
	c := New()
	mod := bytecode.NewModule("resolved")
	c.RegisterProvider("fs", stubProvider{mod: mod})

	got, err := c.Resolve("fs", "./a.js")
	require.NoError(t, err)
	require.Same(t, mod, got)

	_, err = c.Resolve("missing", "./a.js")
	require.Error(t, err)
}
