package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/promise"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
)

// newTestVM wires a bare Interpreter the same way internal/isolate.New
// does, minus the event loop: heap, root shape, a global object and its
// prototype, a microtask queue, and the runtime seams (so Promise
// combinators and await's native-resolver callbacks work).
func newTestVM(t *testing.T) *Interpreter {
	t.Helper()
	heap := gc.New()
	root := shape.Root()
	proto := object.New(root, value.Null_())
	protoRef := heap.Alloc(proto, 64)
	protoV := value.FromRef(protoRef, gc.TagObject)

	globals := object.New(root, protoV)
	globalsRef := heap.Alloc(globals, 128)

	q := promise.NewQueue(heap)

	vm := New(heap, root, globals, value.FromRef(globalsRef, gc.TagObject), q)
	vm.ObjectProto = protoV
	vm.InstallRuntimeSeams()
	return vm
}

// internString allocates s as a heap JSString, adds it to mod's constant
// pool, and returns the pool index (suitable for a Function.Consts entry;
// GETPROP/SETPROP/GETGLOBAL/SETGLOBAL operands index Function.Consts, not
// the pool directly).
func internString(vm *Interpreter, mod *bytecode.Module, s string) int {
	str := object.NewJSString(s)
	ref := vm.Heap.Alloc(str, uintptr(24+len(str.Data)))
	return mod.AddConstant(value.FromRef(ref, gc.TagString))
}

// TestFibIterative runs a hand-assembled iterative fibonacci loop:
//
//	n := 10; a, b := 0, 1
//	for i := 0; i < n; i++ { a, b = b, a+b }
//	return a
//
// verifying LOADI/LT/JMPF/ADD/MOVE/JMP/RETURN all compose correctly
// across a backward branch.
func TestFibIterative(t *testing.T) {
	vm := newTestVM(t)
	mod := bytecode.NewModule("fib")

	fn := bytecode.NewFunction("fib10", 7, 0, 0, 0)
	fn.Code = []bytecode.Instruction{
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 3, 10), // idx0: n = 10
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 0, 0),  // idx1: a = 0
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 1, 1),  // idx2: b = 1
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 2, 0),  // idx3: i = 0
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 6, 1),  // idx4: one = 1
		bytecode.EncodeABC(bytecode.OpLt, 4, 2, 3),     // idx5: test = i < n
		bytecode.EncodeAsBx(bytecode.OpJumpIfFalse, 4, 6), // idx6: if !test goto idx12
		bytecode.EncodeABC(bytecode.OpAdd, 5, 0, 1),    // idx7: tmp = a + b
		bytecode.EncodeABC(bytecode.OpMove, 0, 1, 0),   // idx8: a = b
		bytecode.EncodeABC(bytecode.OpMove, 1, 5, 0),   // idx9: b = tmp
		bytecode.EncodeABC(bytecode.OpAdd, 2, 2, 6),    // idx10: i += 1
		bytecode.EncodeAsBx(bytecode.OpJump, 0, -6),    // idx11: goto idx5
		bytecode.EncodeABC(bytecode.OpReturn, 0, 2, 0), // idx12: return a
	}
	// JMPF's sBx operand is an iAsBx instruction: A carries the tested
	// register, sBx the offset. EncodeAsBx(op, a, sbx) covers both.
	mod.Entry = mod.AddFunction(fn)

	closure := NewClosure(mod, fn, nil)
	result, err := vm.CallClosure(closure, value.Undef(), nil, false)
	require.NoError(t, err)
	require.True(t, result.IsInt32())
	require.Equal(t, int32(55), result.AsInt32())
}

// TestTryCatchUnwinding throws from inside a try region and verifies the
// thrown value lands in register 0 (THROW's unwind-to-handler convention)
// and control resumes at the handler target rather than propagating as a
// Go error.
func TestTryCatchUnwinding(t *testing.T) {
	vm := newTestVM(t)
	mod := bytecode.NewModule("trycatch")

	fn := bytecode.NewFunction("thrower", 2, 0, 0, 0)
	fn.Code = []bytecode.Instruction{
		bytecode.EncodeAsBx(bytecode.OpTryBegin, 0, 2), // idx0: try, handler = idx3
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 1, 42), // idx1: R1 = 42
		bytecode.EncodeABC(bytecode.OpThrow, 1, 0, 0),  // idx2: throw R1
		bytecode.EncodeABC(bytecode.OpReturn, 0, 2, 0), // idx3 (handler): return R0
	}
	mod.Entry = mod.AddFunction(fn)

	closure := NewClosure(mod, fn, nil)
	result, err := vm.CallClosure(closure, value.Undef(), nil, false)
	require.NoError(t, err)
	require.True(t, result.IsInt32())
	require.Equal(t, int32(42), result.AsInt32())
}

// TestAsyncAwaitRoundTrip calls an async closure that awaits an
// already-available value and returns it, verifying CallClosure's
// async dispatch produces a Promise that settles to the awaited value
// once the microtask queue drains.
func TestAsyncAwaitRoundTrip(t *testing.T) {
	vm := newTestVM(t)
	mod := bytecode.NewModule("asyncawait")

	fn := bytecode.NewFunction("asyncFn", 2, 0, 0, 0)
	fn.IsAsync = true
	fn.Code = []bytecode.Instruction{
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 1, 7), // idx0: R1 = 7
		bytecode.EncodeABC(bytecode.OpAwait, 0, 1, 0), // idx1: R0 = await R1
		bytecode.EncodeABC(bytecode.OpReturn, 0, 2, 0), // idx2: return R0
	}
	mod.Entry = mod.AddFunction(fn)

	closure := NewClosure(mod, fn, nil)
	result, err := vm.CallClosure(closure, value.Undef(), nil, false)
	require.NoError(t, err)
	require.True(t, result.IsHeap())

	vm.Queue.Drain()

	cell := vm.Heap.Get(result.Ref())
	p, ok := cell.(*promise.Promise)
	require.True(t, ok)
	require.Equal(t, promise.Fulfilled, p.State())
	require.True(t, p.Value().IsInt32())
	require.Equal(t, int32(7), p.Value().AsInt32())
}

// TestPropertyAccessAcrossShapes builds two objects whose properties are
// assigned in different orders (so they end up on distinct shapes) and
// verifies GETPROP still reads the right value off each — the property
// path must be correct independent of shape identity, even though inline
// caches aren't consulted by this VM (see DESIGN.md).
func TestPropertyAccessAcrossShapes(t *testing.T) {
	vm := newTestVM(t)
	mod := bytecode.NewModule("propshapes")

	fn := bytecode.NewFunction("props", 6, 0, 0, 0)
	kx := internString(vm, mod, "x")
	ky := internString(vm, mod, "y")
	fn.Consts = []int{kx, ky}
	const localX, localY = 0, 1

	fn.Code = []bytecode.Instruction{
		bytecode.EncodeABC(bytecode.OpNewObject, 0, 0, 0), // R0 = {}
		bytecode.EncodeABC(bytecode.OpNewObject, 1, 0, 0), // R1 = {}
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 2, 10),
		bytecode.EncodeABC(bytecode.OpSetProp, localX, 0, 2), // obj1.x = 10
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 2, 20),
		bytecode.EncodeABC(bytecode.OpSetProp, localY, 0, 2), // obj1.y = 20 (shape: x,y)
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 2, 99),
		bytecode.EncodeABC(bytecode.OpSetProp, localY, 1, 2), // obj2.y = 99 (shape: y,...)
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 2, 7),
		bytecode.EncodeABC(bytecode.OpSetProp, localX, 1, 2), // obj2.x = 7 (shape: y,x)
		bytecode.EncodeABC(bytecode.OpGetProp, 3, 0, localX), // R3 = obj1.x
		bytecode.EncodeABC(bytecode.OpGetProp, 4, 1, localX), // R4 = obj2.x
		bytecode.EncodeABC(bytecode.OpAdd, 5, 3, 4),          // R5 = 17
		bytecode.EncodeABC(bytecode.OpReturn, 5, 2, 0),
	}
	mod.Entry = mod.AddFunction(fn)

	closure := NewClosure(mod, fn, nil)
	result, err := vm.CallClosure(closure, value.Undef(), nil, false)
	require.NoError(t, err)
	require.True(t, result.IsInt32())
	require.Equal(t, int32(17), result.AsInt32())
}
