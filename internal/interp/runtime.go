// This file wires the Interpreter up as a promise.Runtime (spec.md §4.4)
// and installs the promise package's seam variables with real
// implementations, the same dependency-inversion pattern object.go's
// InvokeProxyTrap uses.
package interp

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/promise"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
)

// IsCallable reports whether v is a function or native closure.
func (vm *Interpreter) IsCallable(v value.Value) bool {
	_, ok := vm.asClosure(v)
	return ok
}

// Call implements promise.Runtime: invokes fn(this, args...) as an
// ordinary (non-constructor) call.
func (vm *Interpreter) Call(fn, this value.Value, args []value.Value) (value.Value, error) {
	c, ok := vm.asClosure(fn)
	if !ok {
		return value.Undef(), nil
	}
	return vm.CallClosure(c, this, args, false)
}

// GetProperty implements promise.Runtime: reads a named property off v,
// used to probe a resolved value for a callable "then" (thenable
// detection, spec.md §4.4).
func (vm *Interpreter) GetProperty(v value.Value, name string) (value.Value, error) {
	obj, ok := vm.asObject(v)
	if !ok {
		return value.Undef(), nil
	}
	return obj.Get(vm.Heap, shape.StringKey(name), vm.invokeAccessor)
}

// InvokeAccessor exposes the accessor-invocation helper used internally
// for getter/setter dispatch, for callers outside this package (e.g.
// internal/isolate's proxy trap dispatch) that need to pass it as an
// object.Object.Get accessor callback.
func (vm *Interpreter) InvokeAccessor(fn, this value.Value) (value.Value, error) {
	return vm.invokeAccessor(fn, this)
}

// InstallRuntimeSeams overrides internal/promise's package-level seam
// variables with implementations backed by vm, so promise settlement can
// allocate real arrays/strings/errors and invoke native resolver
// closures. Call once per VmContext after construction (internal/isolate
// does this during startup).
func (vm *Interpreter) InstallRuntimeSeams() {
	promise.NewNativeResolver = func(fn func(value.Value)) value.Value {
		native := NewNativeClosure("", func(_ *Interpreter, _ value.Value, args []value.Value) (value.Value, error) {
			var v value.Value
			if len(args) > 0 {
				v = args[0]
			}
			fn(v)
			return value.Undef(), nil
		})
		ref := vm.Heap.Alloc(native, 48)
		return value.FromRef(ref, gc.TagNativeFunction)
	}

	promise.ErrorToValue = func(err error) value.Value {
		return vm.errorToValue(err)
	}

	promise.NewArrayValue = func(heap *gc.Heap, items []value.Value) value.Value {
		arr := object.NewArray(vm.RootShape, vm.ObjectProto)
		for i, item := range items {
			_ = arr.Set(shape.IndexKey(uint32(i)), item)
		}
		ref := heap.Alloc(arr, uintptr(64+16*len(items)))
		return value.FromRef(ref, gc.TagArray)
	}

	promise.NewRecordValue = func(heap *gc.Heap, pairs map[string]value.Value) value.Value {
		obj := object.New(vm.RootShape, vm.ObjectProto)
		for k, v := range pairs {
			_ = obj.Set(shape.StringKey(k), v)
		}
		ref := heap.Alloc(obj, uintptr(64+16*len(pairs)))
		return value.FromRef(ref, gc.TagObject)
	}

	promise.NewAggregateErrorValue = func(reasons []value.Value) value.Value {
		obj := object.New(vm.RootShape, vm.ObjectProto)
		_ = obj.Set(shape.StringKey("name"), vm.newString("AggregateError"))
		arr := promise.NewArrayValue(vm.Heap, reasons)
		_ = obj.Set(shape.StringKey("errors"), arr)
		ref := vm.Heap.Alloc(obj, 64)
		return value.FromRef(ref, gc.TagObject)
	}

	promise.SetStringBuilder(func(s string) value.Value { return vm.newString(s) })

	errorToValueFn = func(vm *Interpreter, err error) value.Value {
		obj := object.New(vm.RootShape, vm.ObjectProto)
		_ = obj.Set(shape.StringKey("message"), vm.newString(err.Error()))
		ref := vm.Heap.Alloc(obj, 64)
		return value.FromRef(ref, gc.TagObject)
	}
}

func (vm *Interpreter) newString(s string) value.Value {
	str := object.NewJSString(s)
	ref := vm.Heap.Alloc(str, uintptr(24+len(s)))
	return value.FromRef(ref, gc.TagString)
}
