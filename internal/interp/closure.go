package interp

import (
	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// NativeFunc is a host-implemented function callable from bytecode: used for
// intrinsics, extension bindings (internal/jsbridge), and builtins.
type NativeFunc func(vm *Interpreter, this value.Value, args []value.Value) (value.Value, error)

// Closure is the heap cell backing a JS function value: either a compiled
// bytecode function plus its captured upvalues, or a native Go function.
type Closure struct {
	hdr gc.Header

	Module   *bytecode.Module
	Fn       *bytecode.Function
	Upvalues []*Upvalue

	Native NativeFunc

	Name string
}

func NewClosure(mod *bytecode.Module, fn *bytecode.Function, upvalues []*Upvalue) *Closure {
	return &Closure{hdr: gc.NewHeader(gc.TagFunction), Module: mod, Fn: fn, Upvalues: upvalues, Name: fn.Name}
}

func NewNativeClosure(name string, fn NativeFunc) *Closure {
	return &Closure{hdr: gc.NewHeader(gc.TagNativeFunction), Native: fn, Name: name}
}

func (c *Closure) Header() *gc.Header { return &c.hdr }

// Trace visits every Value a closure's upvalues hold, so captured heap
// references keep their targets alive across collections.
func (c *Closure) Trace(mark func(gc.Ref)) {
	for _, uv := range c.Upvalues {
		if uv == nil {
			continue
		}
		v := uv.Get()
		if v.IsHeap() {
			mark(v.Ref())
		}
	}
}

func (c *Closure) IsNative() bool { return c.Native != nil }
