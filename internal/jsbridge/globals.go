// Timer and microtask globals: setTimeout/clearTimeout/setInterval/
// clearInterval/queueMicrotask/setImmediate/clearImmediate bound onto the VmContext's
// global object, the same bindings Adapter.Bind installs on a Goja
// runtime, retargeted at internal/loop and internal/promise directly
// instead of goja.Runtime.ToValue/AssertFunction.
package jsbridge

import (
	"time"

	"github.com/joeycumines/otter/internal/loop"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

// DefineTimers installs setTimeout, clearTimeout, setInterval,
// clearInterval, setImmediate, clearImmediate, and queueMicrotask as
// globals backed by
// this Bridge's VmContext's Loop and Queue (spec.md §4.5's scheduling
// primitives, exposed as spec.md §4.6 "global functions").
func (b *Bridge) DefineTimers() error {
	for _, f := range [...]struct {
		name string
		fn   HostFunc
	}{
		{"setTimeout", b.setTimeout},
		{"clearTimeout", b.clearHandle},
		{"setInterval", b.setInterval},
		{"clearInterval", b.clearHandle},
		{"setImmediate", b.setImmediate},
		{"clearImmediate", b.clearHandle},
		{"queueMicrotask", b.queueMicrotask},
	} {
		if err := b.DefineGlobalFunction(f.name, f.fn); err != nil {
			return err
		}
	}
	return nil
}

func argCallable(nc *NativeContext, args []value.Value, i int, who string) (value.Value, error) {
	if i >= len(args) || !nc.ctx.VM.IsCallable(args[i]) {
		return value.Undef(), &vmerr.TypeError{Message: who + " requires a function as its first argument"}
	}
	return args[i], nil
}

func argDelay(args []value.Value, i int) time.Duration {
	if i >= len(args) || !args[i].IsNumber() {
		return 0
	}
	ms := args[i].AsNumber()
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// invokeCallback runs fn as a host-scheduled callback. A thrown error
// becomes a Go panic, so it surfaces through the loop's own
// safeExecute recovery/logging instead of being silently dropped here.
func (b *Bridge) invokeCallback(fn value.Value) {
	if _, err := b.ctx.VM.Call(fn, value.Undef(), nil); err != nil {
		panic(err)
	}
}

func (b *Bridge) setTimeout(_ value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
	fn, err := argCallable(nc, args, 0, "setTimeout")
	if err != nil {
		return value.Undef(), err
	}
	h := b.ctx.Loop.SetTimeout(argDelay(args, 1), func() { b.invokeCallback(fn) })
	return value.Float(float64(h)), nil
}

func (b *Bridge) setInterval(_ value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
	fn, err := argCallable(nc, args, 0, "setInterval")
	if err != nil {
		return value.Undef(), err
	}
	h := b.ctx.Loop.SetInterval(argDelay(args, 1), func() { b.invokeCallback(fn) })
	return value.Float(float64(h)), nil
}

func (b *Bridge) setImmediate(_ value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
	fn, err := argCallable(nc, args, 0, "setImmediate")
	if err != nil {
		return value.Undef(), err
	}
	h := b.ctx.Loop.SetImmediate(func() { b.invokeCallback(fn) })
	return value.Float(float64(h)), nil
}

func (b *Bridge) clearHandle(_ value.Value, args []value.Value, _ *NativeContext) (value.Value, error) {
	if len(args) == 0 || !args[0].IsNumber() {
		return value.Undef(), nil
	}
	b.ctx.Loop.Clear(loop.Handle(uint64(args[0].AsNumber())))
	return value.Undef(), nil
}

func (b *Bridge) queueMicrotask(_ value.Value, args []value.Value, nc *NativeContext) (value.Value, error) {
	fn, err := argCallable(nc, args, 0, "queueMicrotask")
	if err != nil {
		return value.Undef(), err
	}
	b.ctx.Queue.EnqueueNative(func() { b.invokeCallback(fn) })
	return value.Undef(), nil
}
