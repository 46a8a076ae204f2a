// Async function driving: spec.md §4.4's "an async function body compiles
// to an ordinary bytecode function; invoking it always returns a Promise
// immediately; each await suspends the frame until the awaited value
// settles, then resumes it from the Queue's microtask drain."
//
// Grounded on eventloop/promise.go's addHandler/scheduleHandler split: the
// awaited value's settlement re-enters the VM from a native job, the same
// way ChainedPromise schedules a handler to run later rather than
// recursing synchronously.
package interp

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/promise"
	"github.com/joeycumines/otter/internal/value"
)

// pendingAsync roots one suspended async call's live registers for GC
// purposes, keyed by SavedFrame.ID. internal/isolate registers
// PendingAsyncRoots with the heap so these stay reachable across a
// collection that runs while the call is suspended.
type pendingAsync struct {
	saved  *SavedFrame
	result *promise.Promise
}

// PendingAsyncRoots returns every Ref reachable from currently suspended
// async calls: their live registers and upvalues. The result promise is
// not included.
// internal/isolate wires this into gc.Heap.RegisterRoot.
func (vm *Interpreter) PendingAsyncRoots() []gc.Ref {
	var out []gc.Ref
	for _, p := range vm.pending {
		for _, r := range p.saved.Registers {
			if r.IsHeap() {
				out = append(out, r.Ref())
			}
		}
		for _, uv := range p.saved.Upvalues {
			if uv == nil {
				continue
			}
			if v := uv.Get(); v.IsHeap() {
				out = append(out, v.Ref())
			}
		}
	}
	return out
}

// CallAsync invokes an async closure. It runs the compiled body
// synchronously up to its first await (or return/throw), then returns a
// Promise that settles once the whole async body has run to completion
// — exactly the "returns a Promise immediately" contract, since the
// caller never blocks past the first suspension point.
func (vm *Interpreter) CallAsync(c *Closure, this value.Value, args []value.Value) *promise.Promise {
	result := promise.New()
	if vm.pending == nil {
		vm.pending = map[uint64]*pendingAsync{}
	}

	f := NewFrame(c.Module, c.Fn, this, false, -1)
	f.Upvalues = c.Upvalues
	bindArgs(f, c.Fn, args)

	vm.frames = append(vm.frames, f)
	vm.driveAsync(f, result)

	return result
}

// driveAsync runs f until it returns, throws, or awaits; on await it
// registers a continuation and returns immediately (the frame stays
// suspended, rooted via vm.pending, until the awaited value settles).
func (vm *Interpreter) driveAsync(f *Frame, result *promise.Promise) {
	v, err := vm.run(f)
	vm.frames = vm.frames[:len(vm.frames)-1]

	if sig, ok := err.(*suspendSignal); ok {
		vm.pending[sig.frame.ID] = &pendingAsync{saved: sig.frame, result: result}
		vm.awaitValue(v, sig.frame.ID, sig.resumeReg, result)
		return
	}

	if err != nil {
		promise.Reject(vm.Queue, result, vm.errorValueForThrow(err), vm)
		return
	}

	promise.Resolve(vm.Queue, result, v, vm)
}

// awaitValue settles the awaited expression (wrapping it in a resolved
// Promise if it isn't already thenable, per spec.md's Await abstract
// operation) and schedules the suspended frame's resumption once it
// settles.
func (vm *Interpreter) awaitValue(awaited value.Value, frameID uint64, resumeReg int, result *promise.Promise) {
	awaitedP := promise.New()
	promise.Resolve(vm.Queue, awaitedP, awaited, vm)

	onFulfilled := promise.NewNativeResolver(func(v value.Value) {
		vm.resumeAsync(frameID, resumeReg, v, false, result)
	})
	onRejected := promise.NewNativeResolver(func(reason value.Value) {
		vm.resumeAsync(frameID, resumeReg, reason, true, result)
	})
	vm.thenOnPromise(awaitedP, onFulfilled, onRejected)
}

// thenOnPromise attaches native-resolver callables obtained from
// promise.NewNativeResolver to p, without re-entering the Call path (the
// resolvers are plain Values wrapping Go closures, not JS functions).
func (vm *Interpreter) thenOnPromise(p *promise.Promise, onFulfilled, onRejected value.Value) {
	promise.Then(vm.Queue, p, onFulfilled, onRejected, vm)
}

func (vm *Interpreter) resumeAsync(frameID uint64, resumeReg int, v value.Value, isThrow bool, result *promise.Promise) {
	pending, ok := vm.pending[frameID]
	if !ok {
		return
	}
	delete(vm.pending, frameID)

	f := resume(pending.saved, resumeReg, v)
	vm.frames = append(vm.frames, f)

	if isThrow {
		if caught, rerr := vm.unwind(f, &thrownValue{v}); caught {
			vm.driveAsync(f, result)
			return
		} else if rerr != nil {
			vm.frames = vm.frames[:len(vm.frames)-1]
			promise.Reject(vm.Queue, result, vm.errorValueForThrow(rerr), vm)
			return
		}
	}

	vm.driveAsync(f, result)
}

func (vm *Interpreter) errorValueForThrow(err error) value.Value {
	if tv, ok := err.(*thrownValue); ok {
		return tv.v
	}
	return vm.errorToValue(err)
}
