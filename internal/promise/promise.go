// Package promise implements the Promise state machine and the dual
// microtask/job queue that drains it, per spec.md §4.4 and §6 (microtask
// FIFO, drain completeness, settlement idempotence).
//
// Grounded on eventloop/promise.go's ChainedPromise (reaction lists,
// scheduleHandler/executeHandler split, panic-safe handler execution,
// unhandled-rejection tracking) combined with the shared-sequencer
// dual-queue design spec.md §3 describes ("Two parallel queues share a
// monotonically increasing sequencer"), which the teacher's single
// MicrotaskRing does not have a sibling queue for.
package promise

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/otlog"
	"github.com/joeycumines/otter/internal/value"
)

// State is a Promise's lifecycle stage. Transitions are one-way:
// Pending -> Fulfilled or Pending -> Rejected, never back.
type State uint8

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Runtime is the subset of interpreter behavior the promise package needs
// to drive thenable resolution and reaction callbacks, injected rather
// than imported directly (internal/interp imports internal/promise, so
// the reverse import would cycle) — the same dependency-inversion shape
// as object.InvokeProxyTrap.
type Runtime interface {
	// IsCallable reports whether v can be invoked as a function.
	IsCallable(v value.Value) bool
	// Call invokes fn with the given this-binding and arguments.
	Call(fn, this value.Value, args []value.Value) (value.Value, error)
	// GetProperty reads a named property off v (used to probe thenables
	// for a callable "then").
	GetProperty(v value.Value, name string) (value.Value, error)
}

// reaction is one pending onFulfilled/onRejected pair registered via Then,
// plus the child promise its result settles.
type reaction struct {
	onFulfilled value.Value // Undef() if absent (pass-through)
	onRejected  value.Value
	result      *Promise
}

// Promise is the heap cell backing a JS promise value (spec.md §3).
type Promise struct {
	hdr gc.Header

	state State
	value value.Value // settled fulfillment value or rejection reason

	fulfillReactions []reaction
	rejectReactions  []reaction

	handled     bool // an onRejected was ever attached, for unhandled-rejection tracking
	resolving   bool // true once resolution has started (guards the "same promise" cycle check)
}

// New allocates a pending promise.
func New() *Promise {
	return &Promise{hdr: gc.NewHeader(gc.TagPromise)}
}

func (p *Promise) Header() *gc.Header { return &p.hdr }

// Trace visits the settled value plus every reaction's callbacks, so a
// promise keeps everything it might still call alive. A reaction's result
// promise is held as a Go pointer and is not visited.
func (p *Promise) Trace(mark func(gc.Ref)) {
	traceValue(p.value, mark)
	for _, r := range p.fulfillReactions {
		traceValue(r.onFulfilled, mark)
		traceValue(r.onRejected, mark)
	}
	for _, r := range p.rejectReactions {
		traceValue(r.onFulfilled, mark)
		traceValue(r.onRejected, mark)
	}
}

func traceValue(v value.Value, mark func(gc.Ref)) {
	if v.IsHeap() {
		mark(v.Ref())
	}
}

func (p *Promise) State() State      { return p.state }
func (p *Promise) Value() value.Value { return p.value }
func (p *Promise) IsHandled() bool   { return p.handled }

// Resolve settles p as fulfilled with v, unless v is itself a thenable (in
// which case resolution is deferred to a native job that adopts v's
// eventual state) or p is already settled (settlement is idempotent, per
// spec.md §8 scenario "resolve(p,a); resolve(p,b) yields a").
func Resolve(q *Queue, p *Promise, v value.Value, rt Runtime) {
	if p.state != Pending || p.resolving {
		return
	}
	p.resolving = true

	if innerP, ok := asPromise(q.heap, v); ok {
		if innerP == p {
			Reject(q, p, value.Undef(), rt) // TypeError: chaining cycle; caller supplies a real TypeError value if desired
			return
		}
		// Absorb the target's future state (spec.md §4.4: "chain").
		adopt(q, innerP, p, rt)
		return
	}

	if v.IsHeap() && rt != nil {
		then, err := rt.GetProperty(v, "then")
		if err == nil && rt.IsCallable(then) {
			// Resolving with a thenable: call its then once; first call wins.
			// This runs as a native job so the calling synchronous code (e.g.
			// the interpreter's RESOLVE opcode path) never re-enters the VM.
			q.EnqueueNative(func() {
				resolveThenable(q, p, v, then, rt)
			})
			return
		}
	}

	p.state = Fulfilled
	p.value = v
	p.resolving = false
	triggerReactions(q, p.fulfillReactions, true, v, rt)
	p.fulfillReactions = nil
	p.rejectReactions = nil
}

// Reject settles p as rejected with reason, once, per the same idempotence
// rule as Resolve.
func Reject(q *Queue, p *Promise, reason value.Value, rt Runtime) {
	if p.state != Pending {
		return
	}
	p.state = Rejected
	p.value = reason
	p.resolving = false
	if len(p.rejectReactions) == 0 {
		q.trackUnhandled(p)
	}
	triggerReactions(q, p.rejectReactions, false, reason, rt)
	p.fulfillReactions = nil
	p.rejectReactions = nil
}

func resolveThenable(q *Queue, p *Promise, thenable, then value.Value, rt Runtime) {
	var once bool
	resolveFn := NewNativeResolver(func(v value.Value) {
		if once {
			return
		}
		once = true
		p.resolving = false
		Resolve(q, p, v, rt)
	})
	rejectFn := NewNativeResolver(func(reason value.Value) {
		if once {
			return
		}
		once = true
		p.resolving = false
		Reject(q, p, reason, rt)
	})
	if _, err := rt.Call(then, thenable, []value.Value{resolveFn, rejectFn}); err != nil {
		if !once {
			once = true
			p.resolving = false
			Reject(q, p, ErrorToValue(err), rt)
		}
	}
}

// adopt wires src's eventual settlement through to dst, with zero extra
// reaction-allocation in the fast case (mirrors ChainedPromise.resolve's
// "adopt its state" path via addHandler).
func adopt(q *Queue, src, dst *Promise, rt Runtime) {
	switch src.state {
	case Fulfilled:
		q.EnqueueNative(func() { Resolve(q, dst, src.value, rt) })
	case Rejected:
		src.handled = true
		q.EnqueueNative(func() { Reject(q, dst, src.value, rt) })
	default:
		onFulfilled := NewNativeResolver(func(v value.Value) { Resolve(q, dst, v, rt) })
		onRejected := NewNativeResolver(func(v value.Value) { Reject(q, dst, v, rt) })
		attachReaction(q, src, onFulfilled, onRejected, nil, rt)
	}
}

// Then implements Promise.prototype.then: registers onFulfilled/onRejected
// and returns the derived child promise (spec.md §4.4's `then(p,onFul,onRej)
// -> p'`). Reactions attached to an already-settled promise are enqueued
// immediately (at attach time); reactions on a pending promise wait for
// settlement. Either callback may be Undef() (pass-through).
func Then(q *Queue, p *Promise, onFulfilled, onRejected value.Value, rt Runtime) *Promise {
	child := New()
	attachReaction(q, p, onFulfilled, onRejected, child, rt)
	return child
}

func attachReaction(q *Queue, p *Promise, onFulfilled, onRejected value.Value, child *Promise, rt Runtime) {
	if !onRejected.IsUndefined() {
		p.handled = true
	}
	r := reaction{onFulfilled: onFulfilled, onRejected: onRejected, result: child}
	switch p.state {
	case Pending:
		p.fulfillReactions = append(p.fulfillReactions, r)
		p.rejectReactions = append(p.rejectReactions, r)
	case Fulfilled:
		enqueueReaction(q, r, true, p.value, rt)
	case Rejected:
		enqueueReaction(q, r, false, p.value, rt)
	}
}

func triggerReactions(q *Queue, reactions []reaction, fulfilled bool, result value.Value, rt Runtime) {
	for _, r := range reactions {
		enqueueReaction(q, r, fulfilled, result, rt)
	}
}

func enqueueReaction(q *Queue, r reaction, fulfilled bool, result value.Value, rt Runtime) {
	q.EnqueueJob(JsJob{
		Callback: callbackFor(r, fulfilled),
		IsFulfilled: fulfilled,
		Args:     []value.Value{result},
		Result:   r.result,
	}, rt)
}

func callbackFor(r reaction, fulfilled bool) value.Value {
	if fulfilled {
		return r.onFulfilled
	}
	return r.onRejected
}

// ErrorToValue is a seam for converting a Go error into a JS-visible
// reason value; interp's InstallRuntimeSeams overrides this once
// vmerr<->value coercion exists, so promise stays decoupled from both.
var ErrorToValue = func(err error) value.Value { return value.Undef() }

// NewNativeResolver wraps a Go closure as a callable Value understood by
// rt.Call when invoked from JS (e.g. a thenable's resolve/reject
// arguments). interp's InstallRuntimeSeams supplies the concrete
// construction (wrapping interp.NewNativeClosure); by default it returns Undef() so
// code that never wires an isolate still compiles and no-ops safely.
var NewNativeResolver = func(fn func(value.Value)) value.Value { return value.Undef() }

// asPromise reports whether v's heap target is a *Promise.
func asPromise(heap *gc.Heap, v value.Value) (*Promise, bool) {
	if !v.IsPromise() || heap == nil {
		return nil, false
	}
	cell := heap.Get(v.Ref())
	if cell == nil {
		return nil, false
	}
	p, ok := cell.(*Promise)
	return p, ok
}

var logger *otlog.Logger

// SetLogger installs the shared diagnostics logger for this package. It
// is only stored: Resolve, Reject and Queue.Drain write no entries to it.
// A nil logger is a safe no-op (otlog.Logger's own contract).
func SetLogger(l *otlog.Logger) { logger = l }
