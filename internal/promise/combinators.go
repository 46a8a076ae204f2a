package promise

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// NewArrayValue and NewRecordValue are construction seams for the
// JS-visible array/object values the combinators below produce. They
// can't be built directly here (that needs internal/object's shape-aware
// allocation, which in turn needs a live heap+prototype context only the
// isolate package holds), so — same pattern as NewNativeResolver —
// interp's InstallRuntimeSeams overrides these, which isolate calls at
// VmContext construction time.
var (
	NewArrayValue  = func(heap *gc.Heap, items []value.Value) value.Value { return value.Undef() }
	NewRecordValue = func(heap *gc.Heap, fields map[string]value.Value) value.Value { return value.Undef() }
)

// All implements Promise.all: resolves with an array of fulfillment
// values once every input settles, or rejects as soon as any one does.
func All(q *Queue, promises []*Promise, rt Runtime) *Promise {
	result := New()
	n := len(promises)
	if n == 0 {
		Resolve(q, result, NewArrayValue(q.heap, nil), rt)
		return result
	}
	values := make([]value.Value, n)
	remaining := n
	done := false
	for i, p := range promises {
		i := i
		onFulfilled := NewNativeResolver(func(v value.Value) {
			if done {
				return
			}
			values[i] = v
			remaining--
			if remaining == 0 {
				done = true
				Resolve(q, result, NewArrayValue(q.heap, values), rt)
			}
		})
		onRejected := NewNativeResolver(func(reason value.Value) {
			if done {
				return
			}
			done = true
			Reject(q, result, reason, rt)
		})
		attachReaction(q, p, onFulfilled, onRejected, nil, rt)
	}
	return result
}

// Race settles with the first input to settle, either way.
func Race(q *Queue, promises []*Promise, rt Runtime) *Promise {
	result := New()
	done := false
	for _, p := range promises {
		onFulfilled := NewNativeResolver(func(v value.Value) {
			if done {
				return
			}
			done = true
			Resolve(q, result, v, rt)
		})
		onRejected := NewNativeResolver(func(reason value.Value) {
			if done {
				return
			}
			done = true
			Reject(q, result, reason, rt)
		})
		attachReaction(q, p, onFulfilled, onRejected, nil, rt)
	}
	return result
}

// AllSettled always fulfills, with one {status,value|reason} record per
// input, once every input has settled (fulfilled or rejected).
func AllSettled(q *Queue, promises []*Promise, rt Runtime) *Promise {
	result := New()
	n := len(promises)
	if n == 0 {
		Resolve(q, result, NewArrayValue(q.heap, nil), rt)
		return result
	}
	records := make([]value.Value, n)
	remaining := n
	for i, p := range promises {
		i := i
		onFulfilled := NewNativeResolver(func(v value.Value) {
			records[i] = NewRecordValue(q.heap, map[string]value.Value{"status": stringValue("fulfilled"), "value": v})
			remaining--
			if remaining == 0 {
				Resolve(q, result, NewArrayValue(q.heap, records), rt)
			}
		})
		onRejected := NewNativeResolver(func(reason value.Value) {
			records[i] = NewRecordValue(q.heap, map[string]value.Value{"status": stringValue("rejected"), "reason": reason})
			remaining--
			if remaining == 0 {
				Resolve(q, result, NewArrayValue(q.heap, records), rt)
			}
		})
		attachReaction(q, p, onFulfilled, onRejected, nil, rt)
	}
	return result
}

// Any fulfills with the first input to fulfill, or rejects with an
// AggregateError once every input has rejected.
func Any(q *Queue, promises []*Promise, rt Runtime) *Promise {
	result := New()
	n := len(promises)
	if n == 0 {
		Reject(q, result, NewAggregateErrorValue(nil), rt)
		return result
	}
	reasons := make([]value.Value, n)
	remaining := n
	done := false
	for i, p := range promises {
		i := i
		onFulfilled := NewNativeResolver(func(v value.Value) {
			if done {
				return
			}
			done = true
			Resolve(q, result, v, rt)
		})
		onRejected := NewNativeResolver(func(reason value.Value) {
			if done {
				return
			}
			reasons[i] = reason
			remaining--
			if remaining == 0 {
				done = true
				Reject(q, result, NewAggregateErrorValue(reasons), rt)
			}
		})
		attachReaction(q, p, onFulfilled, onRejected, nil, rt)
	}
	return result
}

// NewAggregateErrorValue builds the JS-visible AggregateError value for
// Promise.any's all-rejected case; interp's InstallRuntimeSeams wires this
// to an object with name "AggregateError" and an errors array.
var NewAggregateErrorValue = func(reasons []value.Value) value.Value { return value.Undef() }

// stringValue is a seam for building JS string values from Go literals
// ("fulfilled"/"rejected" status tags); interp's InstallRuntimeSeams
// overrides it through SetStringBuilder once a live heap exists.
var stringValue = func(s string) value.Value { return value.Undef() }

// SetStringBuilder installs the string-value seam used internally by
// AllSettled's status tags. Exported so a package outside promise (e.g.
// internal/interp) can wire it without stringValue itself being exported.
func SetStringBuilder(fn func(string) value.Value) { stringValue = fn }

// Resolvers is the {promise, resolve, reject} triple returned by
// WithResolvers, mirroring Promise.withResolvers.
type Resolvers struct {
	Promise *Promise
	Resolve func(value.Value)
	Reject  func(value.Value)
}

// WithResolvers builds a pending promise alongside standalone
// resolve/reject functions, avoiding the executor-callback indirection of
// the two-argument Promise constructor.
func WithResolvers(q *Queue, rt Runtime) Resolvers {
	p := New()
	return Resolvers{
		Promise: p,
		Resolve: func(v value.Value) { Resolve(q, p, v, rt) },
		Reject:  func(r value.Value) { Reject(q, p, r, rt) },
	}
}
