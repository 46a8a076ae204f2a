package promise

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// fakeRuntime dispatches callable Values by identity to registered Go
// closures, standing in for the interpreter in isolation tests.
type fakeRuntime struct {
	fns map[int32]func([]value.Value) (value.Value, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{fns: map[int32]func([]value.Value) (value.Value, error){}}
}

var nextFnID atomic.Int32

func (r *fakeRuntime) register(fn func([]value.Value) (value.Value, error)) value.Value {
	id := nextFnID.Add(1)
	r.fns[id] = fn
	return value.Int(id)
}

func (r *fakeRuntime) IsCallable(v value.Value) bool {
	if !v.IsInt32() {
		return false
	}
	_, ok := r.fns[v.AsInt32()]
	return ok
}

func (r *fakeRuntime) Call(fn, _ value.Value, args []value.Value) (value.Value, error) {
	f, ok := r.fns[fn.AsInt32()]
	if !ok {
		return value.Undef(), nil
	}
	return f(args)
}

func (r *fakeRuntime) GetProperty(value.Value, string) (value.Value, error) {
	return value.Undef(), nil
}

func withNativeResolverStub(t *testing.T, rt *fakeRuntime) {
	t.Helper()
	old := NewNativeResolver
	NewNativeResolver = func(fn func(value.Value)) value.Value {
		return rt.register(func(args []value.Value) (value.Value, error) {
			var v value.Value
			if len(args) > 0 {
				v = args[0]
			}
			fn(v)
			return value.Undef(), nil
		})
	}
	t.Cleanup(func() { NewNativeResolver = old })
}

func TestMicrotaskOrdering(t *testing.T) {
	// spec.md §8 scenario 4: log == [1, 3, 2].
	rt := newFakeRuntime()
	withNativeResolverStub(t, rt)
	q := NewQueue(nil)

	var log []int32

	p1 := New()
	Resolve(q, p1, value.Int(1), rt)
	p3 := New()
	Resolve(q, p3, value.Int(3), rt)

	cb1 := rt.register(func(args []value.Value) (value.Value, error) {
		log = append(log, args[0].AsInt32())
		p2 := New()
		Resolve(q, p2, value.Int(2), rt)
		cb2 := rt.register(func(args []value.Value) (value.Value, error) {
			log = append(log, args[0].AsInt32())
			return value.Undef(), nil
		})
		Then(q, p2, cb2, value.Undef(), rt)
		return value.Undef(), nil
	})
	Then(q, p1, cb1, value.Undef(), rt)

	cb3 := rt.register(func(args []value.Value) (value.Value, error) {
		log = append(log, args[0].AsInt32())
		return value.Undef(), nil
	})
	Then(q, p3, cb3, value.Undef(), rt)

	q.Drain()

	require.Equal(t, []int32{1, 3, 2}, log)
	require.True(t, q.Empty())
}

func TestSettlementIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	withNativeResolverStub(t, rt)
	q := NewQueue(nil)

	p := New()
	Resolve(q, p, value.Int(1), rt)
	Resolve(q, p, value.Int(2), rt)
	q.Drain()

	require.Equal(t, Fulfilled, p.State())
	require.Equal(t, int32(1), p.Value().AsInt32())
}

func TestRejectionPropagatesThroughPassThrough(t *testing.T) {
	rt := newFakeRuntime()
	withNativeResolverStub(t, rt)
	q := NewQueue(nil)

	p := New()
	// .then with no onRejected: rejection should pass through untransformed.
	child := Then(q, p, value.Undef(), value.Undef(), rt)
	Reject(q, p, value.Int(42), rt)
	q.Drain()

	require.Equal(t, Rejected, child.State())
	require.Equal(t, int32(42), child.Value().AsInt32())
}

func TestUnhandledRejectionHook(t *testing.T) {
	rt := newFakeRuntime()
	withNativeResolverStub(t, rt)
	q := NewQueue(nil)

	var gotReason value.Value
	var fired bool
	q.SetUnhandledRejectionHook(func(p *Promise, reason value.Value) {
		fired = true
		gotReason = reason
	})

	p := New()
	Reject(q, p, value.Int(7), rt)
	q.Drain()

	require.True(t, fired)
	require.Equal(t, int32(7), gotReason.AsInt32())
}

func TestAllFulfillsWithValuesInOrder(t *testing.T) {
	rt := newFakeRuntime()
	withNativeResolverStub(t, rt)
	old := NewArrayValue
	var captured []value.Value
	NewArrayValue = func(_ *gc.Heap, items []value.Value) value.Value {
		captured = append([]value.Value(nil), items...)
		return value.Undef()
	}
	defer func() { NewArrayValue = old }()

	q := NewQueue(nil)
	p1 := New()
	p2 := New()
	result := All(q, []*Promise{p1, p2}, rt)
	Resolve(q, p2, value.Int(20), rt)
	Resolve(q, p1, value.Int(10), rt)
	q.Drain()

	require.Equal(t, Fulfilled, result.State())
	require.Len(t, captured, 2)
	require.Equal(t, int32(10), captured[0].AsInt32())
	require.Equal(t, int32(20), captured[1].AsInt32())
}
