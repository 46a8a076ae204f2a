package promise

import (
	"sync/atomic"

	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// NativeJob is a Rust-closure-equivalent microtask: internal bookkeeping
// (thenable resolution, finalization callbacks) that never touches JS
// call frames.
type NativeJob func()

// JsJob is one queued reaction invocation: a JS callback plus the
// arguments and the child promise its return value (or thrown error)
// settles, per spec.md §3's `JsPromiseJob{callback,thisArg,args,resultPromise}`.
type JsJob struct {
	Callback    value.Value
	ThisArg     value.Value
	Args        []value.Value
	IsFulfilled bool
	Result      *Promise
}

type nativeEntry struct {
	seq uint64
	job NativeJob
}

type jsEntry struct {
	seq uint64
	job JsJob
	rt  Runtime
}

// Queue is the dual microtask/job queue: a native-closure queue and a
// JS-job queue sharing one monotonic sequencer, drained by repeatedly
// popping whichever queue holds the lowest sequence number (spec.md §3,
// §4.4's "Drain semantics").
type Queue struct {
	heap *gc.Heap
	seq  atomic.Uint64

	native []nativeEntry
	jobs   []jsEntry

	unhandled     []*Promise
	rejectionHook func(p *Promise, reason value.Value)
}

// NewQueue builds an empty queue bound to heap (used to resolve Promise
// heap-cell identity for thenable cycle detection).
func NewQueue(heap *gc.Heap) *Queue {
	return &Queue{heap: heap}
}

// SetUnhandledRejectionHook installs the host-level callback spec.md §4.4
// calls for "an uncaught rejection ... surfaces via a host-installable
// hook at the end of the drain."
func (q *Queue) SetUnhandledRejectionHook(fn func(p *Promise, reason value.Value)) {
	q.rejectionHook = fn
}

// EnqueueNative appends a native job, stamped with the next sequence
// number.
func (q *Queue) EnqueueNative(job NativeJob) {
	seq := q.seq.Add(1)
	q.native = append(q.native, nativeEntry{seq: seq, job: job})
}

// EnqueueJob appends a JS reaction job, stamped with the next sequence
// number. rt is remembered so Drain can invoke the callback even if the
// call site that enqueued it didn't have one handy (e.g. GC-driven
// finalization jobs pass nil and rely on a default no-op).
func (q *Queue) EnqueueJob(job JsJob, rt Runtime) {
	seq := q.seq.Add(1)
	q.jobs = append(q.jobs, jsEntry{seq: seq, job: job, rt: rt})
}

// Empty reports whether both queues are empty (spec.md §8's "Drain
// completeness" property checks this after eval_sync returns).
func (q *Queue) Empty() bool { return len(q.native) == 0 && len(q.jobs) == 0 }

// Drain runs every queued job, in FIFO order merged by sequence number
// across both queues, until both are empty — including jobs newly
// enqueued by jobs that ran during this same drain (spec.md §4.4: "New
// tasks enqueued during drain are also drained"). After draining, any
// promise that settled rejected with no onRejected ever attached fires
// the unhandled-rejection hook, per spec.md §4.4 and §7.
func (q *Queue) Drain() {
	for !q.Empty() {
		q.stepOne()
	}
	q.flushUnhandled()
}

func (q *Queue) stepOne() {
	var popNative, popJob bool
	if len(q.native) > 0 && len(q.jobs) > 0 {
		if q.native[0].seq < q.jobs[0].seq {
			popNative = true
		} else {
			popJob = true
		}
	} else if len(q.native) > 0 {
		popNative = true
	} else if len(q.jobs) > 0 {
		popJob = true
	} else {
		return
	}

	if popNative {
		n := q.native[0]
		q.native = q.native[1:]
		n.job()
		return
	}

	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.runJob(j)
}

func (q *Queue) runJob(e jsEntry) {
	job := e.job
	rt := e.rt
	if rt == nil || job.Callback.IsUndefined() || !rt.IsCallable(job.Callback) {
		// Pass-through reaction: propagate the settlement straight to the
		// child promise untransformed.
		if job.Result == nil {
			return
		}
		var arg value.Value
		if len(job.Args) > 0 {
			arg = job.Args[0]
		}
		if job.IsFulfilled {
			Resolve(q, job.Result, arg, rt)
		} else {
			Reject(q, job.Result, arg, rt)
		}
		return
	}

	res, err := rt.Call(job.Callback, job.ThisArg, job.Args)
	if job.Result == nil {
		return
	}
	if err != nil {
		Reject(q, job.Result, ErrorToValue(err), rt)
		return
	}
	Resolve(q, job.Result, res, rt)
}

func (q *Queue) trackUnhandled(p *Promise) {
	q.unhandled = append(q.unhandled, p)
}

func (q *Queue) flushUnhandled() {
	if q.rejectionHook == nil {
		q.unhandled = nil
		return
	}
	pending := q.unhandled
	q.unhandled = nil
	for _, p := range pending {
		if p.state == Rejected && !p.handled {
			q.rejectionHook(p, p.value)
		}
	}
}
