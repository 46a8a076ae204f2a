// Package loop implements the single-threaded, phase-ordered event loop
// that drives timers, host I/O completions, immediates, and nextTick
// callbacks, draining the promise microtask queue after every phase
// (spec.md §4.5, §5).
//
// Grounded on eventloop/loop.go's tick/safeExecute structure: one
// goroutine owns the loop, every callback runs through a panic-recovering
// wrapper, and a thread-confinement check (isLoopThread, via
// getGoroutineID parsing runtime.Stack) guards methods that only make
// sense called from the loop's own goroutine.
package loop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/otter/internal/otlog"
	"github.com/joeycumines/otter/internal/promise"
	"github.com/joeycumines/otter/internal/vmerr"
)

// Handle identifies a scheduled timer/immediate/nextTick task, returned so
// the caller can cancel it later (spec.md §4.5: "each scheduled task
// returns an opaque handle").
type Handle uint64

// Loop is one VmContext's event-loop scheduler. Not safe for concurrent
// driving by two goroutines; external submission (SubmitIO) is the only
// thread-safe entry point, mirroring the teacher's ingress-queue split
// between the loop goroutine and everyone else.
type Loop struct {
	mu sync.Mutex

	nextTicks []*task
	timers    timerHeap
	immediates []*task
	closeCbs  []*task

	ioMu      sync.Mutex
	ioPending []func()

	microtasks *promise.Queue

	nextHandle atomic.Uint64
	cancelled  map[Handle]bool

	log *otlog.Logger

	overload *catrate.Limiter
	onOverload func(error)

	loopGoroutine atomic.Uint64

	clock func() time.Time
}

type task struct {
	handle   Handle
	fn       func()
	repeat   time.Duration
	deadline time.Time
}

// timerHeap is a min-heap of pending timers ordered by deadline, exactly
// the shape of the teacher's timerHeap.
type timerHeap []*task

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*task)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Option configures a Loop at construction, the same functional-options
// shape as the teacher's LoopOption.
type Option func(*Loop)

// WithLogger installs a diagnostics logger.
func WithLogger(l *otlog.Logger) Option { return func(lp *Loop) { lp.log = l } }

// WithMicrotaskQueue binds the promise microtask/job queue this loop
// drains after every phase; required for a functioning loop.
func WithMicrotaskQueue(q *promise.Queue) Option { return func(lp *Loop) { lp.microtasks = q } }

// WithOverloadLimiter installs a sliding-window rate limiter (spec.md's
// DOMAIN STACK wiring of go-catrate): submissions sustained past the
// configured rates trigger onOverload instead of a bare counter threshold,
// so a single burst doesn't page anyone.
func WithOverloadLimiter(rates map[time.Duration]int, onOverload func(error)) Option {
	return func(lp *Loop) {
		lp.overload = catrate.NewLimiter(rates)
		lp.onOverload = onOverload
	}
}

// WithClock overrides the loop's notion of "now", for deterministic timer
// tests.
func WithClock(now func() time.Time) Option { return func(lp *Loop) { lp.clock = now } }

// New builds a Loop. A microtask queue must be supplied via
// WithMicrotaskQueue or the microtask drain after each phase silently
// no-ops.
func New(opts ...Option) *Loop {
	l := &Loop{
		cancelled: make(map[Handle]bool),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = otlog.NewDiscard()
	}
	return l
}

func (l *Loop) now() time.Time { return l.clock() }

func (l *Loop) newHandle() Handle { return Handle(l.nextHandle.Add(1)) }

// NextTick schedules fn for the highest-priority phase (spec.md §4.5
// phase 1), run before any timer/I/O/immediate callback in the current
// tick.
func (l *Loop) NextTick(fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.newHandle()
	l.nextTicks = append(l.nextTicks, &task{handle: h, fn: fn})
	return h
}

// SetTimeout schedules fn to run once delay has elapsed.
func (l *Loop) SetTimeout(delay time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.newHandle()
	t := &task{handle: h, fn: fn, deadline: l.now().Add(delay)}
	heap.Push(&l.timers, t)
	l.log.TimerScheduled(uint64(h), delay)
	return h
}

// SetInterval schedules fn to run every interval, re-arming itself after
// each fire (spec.md §4.5 phase 2: "if it is repeating, re-inserts with
// deadline + interval").
func (l *Loop) SetInterval(interval time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.newHandle()
	t := &task{handle: h, fn: fn, deadline: l.now().Add(interval), repeat: interval}
	heap.Push(&l.timers, t)
	l.log.TimerScheduled(uint64(h), interval)
	return h
}

// SetImmediate schedules fn for the immediates phase (spec.md §4.5 phase
// 4), which runs after I/O callbacks but before close callbacks in the
// same tick.
func (l *Loop) SetImmediate(fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.newHandle()
	l.immediates = append(l.immediates, &task{handle: h, fn: fn})
	return h
}

// OnClose schedules a resource-finalization callback (spec.md §4.5 phase
// 5), run after every other phase in the tick.
func (l *Loop) OnClose(fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.newHandle()
	l.closeCbs = append(l.closeCbs, &task{handle: h, fn: fn})
	return h
}

// SubmitIO enqueues a host async-I/O completion callback, the one
// thread-safe entry point meant to be called from a background poller
// goroutine (spec.md §5: "host I/O completions arrive on an MPSC channel
// and are queued, not invoked directly from the I/O thread").
func (l *Loop) SubmitIO(fn func()) {
	l.ioMu.Lock()
	l.ioPending = append(l.ioPending, fn)
	l.ioMu.Unlock()
	if l.overload != nil {
		if _, ok := l.overload.Allow("io"); !ok && l.onOverload != nil {
			l.onOverload(&vmerr.RangeError{Message: "event loop I/O submission rate exceeded"})
			l.log.LoopOverload(&vmerr.RangeError{Message: "sustained I/O submission overload"})
		}
	}
}

// Clear cancels a previously scheduled task by handle. Safe to call for
// an already-fired or unknown handle (no-op).
func (l *Loop) Clear(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled[h] = true
}

func (l *Loop) isCancelled(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancelled[h] {
		delete(l.cancelled, h)
		return true
	}
	return false
}

// Idle reports whether every queue is empty and no I/O is outstanding
// (spec.md §4.5: "loop exits when all queues are empty AND no pending I/O
// is outstanding AND no pending async contexts block completion" — the
// async-context half of that is the isolate package's job to check before
// calling RunUntilIdle again).
func (l *Loop) Idle() bool {
	l.mu.Lock()
	empty := len(l.nextTicks) == 0 && len(l.timers) == 0 && len(l.immediates) == 0 && len(l.closeCbs) == 0
	l.mu.Unlock()
	l.ioMu.Lock()
	ioEmpty := len(l.ioPending) == 0
	l.ioMu.Unlock()
	return empty && ioEmpty && (l.microtasks == nil || l.microtasks.Empty())
}

// RunUntilIdle runs ticks until Idle() holds, or ctx is done, or the
// optional deadline elapses (spec.md §4.5: "a host-provided overall
// deadline may cap a single run_until_idle call; exceeding it raises
// TimedOut").
func (l *Loop) RunUntilIdle(ctx context.Context, deadline time.Time) error {
	l.loopGoroutine.Store(getGoroutineID())
	defer l.loopGoroutine.Store(0)

	for !l.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !deadline.IsZero() && l.now().After(deadline) {
			return &vmerr.TimedOut{Message: "run_until_idle exceeded its deadline"}
		}
		l.tick()
	}
	return nil
}

// tick runs exactly one phase cycle, with a microtask drain after each
// phase (spec.md §4.5: "Phases, executed in order each tick, each
// followed by a full microtask drain").
func (l *Loop) tick() {
	l.runPhase(l.popNextTicks())
	l.drainMicrotasks()

	l.runTimers()
	l.drainMicrotasks()

	l.runPhase(l.popIO())
	l.drainMicrotasks()

	l.runPhase(l.popImmediates())
	l.drainMicrotasks()

	l.runPhase(l.popCloseCallbacks())
	l.drainMicrotasks()
}

func (l *Loop) popNextTicks() []*task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.nextTicks
	l.nextTicks = nil
	return out
}

func (l *Loop) popImmediates() []*task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.immediates
	l.immediates = nil
	return out
}

func (l *Loop) popCloseCallbacks() []*task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.closeCbs
	l.closeCbs = nil
	return out
}

func (l *Loop) popIO() []*task {
	l.ioMu.Lock()
	fns := l.ioPending
	l.ioPending = nil
	l.ioMu.Unlock()
	out := make([]*task, len(fns))
	for i, fn := range fns {
		out[i] = &task{fn: fn}
	}
	return out
}

func (l *Loop) runPhase(tasks []*task) {
	for _, t := range tasks {
		if t.handle != 0 && l.isCancelled(t.handle) {
			continue
		}
		l.safeExecute(t.fn)
	}
}

// runTimers pops every timer whose deadline has elapsed, firing each in
// deadline order, re-inserting repeating timers with deadline+interval.
func (l *Loop) runTimers() {
	now := l.now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*task)
		l.mu.Unlock()

		if l.isCancelled(t.handle) {
			continue
		}
		l.log.TimerFired(uint64(t.handle))
		l.safeExecute(t.fn)

		if t.repeat > 0 && !l.isCancelled(t.handle) {
			t.deadline = t.deadline.Add(t.repeat)
			l.mu.Lock()
			heap.Push(&l.timers, t)
			l.mu.Unlock()
		}
	}
}

func (l *Loop) drainMicrotasks() {
	if l.microtasks == nil {
		return
	}
	l.safeExecute(l.microtasks.Drain)
}

// safeExecute runs fn with panic recovery, logging and swallowing the
// panic rather than bringing down the whole loop (spec.md's event loop is
// meant to survive one misbehaving callback), the same shape as the
// teacher's safeExecute/safeExecuteFn.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.TaskPanicked(0, r)
		}
	}()
	fn()
}

// isLoopThread reports whether the calling goroutine is the one currently
// driving RunUntilIdle, mirroring the teacher's isLoopThread/
// getGoroutineID thread-confinement check.
func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutine.Load()
	return id != 0 && id == getGoroutineID()
}

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
