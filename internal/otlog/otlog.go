// Package otlog is the structured-logging facade shared by every engine
// package. It plays the role the eventloop teacher's hand-rolled Logger
// interface and LogEntryBuilder play, but is backed by logiface (and its
// stumpy backend) instead of a bespoke ANSI/JSON writer.
package otlog

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is a nil-safe structured logger. A nil *Logger behaves as a no-op,
// the same way the teacher's code treated an unset global logger.
type Logger struct {
	base *logiface.Logger[*stumpy.Event]
}

// New wraps an existing stumpy-backed logiface logger.
func New(base *logiface.Logger[*stumpy.Event]) *Logger {
	return &Logger{base: base}
}

// NewStderr builds the default logger: JSON lines to stderr via stumpy.
func NewStderr() *Logger {
	return New(stumpy.L.New(stumpy.L.WithStumpy()))
}

// NewDiscard builds a logger whose level is disabled, so construction of
// builders is cheap and nothing is ever written.
func NewDiscard() *Logger {
	return New(stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled)))
}

func (l *Logger) ok() bool { return l != nil && l.base != nil }

// Entry is the fluent builder returned by each level method, mirroring the
// teacher's LogEntryBuilder (LoopID/TaskID/TimerID/Field/Fields/Err/Build).
type Entry struct {
	b *logiface.Builder[*stumpy.Event]
}

func (e Entry) valid() bool { return e.b != nil }

// LoopID tags the entry with the owning event-loop's identity.
func (e Entry) LoopID(id uint64) Entry {
	if e.valid() {
		e.b = e.b.Uint64(`loop_id`, id)
	}
	return e
}

// TaskID tags the entry with a submitted task's sequence number.
func (e Entry) TaskID(id uint64) Entry {
	if e.valid() {
		e.b = e.b.Uint64(`task_id`, id)
	}
	return e
}

// TimerID tags the entry with a scheduled timer's handle.
func (e Entry) TimerID(id uint64) Entry {
	if e.valid() {
		e.b = e.b.Uint64(`timer_id`, id)
	}
	return e
}

// ShapeID tags the entry with a shape's identity, for IC/shape diagnostics.
func (e Entry) ShapeID(id uint64) Entry {
	if e.valid() {
		e.b = e.b.Uint64(`shape_id`, id)
	}
	return e
}

// GCCycle tags the entry with the current GC mark-version/cycle number.
func (e Entry) GCCycle(version uint64) Entry {
	if e.valid() {
		e.b = e.b.Uint64(`gc_cycle`, version)
	}
	return e
}

// Field attaches an arbitrary structured field.
func (e Entry) Field(key string, val any) Entry {
	if e.valid() {
		e.b = e.b.Any(key, val)
	}
	return e
}

// Str attaches a string field without the interface{} boxing Field incurs.
func (e Entry) Str(key, val string) Entry {
	if e.valid() {
		e.b = e.b.Str(key, val)
	}
	return e
}

// Dur attaches a duration field.
func (e Entry) Dur(key string, val time.Duration) Entry {
	if e.valid() {
		e.b = e.b.Dur(key, val)
	}
	return e
}

// Err attaches an error to the entry.
func (e Entry) Err(err error) Entry {
	if e.valid() && err != nil {
		e.b = e.b.Err(err)
	}
	return e
}

// Log emits the entry with the given message. A no-op on a disabled level
// or a nil logger chain.
func (e Entry) Log(msg string) {
	if e.valid() {
		e.b.Log(msg)
	}
}

func (l *Logger) build(lvl logiface.Level) Entry {
	if !l.ok() {
		return Entry{}
	}
	switch lvl {
	case logiface.LevelDebug:
		return Entry{l.base.Debug()}
	case logiface.LevelInformational:
		return Entry{l.base.Info()}
	case logiface.LevelWarning:
		return Entry{l.base.Warning()}
	case logiface.LevelError:
		return Entry{l.base.Err()}
	default:
		return Entry{l.base.Info()}
	}
}

func (l *Logger) Debug() Entry { return l.build(logiface.LevelDebug) }
func (l *Logger) Info() Entry  { return l.build(logiface.LevelInformational) }
func (l *Logger) Warn() Entry  { return l.build(logiface.LevelWarning) }
func (l *Logger) Error() Entry { return l.build(logiface.LevelError) }

// Domain-specific helpers, mirroring the teacher's LogTimerScheduled /
// LogPromiseResolved / LogTaskPanicked family in eventloop/logging.go.

func (l *Logger) TimerScheduled(id uint64, delay time.Duration) {
	l.Debug().TimerID(id).Dur(`delay`, delay).Log(`timer scheduled`)
}

func (l *Logger) TimerFired(id uint64) {
	l.Debug().TimerID(id).Log(`timer fired`)
}

func (l *Logger) TimerCanceled(id uint64) {
	l.Debug().TimerID(id).Log(`timer canceled`)
}

func (l *Logger) PromiseSettled(id uint64, rejected bool) {
	e := l.Debug().Field(`promise_id`, id)
	if rejected {
		e.Log(`promise rejected`)
	} else {
		e.Log(`promise fulfilled`)
	}
}

func (l *Logger) UnhandledRejection(id uint64, reason any) {
	l.Warn().Field(`promise_id`, id).Field(`reason`, reason).Log(`unhandled promise rejection`)
}

func (l *Logger) TaskPanicked(taskID uint64, recovered any) {
	l.Error().TaskID(taskID).Field(`recovered`, recovered).Log(`task panicked`)
}

func (l *Logger) MicrotaskDrained(count int) {
	l.Debug().Field(`count`, count).Log(`microtask queue drained`)
}

func (l *Logger) GCCycleStart(version uint64, threshold uintptr) {
	l.Debug().GCCycle(version).Field(`threshold`, threshold).Log(`gc cycle start`)
}

func (l *Logger) GCCycleEnd(version uint64, reclaimed, live uintptr) {
	l.Debug().GCCycle(version).Field(`reclaimed`, reclaimed).Field(`live`, live).Log(`gc cycle end`)
}

func (l *Logger) ShapeTransition(from, to uint64, key string) {
	l.Debug().ShapeID(from).Field(`to`, to).Str(`key`, key).Log(`shape transition`)
}

func (l *Logger) DictionaryPromotion(reason string) {
	l.Debug().Str(`reason`, reason).Log(`object promoted to dictionary mode`)
}

func (l *Logger) ICStateChange(site uint64, from, to string) {
	l.Debug().Field(`site`, site).Str(`from`, from).Str(`to`, to).Log(`inline cache state change`)
}

func (l *Logger) LoopOverload(err error) {
	l.Warn().Err(err).Log(`event loop overloaded`)
}
