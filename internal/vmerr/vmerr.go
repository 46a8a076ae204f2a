// Package vmerr defines the engine's error kinds. Each type follows the
// Cause/Message + Error()/Unwrap() shape used throughout the eventloop
// teacher's errors.go, so the whole family composes with errors.Is/As and
// fmt.Errorf("%w", ...) the same way.
package vmerr

import (
	"errors"
	"fmt"
)

// Catchable reports whether a value thrown from the interpreter may be
// caught by a JS try/catch, as opposed to unwinding straight out of the
// script (spec §7: OutOfMemory, TimedOut, Cancelled are not catchable).
type Catchable interface {
	JSCatchable() bool
}

// TypeError mirrors JavaScript's TypeError.
type TypeError struct {
	Cause   error
	Message string
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}
func (e *TypeError) Unwrap() error  { return e.Cause }
func (e *TypeError) JSCatchable() bool { return true }

// SyntaxError mirrors JavaScript's SyntaxError. The core itself never
// produces one (parsing is out of scope) but the kind is retained so a
// compiled Module may still carry a SyntaxError recorded by the external
// compiler and re-thrown at load time.
type SyntaxError struct {
	Cause   error
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Message == "" {
		return "syntax error"
	}
	return e.Message
}
func (e *SyntaxError) Unwrap() error     { return e.Cause }
func (e *SyntaxError) JSCatchable() bool { return true }

// RangeError mirrors JavaScript's RangeError.
type RangeError struct {
	Cause   error
	Message string
}

func (e *RangeError) Error() string {
	if e.Message == "" {
		return "range error"
	}
	return e.Message
}
func (e *RangeError) Unwrap() error     { return e.Cause }
func (e *RangeError) JSCatchable() bool { return true }

// ReferenceError mirrors JavaScript's ReferenceError.
type ReferenceError struct {
	Cause   error
	Message string
}

func (e *ReferenceError) Error() string {
	if e.Message == "" {
		return "reference error"
	}
	return e.Message
}
func (e *ReferenceError) Unwrap() error     { return e.Cause }
func (e *ReferenceError) JSCatchable() bool { return true }

// OutOfMemory is fatal to the current script: the GC could not satisfy an
// allocation within its configured ceiling.
type OutOfMemory struct {
	Requested uintptr
	Ceiling   uintptr
}

func (e *OutOfMemory) Error() string {
	return fmt.Sprintf("out of memory: requested %d bytes, ceiling %d", e.Requested, e.Ceiling)
}
func (e *OutOfMemory) JSCatchable() bool { return false }

// StackOverflow is raised when call depth exceeds the configured limit.
// Unlike OutOfMemory it is JS-catchable.
type StackOverflow struct {
	Depth int
	Limit int
}

func (e *StackOverflow) Error() string {
	return fmt.Sprintf("stack overflow: depth %d exceeds limit %d", e.Depth, e.Limit)
}
func (e *StackOverflow) JSCatchable() bool { return true }

// TimedOut is returned to the host when run_until_idle's budget is
// exceeded. It is not JS-catchable.
type TimedOut struct {
	Cause   error
	Message string
}

func (e *TimedOut) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}
func (e *TimedOut) Unwrap() error     { return e.Cause }
func (e *TimedOut) JSCatchable() bool { return false }

// NotCloneable is raised by structured clone when it encounters a kind it
// cannot copy (function, symbol, proxy, promise, generator). JS-catchable
// as a TypeError per spec §6.
type NotCloneable struct {
	Kind string
}

func (e *NotCloneable) Error() string {
	return fmt.Sprintf("could not clone value of kind %q", e.Kind)
}
func (e *NotCloneable) JSCatchable() bool { return true }

// PermissionDenied is raised by host extensions consulting a VmContext's
// Capabilities. JS-catchable.
type PermissionDenied struct {
	Resource string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Resource)
}
func (e *PermissionDenied) JSCatchable() bool { return true }

// Cancelled signals cooperative cancellation of a running script or
// pending async context. It unwinds out, bypassing handlers.
type Cancelled struct {
	Cause error
}

func (e *Cancelled) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cancelled: %v", e.Cause)
	}
	return "cancelled"
}
func (e *Cancelled) Unwrap() error     { return e.Cause }
func (e *Cancelled) JSCatchable() bool { return false }

// AggregateError wraps multiple rejection reasons, used by Promise.any.
// Kept byte-for-byte in spirit with the teacher's AggregateError, including
// its cross-version errors.Is behavior: it matches if target is itself an
// *AggregateError, or if any wrapped error matches.
type AggregateError struct {
	Errors  []error
	Message string
}

func (e *AggregateError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("all promises were rejected (%d errors)", len(e.Errors))
	}
	return e.Message
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	if errors.As(target, &aggTarget) {
		return true
	}
	for _, err := range e.Errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (e *AggregateError) JSCatchable() bool { return true }

// PanicError wraps a recovered panic value, matching the teacher's
// PanicError: if the recovered value is itself an error, Unwrap exposes it
// for errors.Is/As.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// WrapError wraps an error with a message, same convenience the teacher
// provides: errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// IsFatal reports whether err should bypass JS handler tables entirely
// (OutOfMemory, TimedOut, Cancelled), per spec §7.
func IsFatal(err error) bool {
	var c Catchable
	if errors.As(err, &c) {
		return !c.JSCatchable()
	}
	return false
}
