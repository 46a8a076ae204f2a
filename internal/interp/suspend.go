package interp

import (
	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/value"
)

// SavedFrame is the serialized state of a suspended generator/async frame:
// everything needed to reinstate execution at the point of its last yield
// or await (spec.md §4.3: "function index, pc, locals, registers,
// upvalues, return register, this, is_construct, is_async, unique id").
type SavedFrame struct {
	ID          uint64
	Module      *bytecode.Module
	Fn          *bytecode.Function
	PC          int
	Registers   []value.Value
	Upvalues    []*Upvalue
	ReturnReg   int
	This        value.Value
	IsConstruct bool
	IsAsync     bool
}

var nextSuspendID uint64

func nextID() uint64 {
	nextSuspendID++
	return nextSuspendID
}

// suspend captures f's current state into a SavedFrame, for attaching to a
// generator object (on yield) or an AsyncContext (on await of a pending
// value).
func suspend(f *Frame, isAsync bool) *SavedFrame {
	return &SavedFrame{
		ID:          nextID(),
		Module:      f.Module,
		Fn:          f.Fn,
		PC:          f.PC,
		Registers:   f.Registers,
		Upvalues:    f.Upvalues,
		ReturnReg:   f.ReturnReg,
		This:        f.This,
		IsConstruct: f.IsConstruct,
		IsAsync:     isAsync,
	}
}

// resume rebuilds a live Frame from a SavedFrame, optionally placing a
// resumption value into resumeReg before continuing (spec.md §4.3: "On
// resume, reinstate the frame" / "placing the resolution in the designated
// resume register").
func resume(s *SavedFrame, resumeReg int, resumeValue value.Value) *Frame {
	f := &Frame{
		Module:      s.Module,
		Fn:          s.Fn,
		PC:          s.PC,
		Registers:   s.Registers,
		Upvalues:    s.Upvalues,
		This:        s.This,
		IsConstruct: s.IsConstruct,
		ReturnReg:   s.ReturnReg,
	}
	if resumeReg >= 0 && resumeReg < len(f.Registers) {
		f.Registers[resumeReg] = resumeValue
	}
	return f
}

// AsyncContext is the suspended state of an async function body awaiting a
// pending Promise: the saved frame plus the register that should receive
// the settlement value (or, on rejection, the point execution should
// rethrow from).
type AsyncContext struct {
	Saved       *SavedFrame
	ResumeReg   int
	ResultPromiseRef uint32 // gc.Ref of this async call's own result promise, opaque here
}
