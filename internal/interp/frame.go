// Package interp implements the register-based bytecode interpreter:
// decode loop, call frames, exception unwinding, and generator/async
// suspension (spec.md §4.3).
package interp

import (
	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/value"
)

// Frame is one activation record: a function, its program counter, a
// register window, captured upvalues, and the call-time context spec.md
// §4.3 requires ("function index + module, program counter, a register
// window ... captured upvalues, return slot in the caller, this,
// is_construct").
type Frame struct {
	Module      *bytecode.Module
	Fn          *bytecode.Function
	PC          int
	Registers   []value.Value
	Upvalues    []*Upvalue
	This        value.Value
	IsConstruct bool

	// ReturnReg is the caller's register that receives this frame's result;
	// -1 for the outermost frame (its result is the Run() return value).
	ReturnReg int

	activeTry []activeTryRegion
}

type activeTryRegion struct {
	region bytecode.TryRegion
}

// Upvalue is a shared mutable cell a closure captures by reference, open
// while its owning frame is live and closed (detached) on frame return.
type Upvalue struct {
	open   bool
	frame  *Frame
	index  int
	closed value.Value
}

func (u *Upvalue) Get() value.Value {
	if u.open {
		return u.frame.Registers[u.index]
	}
	return u.closed
}

func (u *Upvalue) Set(v value.Value) {
	if u.open {
		u.frame.Registers[u.index] = v
		return
	}
	u.closed = v
}

// Close detaches the upvalue from its frame, copying out the current value
// so it survives the frame's return.
func (u *Upvalue) Close() {
	if u.open {
		u.closed = u.frame.Registers[u.index]
		u.open = false
		u.frame = nil
	}
}

// NewFrame allocates an activation record for fn with a fresh, zeroed
// register window sized to fn.NumRegisters.
func NewFrame(mod *bytecode.Module, fn *bytecode.Function, this value.Value, isConstruct bool, returnReg int) *Frame {
	regs := make([]value.Value, fn.NumRegisters)
	for i := range regs {
		regs[i] = value.Undef()
	}
	return &Frame{
		Module:      mod,
		Fn:          fn,
		Registers:   regs,
		This:        this,
		IsConstruct: isConstruct,
		ReturnReg:   returnReg,
	}
}

// findHandler returns the catch target PC for pc, if fn's try-region table
// covers it (spec.md §4.3: "walk the active frame's try-region table for a
// handler covering the current PC").
func findHandler(fn *bytecode.Function, pc int) (int, bool) {
	for _, r := range fn.TryRegions {
		if pc >= r.Start && pc < r.End {
			return r.Handler, true
		}
	}
	return 0, false
}
