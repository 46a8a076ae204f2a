// Generator objects: spec.md §4.3's suspend/resume machinery applied to
// `function*` bodies. Calling a generator function never runs any of its
// code — it allocates a Generator holding the unstarted call's closure,
// and execution only begins on the first Next.
package interp

import (
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/value"
)

// GenState tracks a generator's lifecycle.
type GenState uint8

const (
	GenSuspendedStart GenState = iota
	GenSuspendedYield
	GenRunning
	GenDone
)

// Generator is the heap cell backing a JS generator object.
type Generator struct {
	hdr gc.Header

	state   GenState
	closure *Closure
	this    value.Value
	args    []value.Value
	saved   *SavedFrame
}

func NewGenerator(c *Closure, this value.Value, args []value.Value) *Generator {
	return &Generator{hdr: gc.NewHeader(gc.TagGenerator), state: GenSuspendedStart, closure: c, this: this, args: args}
}

func (g *Generator) Header() *gc.Header { return &g.hdr }

func (g *Generator) Trace(mark func(gc.Ref)) {
	if g.saved == nil {
		return
	}
	for _, r := range g.saved.Registers {
		if r.IsHeap() {
			mark(r.Ref())
		}
	}
	for _, uv := range g.saved.Upvalues {
		if uv == nil {
			continue
		}
		if v := uv.Get(); v.IsHeap() {
			mark(v.Ref())
		}
	}
}

func (g *Generator) State() GenState { return g.state }

// IterResult is the {value, done} pair every Next/Return/Throw produces.
type IterResult struct {
	Value value.Value
	Done  bool
}

// Next resumes g with sentValue as the result of its last yield
// expression (ignored on the very first call), running until the next
// yield, a return, or an uncaught throw.
func (vm *Interpreter) Next(g *Generator, sentValue value.Value) (IterResult, error) {
	if g.state == GenDone {
		return IterResult{Value: value.Undef(), Done: true}, nil
	}
	if g.state == GenRunning {
		return IterResult{}, errGeneratorAlreadyRunning
	}

	g.state = GenRunning

	var f *Frame
	if g.saved == nil {
		f = NewFrame(g.closure.Module, g.closure.Fn, g.this, false, -1)
		f.Upvalues = g.closure.Upvalues
		bindArgs(f, g.closure.Fn, g.args)
	} else {
		f = resume(g.saved, g.resumeRegHint(), sentValue)
	}

	vm.frames = append(vm.frames, f)
	v, err := vm.run(f)
	vm.frames = vm.frames[:len(vm.frames)-1]

	if sig, ok := err.(*suspendSignal); ok && sig.isGenerator {
		g.saved = sig.frame
		g.state = GenSuspendedYield
		return IterResult{Value: v, Done: false}, nil
	}

	g.state = GenDone
	g.saved = nil
	if err != nil {
		return IterResult{}, err
	}
	return IterResult{Value: v, Done: true}, nil
}

// resumeRegHint reports which register receives the sent value on
// resume. Yield always writes its result into the instruction's own A
// register, mirroring how OpYield's R(A) is documented to receive the
// resumed value once execution continues past it.
func (g *Generator) resumeRegHint() int {
	return yieldResumeRegOf(g.saved)
}

func yieldResumeRegOf(s *SavedFrame) int {
	if s == nil || s.PC <= 0 || s.PC > len(s.Fn.Code) {
		return -1
	}
	instr := s.Fn.Code[s.PC-1]
	return int(instr.A())
}

type generatorError string

func (e generatorError) Error() string { return string(e) }

const errGeneratorAlreadyRunning = generatorError("generator is already running")
