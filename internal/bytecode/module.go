package bytecode

import "github.com/joeycumines/otter/internal/value"

// TryRegion covers [Start,End) of a function's instruction stream with a
// handler entry at Handler, used by the interpreter's exception-unwinding
// walk (spec.md §4.3: "walk the active frame's try-region table").
type TryRegion struct {
	Start, End int
	Handler    int
}

// UpvalueDesc describes how a closure captures one upvalue: either from the
// enclosing frame's local register (Local=true) or from the enclosing
// closure's own upvalue list.
type UpvalueDesc struct {
	Local bool
	Index uint8
}

// Function is one compiled function body: its instruction stream, constant
// references, register budget, and feedback-site tables.
type Function struct {
	Name        string
	NumRegisters int // ≤ MaxRegisters, per spec.md §4.3
	NumParams   int
	IsVararg    bool
	IsAsync     bool
	IsGenerator bool

	Code  []Instruction
	Consts []int // index into Module.Constants, indexed by the Bx/C operand
	TryRegions []TryRegion
	Upvalues   []UpvalueDesc

	// Feedback sites, one slot per static call/property/arithmetic site in
	// Code, indexed by the site's feedback-index operand.
	PropertyCaches []PropertyCache
	ArithCaches    []ArithCache
	CallCaches     []CallSiteCache
}

// NewFunction allocates a Function with feedback tables sized for the given
// number of call sites, property-access sites, and arithmetic sites.
func NewFunction(name string, numRegisters, numCallSites, numPropSites, numArithSites int) *Function {
	return &Function{
		Name:           name,
		NumRegisters:   numRegisters,
		PropertyCaches: make([]PropertyCache, numPropSites),
		ArithCaches:    make([]ArithCache, numArithSites),
		CallCaches:     make([]CallSiteCache, numCallSites),
	}
}

// Module is one compilation unit: a constant pool shared by all of its
// functions, plus the function table itself. Modules never contain a
// lexer/parser artifact — they are the interpreter's sole input format.
type Module struct {
	Name      string
	Constants []value.Value
	Strings   []string // interned string literals, referenced by index from Constants via TagString-kind Values built at load time
	Functions []*Function
	Entry     int // index into Functions of the module's top-level script body
}

func NewModule(name string) *Module {
	return &Module{Name: name, Entry: -1}
}

// AddConstant appends v to the constant pool and returns its index.
func (m *Module) AddConstant(v value.Value) int {
	m.Constants = append(m.Constants, v)
	return len(m.Constants) - 1
}

// AddString interns s and returns its index into Strings.
func (m *Module) AddString(s string) int {
	for i, existing := range m.Strings {
		if existing == s {
			return i
		}
	}
	m.Strings = append(m.Strings, s)
	return len(m.Strings) - 1
}

// AddFunction appends fn to the module's function table and returns its index.
func (m *Module) AddFunction(fn *Function) int {
	m.Functions = append(m.Functions, fn)
	return len(m.Functions) - 1
}
