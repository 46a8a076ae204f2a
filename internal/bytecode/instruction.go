// Package bytecode defines the register-based instruction encoding, opcode
// table, and inline-cache/type-feedback slots described in spec.md §4.3.
//
// Instruction layout follows a Lua-style 32-bit word with four addressing
// formats:
//
//	iABC:  [8-bit op][8-bit A][8-bit B][8-bit C]    three-register ops
//	iABx:  [8-bit op][8-bit A][16-bit Bx]            constant/jump targets
//	iAsBx: [8-bit op][8-bit A][16-bit sBx]           signed jump offsets
//	iAx:   [8-bit op][24-bit Ax]                     extra-large operands
package bytecode

// OpCode identifies one interpreter operation.
type OpCode uint8

const (
	// Constants and literals.
	OpLoadConst OpCode = iota // LOADK   R(A) = K(Bx)
	OpLoadInt                 // LOADI   R(A) = sBx (small integer literal, no const pool)
	OpLoadNil                 // LOADNIL R(A) = undefined
	OpLoadNull                // LOADNULL R(A) = null
	OpLoadBool                // LOADBOOL R(A) = bool(B)
	OpMove                    // MOVE    R(A) = R(B)

	// Arithmetic. All three iABC operands are registers, so no
	// feedback-vector slot index is encoded for the site.
	OpAdd // ADD  R(A) = R(B) + R(C)
	OpSub // SUB  R(A) = R(B) - R(C)
	OpMul // MUL  R(A) = R(B) * R(C)
	OpDiv // DIV  R(A) = R(B) / R(C)
	OpMod // MOD  R(A) = R(B) % R(C)
	OpNeg // NEG  R(A) = -R(B)

	// Comparisons.
	OpEq  // EQ  R(A) = R(B) === R(C)
	OpNe  // NE  R(A) = R(B) !== R(C)
	OpLt  // LT  R(A) = R(B) < R(C)
	OpLe  // LE  R(A) = R(B) <= R(C)
	OpGt  // GT  R(A) = R(B) > R(C)
	OpGe  // GE  R(A) = R(B) >= R(C)
	OpNot // NOT R(A) = !truthy(R(B))

	// Control flow. Jumps carry a signed PC-relative offset (iAsBx).
	OpJump         // JMP sBx              pc += sBx
	OpJumpIfFalse  // JMPF  R(A) sBx       if !truthy(R(A)) pc += sBx
	OpJumpIfTrue   // JMPT  R(A) sBx       if truthy(R(A)) pc += sBx
	OpJumpIfNullish // JMPN R(A) sBx       if R(A) is undefined/null, pc += sBx

	// Property access by key. No operand carries a feedback-vector slot
	// for the access site's inline cache.
	OpGetProp   // GETPROP  R(A) = R(B)[K(C)]     (C: const-pool key index)
	OpSetProp   // SETPROP  R(B)[K(A)] = R(C)
	OpGetIndex  // GETIDX   R(A) = R(B)[R(C)]     (computed key)
	OpSetIndex  // SETIDX   R(A)[R(B)] = R(C)
	OpGetGlobal // GETGLOBAL R(A) = Globals[K(Bx)]
	OpSetGlobal // SETGLOBAL Globals[K(Bx)] = R(A)
	OpGetUpval  // GETUPVAL R(A) = Upvalue[B]
	OpSetUpval  // SETUPVAL Upvalue[B] = R(A)
	OpDeleteProp // DELPROP R(A) = delete R(B)[K(C)]

	// Object/array construction.
	OpNewObject // NEWOBJECT R(A) = {}
	OpNewArray  // NEWARRAY  R(A) = [] (capacity hint B)
	OpNewClosure // CLOSURE  R(A) = closure(Proto[Bx], captured upvalues follow)

	// Calls.
	OpCall     // CALL     R(A) = R(A)(R(A+1)..R(A+B-1)), C=is_construct
	OpTailCall // TAILCALL return R(A)(R(A+1)..R(A+B-1))
	OpReturn   // RETURN   return R(A)

	// Exceptions.
	OpThrow      // THROW   throw R(A)
	OpTryBegin   // TRY     sBx: catch target pc+sBx
	OpTryEnd     // ENDTRY  pop current try region

	// Generators / async.
	OpYield // YIELD  R(A) = yield R(B)
	OpAwait // AWAIT  R(A) = await R(B)

	// Destructuring helpers.
	OpIterInit // ITERINIT R(A) = iterator(R(B))
	OpIterNext // ITERNEXT R(A), sBx: jump sBx if done

	opCodeCount
)

var opNames = [...]string{
	OpLoadConst:     "LOADK",
	OpLoadInt:       "LOADI",
	OpLoadNil:       "LOADNIL",
	OpLoadNull:      "LOADNULL",
	OpLoadBool:      "LOADBOOL",
	OpMove:          "MOVE",
	OpAdd:           "ADD",
	OpSub:           "SUB",
	OpMul:           "MUL",
	OpDiv:           "DIV",
	OpMod:           "MOD",
	OpNeg:           "NEG",
	OpEq:            "EQ",
	OpNe:            "NE",
	OpLt:            "LT",
	OpLe:            "LE",
	OpGt:            "GT",
	OpGe:            "GE",
	OpNot:           "NOT",
	OpJump:          "JMP",
	OpJumpIfFalse:   "JMPF",
	OpJumpIfTrue:    "JMPT",
	OpJumpIfNullish: "JMPN",
	OpGetProp:       "GETPROP",
	OpSetProp:       "SETPROP",
	OpGetIndex:      "GETIDX",
	OpSetIndex:      "SETIDX",
	OpGetGlobal:     "GETGLOBAL",
	OpSetGlobal:     "SETGLOBAL",
	OpGetUpval:      "GETUPVAL",
	OpSetUpval:      "SETUPVAL",
	OpDeleteProp:    "DELPROP",
	OpNewObject:     "NEWOBJECT",
	OpNewArray:      "NEWARRAY",
	OpNewClosure:    "CLOSURE",
	OpCall:          "CALL",
	OpTailCall:      "TAILCALL",
	OpReturn:        "RETURN",
	OpThrow:         "THROW",
	OpTryBegin:      "TRY",
	OpTryEnd:        "ENDTRY",
	OpYield:         "YIELD",
	OpAwait:         "AWAIT",
	OpIterInit:      "ITERINIT",
	OpIterNext:      "ITERNEXT",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "UNKNOWN"
}

// Instruction is a single packed 32-bit bytecode word.
type Instruction uint32

const (
	posOp = 0
	posA  = 8
	posB  = 16
	posC  = 24

	sizeOp = 8
	sizeA  = 8
	sizeB  = 8
	sizeC  = 8
	sizeBx = 16

	maskOp = (1 << sizeOp) - 1
	maskA  = (1 << sizeA) - 1
	maskB  = (1 << sizeB) - 1
	maskC  = (1 << sizeC) - 1
	maskBx = (1 << sizeBx) - 1

	// MaxRegisters is the largest register count (spec.md §4.3: "register
	// count (≤ 256)") a single function may declare, since A/B/C are 8-bit.
	MaxRegisters = maskA + 1

	maxArgBx  = maskBx
	maxArgSBx = maxArgBx >> 1
)

func EncodeABC(op OpCode, a, b, c uint8) Instruction {
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(b)<<posB |
		Instruction(c)<<posC
}

func EncodeABx(op OpCode, a uint8, bx uint16) Instruction {
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(bx)<<posB
}

func EncodeAsBx(op OpCode, a uint8, sbx int32) Instruction {
	return EncodeABx(op, a, uint16(sbx+maxArgSBx))
}

func EncodeAx(op OpCode, ax uint32) Instruction {
	return Instruction(op) | Instruction(ax)<<posA
}

func (i Instruction) OpCode() OpCode { return OpCode(i & maskOp) }
func (i Instruction) A() uint8       { return uint8((i >> posA) & maskA) }
func (i Instruction) B() uint8       { return uint8((i >> posB) & maskB) }
func (i Instruction) C() uint8       { return uint8((i >> posC) & maskC) }
func (i Instruction) Bx() uint16     { return uint16((i >> posB) & maskBx) }
func (i Instruction) SBx() int32     { return int32(i.Bx()) - maxArgSBx }
func (i Instruction) Ax() uint32     { return uint32((i >> posA) & ((1 << 24) - 1)) }
