// Command otter is a minimal demo entrypoint: it builds a VmContext,
// installs the timer/microtask globals, hand-assembles one small module
// (no compiler in scope per spec.md §1), evaluates it, schedules a
// setTimeout, and runs the event loop until idle — in the spirit of
// eventloop/examples/03_timers/main.go, not a CLI dispatcher, REPL, or
// package manager.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/isolate"
	"github.com/joeycumines/otter/internal/jsbridge"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/value"
)

func main() {
	ctx := isolate.New()

	bridge := jsbridge.New(ctx)
	if err := bridge.DefineTimers(); err != nil {
		panic(err)
	}

	mod := buildDemoModule(ctx)

	result, err := ctx.Eval(mod)
	if err != nil {
		panic(err)
	}
	fmt.Printf("demo module returned: %v\n", describe(result))

	global, err := ctx.VM.GetProperty(ctx.GlobalsRef, "result")
	if err != nil {
		panic(err)
	}
	fmt.Printf("global \"result\": %v\n", describe(global))

	ctx.Loop.SetTimeout(50*time.Millisecond, func() {
		fmt.Println("setTimeout fired")
	})

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctx.Loop.RunUntilIdle(runCtx, time.Now().Add(5*time.Second)); err != nil {
		panic(err)
	}
	fmt.Println("loop idle, exiting")
}

func describe(v value.Value) string {
	switch {
	case v.IsInt32():
		return fmt.Sprintf("%d", v.AsInt32())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.AsFloat())
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	default:
		return "<object>"
	}
}

// buildDemoModule hand-assembles: `var result = 2 + 3; return result;` at
// module scope, exercising LOADI/ADD/SETGLOBAL/RETURN (spec.md
// §4.3's instruction set, §6's module layout).
func buildDemoModule(ctx *isolate.VmContext) *bytecode.Module {
	mod := bytecode.NewModule("demo")

	resultStr := object.NewJSString("result")
	resultRef := ctx.Heap.Alloc(resultStr, uintptr(24+len(resultStr.Data)))
	resultConst := mod.AddConstant(value.FromRef(resultRef, gc.TagString))

	fn := bytecode.NewFunction("main", 3, 0, 0, 0)
	fn.Consts = []int{resultConst}
	fn.Code = []bytecode.Instruction{
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 0, 2),
		bytecode.EncodeAsBx(bytecode.OpLoadInt, 1, 3),
		bytecode.EncodeABC(bytecode.OpAdd, 2, 0, 1),
		bytecode.EncodeABx(bytecode.OpSetGlobal, 2, 0),
		bytecode.EncodeABC(bytecode.OpReturn, 2, 2, 0),
	}

	mod.Entry = mod.AddFunction(fn)
	return mod
}
