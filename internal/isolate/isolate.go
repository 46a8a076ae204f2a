// Package isolate implements VmContext: the thread-confined owner of one
// engine instance's heap, intrinsics, global object, provider/symbol
// registries, pending async contexts, and event-loop handle (spec.md
// §4.7). Every other package stays decoupled from the others via the
// seam variables wired up here — VmContext is the one place that knows
// about all of them at once.
package isolate

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/clone"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/interp"
	"github.com/joeycumines/otter/internal/loop"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/otlog"
	"github.com/joeycumines/otter/internal/promise"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

// Capabilities is the permission set spec.md §4.7 describes: each field
// is either empty (deny) or a list of allowed resource names, consulted
// by host extensions, never by the core itself.
type Capabilities struct {
	FSRead     []string
	FSWrite    []string
	Net        []string
	Env        []string
	Subprocess bool
	FFI        bool
	HRTime     bool
}

// Allow reports whether resource is permitted under the named capability
// list (fs_read, fs_write, net, env).
func (c Capabilities) Allow(list []string, resource string) bool {
	for _, r := range list {
		if r == "*" || r == resource {
			return true
		}
	}
	return false
}

// Option configures a VmContext at construction.
type Option func(*VmContext)

func WithLogger(l *otlog.Logger) Option { return func(c *VmContext) { c.log = l } }
func WithGCConfig(cfg gc.Config) Option { return func(c *VmContext) { c.gcConfig = cfg } }
func WithCapabilities(caps Capabilities) Option {
	return func(c *VmContext) { c.Capabilities = caps }
}
func WithLoopOptions(opts ...loop.Option) Option {
	return func(c *VmContext) { c.loopOpts = append(c.loopOpts, opts...) }
}

// Provider resolves a module specifier to compiled bytecode, the hook
// spec.md §4.7's "provider registry" names for host-supplied module
// loading.
type Provider interface {
	Resolve(specifier string) (*bytecode.Module, error)
}

// VmContext is one isolated engine instance: spec.md §4.7's "owns the
// memory manager, intrinsics ..., the global object, the provider
// registry, the symbol registry ..., pending async contexts, and the
// event-loop handle." It is thread-confined: ownerGoroutine records the
// creating goroutine's ID, and every entry point asserts the caller is
// still on it, the same discipline eventloop/loop.go's isLoopThread
// enforces for its Loop.
type VmContext struct {
	Heap        *gc.Heap
	RootShape   *shape.Shape
	Globals     *object.Object
	GlobalsRef  value.Value
	ObjectProto value.Value
	VM          *interp.Interpreter
	Queue       *promise.Queue
	Loop        *loop.Loop

	Capabilities Capabilities

	providers   map[string]Provider
	symbols     map[string]uint64
	nextSymbol  uint64

	log      *otlog.Logger
	gcConfig gc.Config
	loopOpts []loop.Option

	ownerGoroutine string
}

// New constructs a VmContext: allocates the heap, the root shape, the
// global object and its prototype, wires internal/promise's and
// internal/object's seam variables to this context's live interpreter,
// and registers the heap's GC roots (globals, frame registers, pending
// async contexts).
func New(opts ...Option) *VmContext {
	c := &VmContext{
		gcConfig:   gc.DefaultConfig(),
		providers:  map[string]Provider{},
		symbols:    map[string]uint64{},
		ownerGoroutine: currentGoroutineID(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = otlog.NewDiscard()
	}

	c.Heap = gc.NewWithConfig(c.gcConfig, c.log)
	c.RootShape = shape.Root()

	objectProtoShape := c.RootShape
	objectProto := object.New(objectProtoShape, value.Null_())
	objectProtoRef := c.Heap.Alloc(objectProto, 64)
	c.ObjectProto = value.FromRef(objectProtoRef, gc.TagObject)

	c.Globals = object.New(c.RootShape, c.ObjectProto)
	globalsRef := c.Heap.Alloc(c.Globals, 128)
	c.GlobalsRef = value.FromRef(globalsRef, gc.TagObject)

	c.Queue = promise.NewQueue(c.Heap)
	promise.SetLogger(c.log)

	c.VM = interp.New(c.Heap, c.RootShape, c.Globals, c.GlobalsRef, c.Queue, interp.WithLogger(c.log))
	c.VM.ObjectProto = c.ObjectProto
	c.VM.InstallRuntimeSeams()

	object.InvokeProxyTrap = func(handler value.Value, trap string, args []value.Value) (value.Value, bool, error) {
		h, ok := handlerObject(c, handler)
		if !ok {
			return value.Undef(), false, nil
		}
		fn, err := h.Get(c.Heap, shape.StringKey(trap), c.VM.InvokeAccessor)
		if err != nil || fn.IsUndefined() || !c.VM.IsCallable(fn) {
			return value.Undef(), false, err
		}
		res, err := c.VM.Call(fn, value.Undef(), args)
		return res, true, err
	}

	c.Loop = loop.New(append([]loop.Option{
		loop.WithLogger(c.log),
		loop.WithMicrotaskQueue(c.Queue),
	}, c.loopOpts...)...)

	c.Heap.RegisterRoot(func() []gc.Ref {
		var roots []gc.Ref
		if c.GlobalsRef.IsHeap() {
			roots = append(roots, c.GlobalsRef.Ref())
		}
		if c.ObjectProto.IsHeap() {
			roots = append(roots, c.ObjectProto.Ref())
		}
		roots = append(roots, c.VM.PendingAsyncRoots()...)
		return roots
	})

	return c
}

func handlerObject(c *VmContext, v value.Value) (*object.Object, bool) {
	if !v.IsHeap() {
		return nil, false
	}
	cell := c.Heap.Get(v.Ref())
	if cell == nil {
		return nil, false
	}
	o, ok := cell.(*object.Object)
	return o, ok
}

// RegisterProvider installs a module loader under name (spec.md §4.7's
// provider registry), used by internal/jsbridge's import/require bridge.
func (c *VmContext) RegisterProvider(name string, p Provider) {
	c.assertOwnerThread()
	c.providers[name] = p
}

func (c *VmContext) Resolve(provider, specifier string) (*bytecode.Module, error) {
	c.assertOwnerThread()
	p, ok := c.providers[provider]
	if !ok {
		return nil, &vmerr.ReferenceError{Message: fmt.Sprintf("no provider registered for %q", provider)}
	}
	return p.Resolve(specifier)
}

// SymbolFor implements Symbol.for(key): returns the same symbol id for
// repeated calls with the same key, within this context's own registry
// (spec.md §4.7's "symbol registry"; deliberately per-VmContext, not
// process-global, per SPEC_FULL.md's global-mutable-state decision).
func (c *VmContext) SymbolFor(key string) uint64 {
	c.assertOwnerThread()
	if id, ok := c.symbols[key]; ok {
		return id
	}
	c.nextSymbol++
	c.symbols[key] = c.nextSymbol
	return c.nextSymbol
}

// Eval compiles is out of scope (spec.md §1): Eval runs an already
// compiled Module's entry function synchronously, to completion,
// draining the microtask queue before returning — the "synchronous eval"
// entry point spec.md §5 describes.
func (c *VmContext) Eval(mod *bytecode.Module) (value.Value, error) {
	c.assertOwnerThread()
	return c.VM.RunModule(mod, c.GlobalsRef)
}

// StructuredClone implements spec.md §6's structured-clone wire format
// (worker transfers, postMessage, history state): a deep recursive copy
// that preserves internal graph identity within the clone, shares (not
// copies) SharedArrayBuffers, and rejects functions, symbols, promises,
// proxies, and generators with NotCloneable.
func (c *VmContext) StructuredClone(v value.Value) (value.Value, error) {
	c.assertOwnerThread()
	return clone.Clone(c.Heap, c.RootShape, c.ObjectProto, v)
}

// AssertOwnerThread panics if called from a goroutine other than the one
// that constructed this VmContext. Exported so sibling packages that
// extend a VmContext (internal/jsbridge) can enforce the same
// confinement discipline at their own entry points.
func (c *VmContext) AssertOwnerThread() { c.assertOwnerThread() }

// assertOwnerThread panics if called from a goroutine other than the one
// that constructed this VmContext, the same thread-confinement discipline
// eventloop/loop.go's isLoopThread enforces (spec.md §4.7: "enforced via
// a process-wide thread-local pointer").
func (c *VmContext) assertOwnerThread() {
	if got := currentGoroutineID(); got != c.ownerGoroutine {
		panic(fmt.Sprintf("otter: VmContext accessed from goroutine %s, owned by %s", got, c.ownerGoroutine))
	}
}

// currentGoroutineID parses the current goroutine's numeric ID out of
// runtime.Stack's header line, the same trick eventloop/loop.go's
// getGoroutineID uses (there is no supported API for this; it backs a
// confinement assertion, never relied on for correctness).
func currentGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]
	// "goroutine 123 [running]:"
	const prefix = "goroutine "
	if len(line) < len(prefix) {
		return ""
	}
	line = line[len(prefix):]
	end := 0
	for end < len(line) && line[end] != ' ' {
		end++
	}
	if _, err := strconv.ParseUint(string(line[:end]), 10, 64); err != nil {
		return ""
	}
	return string(line[:end])
}
