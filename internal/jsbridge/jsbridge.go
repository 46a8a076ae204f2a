// Package jsbridge implements the extension/module registration context
// spec.md §4.6 describes: "a registration context through which
// extensions (native modules) add: global functions, constructor/
// prototype pairs, namespace objects, and module loaders for custom
// protocols." It never imports a parser/compiler — extensions hand it
// already-compiled bytecode.Modules or pre-built native namespace
// objects, never source text.
//
// Grounded on goja-eventloop/adapter.go's Bind() pattern: an Adapter
// wraps a runtime and exposes typed registration methods that install
// Go closures as global bindings. jsbridge reuses that shape (a Bridge
// wrapping a VmContext) retargeted at this repo's own Value/Closure
// types instead of goja.Runtime/goja.FunctionCall.
package jsbridge

import (
	"fmt"
	"strings"

	"github.com/joeycumines/otter/internal/bytecode"
	"github.com/joeycumines/otter/internal/gc"
	"github.com/joeycumines/otter/internal/interp"
	"github.com/joeycumines/otter/internal/isolate"
	"github.com/joeycumines/otter/internal/object"
	"github.com/joeycumines/otter/internal/shape"
	"github.com/joeycumines/otter/internal/value"
	"github.com/joeycumines/otter/internal/vmerr"
)

// NativeContext is the "host callback contract" helper spec.md §6
// describes: "A native function receives (this, &[args], NativeContext)
// ... The context exposes the memory manager, the owning VmContext, and
// helpers for coercion (to_string, to_primitive)."
type NativeContext struct {
	ctx *isolate.VmContext
}

// VmContext returns the owning context.
func (nc *NativeContext) VmContext() *isolate.VmContext { return nc.ctx }

// Capabilities returns the context's permission set, consulted by
// extensions before performing any privileged operation (spec.md §6:
// "the core itself does not perform privileged operations").
func (nc *NativeContext) Capabilities() isolate.Capabilities { return nc.ctx.Capabilities }

// ToPrimitive coerces v toward a primitive, calling a user "toString" or
// "valueOf" method if v is an object exposing one, preferring the
// ordinary (number-first) hint.
func (nc *NativeContext) ToPrimitive(v value.Value) (value.Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	for _, method := range [...]string{"valueOf", "toString"} {
		fn, err := nc.ctx.VM.GetProperty(v, method)
		if err != nil {
			return value.Undef(), err
		}
		if !nc.ctx.VM.IsCallable(fn) {
			continue
		}
		res, err := nc.ctx.VM.Call(fn, v, nil)
		if err != nil {
			return value.Undef(), err
		}
		if !res.IsObject() {
			return res, nil
		}
	}
	return v, nil
}

// ToString coerces v to a Go string, the to_string half of spec.md §6's
// coercion helpers.
func (nc *NativeContext) ToString(v value.Value) (string, error) {
	prim, err := nc.ToPrimitive(v)
	if err != nil {
		return "", err
	}
	switch {
	case prim.IsString():
		obj, ok := nc.asJSString(prim)
		if ok {
			return obj.Data, nil
		}
		return "", nil
	case prim.IsNumber():
		return value.NumberToString(prim.AsNumber()), nil
	case prim.IsBool():
		if prim.AsBool() {
			return "true", nil
		}
		return "false", nil
	case prim.IsNullish():
		if prim.IsNull() {
			return "null", nil
		}
		return "undefined", nil
	default:
		return "", nil
	}
}

func (nc *NativeContext) asJSString(v value.Value) (*object.JSString, bool) {
	if !v.IsHeap() {
		return nil, false
	}
	cell := nc.ctx.Heap.Get(v.Ref())
	s, ok := cell.(*object.JSString)
	return s, ok
}

// HostFunc is the Go shape of a native extension function: spec.md §6's
// (this, args, NativeContext) -> (Value, error) contract.
type HostFunc func(this value.Value, args []value.Value, nc *NativeContext) (value.Value, error)

// Bridge is one VmContext's extension registration surface. Extensions
// call its Define* methods during setup, before any script runs.
type Bridge struct {
	ctx   *isolate.VmContext
	nc    *NativeContext
	chain *ProviderChain

	natives map[string]value.Value // memoized native-module namespaces
}

// New wraps ctx with a registration surface. Call once per VmContext,
// before evaluating any module (mirrors Adapter.New/Adapter.Bind being
// called before the Goja runtime runs any script).
func New(ctx *isolate.VmContext) *Bridge {
	b := &Bridge{
		ctx:     ctx,
		nc:      &NativeContext{ctx: ctx},
		chain:   &ProviderChain{},
		natives: map[string]value.Value{},
	}
	return b
}

// NativeContext returns the helper passed to every registered HostFunc.
func (b *Bridge) NativeContext() *NativeContext { return b.nc }

func (b *Bridge) wrap(name string, fn HostFunc) *interp.Closure {
	return interp.NewNativeClosure(name, func(_ *interp.Interpreter, this value.Value, args []value.Value) (value.Value, error) {
		return fn(this, args, b.nc)
	})
}

func (b *Bridge) allocClosure(c *interp.Closure) value.Value {
	ref := b.ctx.Heap.Alloc(c, 48)
	return value.FromRef(ref, gc.TagNativeFunction)
}

// DefineGlobalFunction installs fn as a global callable under name
// (spec.md §4.6: "extensions ... add: global functions"), the
// jsbridge analogue of Adapter.Bind's runtime.Set("setTimeout", ...).
func (b *Bridge) DefineGlobalFunction(name string, fn HostFunc) error {
	b.ctx.AssertOwnerThread()
	closure := b.wrap(name, fn)
	v := b.allocClosure(closure)
	return b.ctx.Globals.Set(shape.StringKey(name), v)
}

// DefineNamespace installs an object with the given members as a global
// property under name (spec.md §4.6: "namespace objects"), e.g. a
// `console` or `otter:fs` style grouping of related functions/values.
func (b *Bridge) DefineNamespace(name string, members map[string]value.Value) (value.Value, error) {
	b.ctx.AssertOwnerThread()
	ns := object.New(b.ctx.RootShape, b.ctx.ObjectProto)
	for k, v := range members {
		if err := ns.Set(shape.StringKey(k), v); err != nil {
			return value.Undef(), err
		}
	}
	ref := b.ctx.Heap.Alloc(ns, uintptr(64+16*len(members)))
	v := value.FromRef(ref, gc.TagObject)
	if err := b.ctx.Globals.Set(shape.StringKey(name), v); err != nil {
		return value.Undef(), err
	}
	return v, nil
}

// Method is one named entry of a constructor's prototype object, used by
// DefineConstructor.
type Method struct {
	Name string
	Fn   HostFunc
}

// DefineConstructor installs a global constructor/prototype pair
// (spec.md §4.6: "constructor/prototype pairs"). Because compiling
// `new Ctor(...)` into a NEW_OBJECT+CALL(is_construct=1) instruction
// sequence is a compiler concern outside this engine's scope, the
// native constructor closure itself allocates the instance (with
// prototype linkage already in place) and calls ctorFn to initialize
// it — the same contract a native `new`-less factory function would
// have, which is how host bindings commonly work in embedding APIs that
// don't control the bytecode emitted for `new`.
func (b *Bridge) DefineConstructor(name string, ctorFn HostFunc, methods []Method) (proto value.Value, ctor value.Value, err error) {
	b.ctx.AssertOwnerThread()

	protoObj := object.New(b.ctx.RootShape, b.ctx.ObjectProto)
	for _, m := range methods {
		mv := b.allocClosure(b.wrap(name+"."+m.Name, m.Fn))
		if err := protoObj.Set(shape.StringKey(m.Name), mv); err != nil {
			return value.Undef(), value.Undef(), err
		}
	}
	protoRef := b.ctx.Heap.Alloc(protoObj, uintptr(64+16*len(methods)))
	proto = value.FromRef(protoRef, gc.TagObject)

	ctorClosure := interp.NewNativeClosure(name, func(vm *interp.Interpreter, _ value.Value, args []value.Value) (value.Value, error) {
		instance := object.New(b.ctx.RootShape, proto)
		ref := vm.Heap.Alloc(instance, 64)
		instanceV := value.FromRef(ref, gc.TagObject)
		return ctorFn(instanceV, args, b.nc)
	})
	ctor = b.allocClosure(ctorClosure)

	if err := protoObj.Set(shape.StringKey("constructor"), ctor); err != nil {
		return value.Undef(), value.Undef(), err
	}
	if err := b.ctx.Globals.Set(shape.StringKey(name), ctor); err != nil {
		return value.Undef(), value.Undef(), err
	}
	return proto, ctor, nil
}

// ModuleKind distinguishes a resolved module's loading strategy.
type ModuleKind uint8

const (
	// ModuleKindSource resolves to compiled bytecode to evaluate.
	ModuleKindSource ModuleKind = iota
	// ModuleKindNative resolves directly to a pre-built namespace value,
	// short-circuiting evaluation entirely (spec.md §4.6: "Native
	// extensions may short-circuit with a pre-built namespace object").
	ModuleKindNative
)

// ModuleRecord is what a ModuleProvider's Load returns for one resolved
// URL.
type ModuleRecord struct {
	Kind      ModuleKind
	Module    *bytecode.Module // set when Kind == ModuleKindSource
	Namespace value.Value      // set when Kind == ModuleKindNative
}

// ModuleProvider resolves specifiers under one custom protocol (e.g.
// `node:`, `otter:`, `https:`) to a canonical URL, then loads that URL
// (spec.md §4.6: "A provider chain is consulted left-to-right for both
// resolution ... and loading").
type ModuleProvider interface {
	Resolve(specifier string) (url string, ok bool)
	Load(url string) (ModuleRecord, error)
}

// ProviderChain tries each registered ModuleProvider in registration
// order, committing to the first one whose Resolve matches for both
// resolution and loading of that specifier.
type ProviderChain struct {
	providers []ModuleProvider
}

// Register appends p to the end of the chain.
func (p *ProviderChain) Register(p2 ModuleProvider) { p.providers = append(p.providers, p2) }

// Resolve walks the chain left to right, returning the first match.
func (p *ProviderChain) Resolve(specifier string) (ModuleRecord, error) {
	for _, mp := range p.providers {
		url, ok := mp.Resolve(specifier)
		if !ok {
			continue
		}
		return mp.Load(url)
	}
	return ModuleRecord{}, &vmerr.ReferenceError{Message: fmt.Sprintf("no provider resolves specifier %q", specifier)}
}

// Chain exposes the Bridge's provider chain for extensions to register
// module loaders against.
func (b *Bridge) Chain() *ProviderChain { return b.chain }

// Require resolves and, if necessary, evaluates specifier, returning its
// namespace value. Source modules are memoized by specifier (evaluated
// at most once, the same single-evaluation guarantee ES modules give);
// native modules are whatever their provider's Load returned, also
// cached so repeated requires observe the same object identity.
func (b *Bridge) Require(specifier string) (value.Value, error) {
	b.ctx.AssertOwnerThread()
	if v, ok := b.natives[specifier]; ok {
		return v, nil
	}

	rec, err := b.chain.Resolve(specifier)
	if err != nil {
		return value.Undef(), err
	}

	var ns value.Value
	switch rec.Kind {
	case ModuleKindNative:
		ns = rec.Namespace
	case ModuleKindSource:
		if rec.Module == nil {
			return value.Undef(), &vmerr.ReferenceError{Message: fmt.Sprintf("provider for %q returned no module", specifier)}
		}
		ns, err = b.ctx.Eval(rec.Module)
		if err != nil {
			return value.Undef(), err
		}
	default:
		return value.Undef(), &vmerr.TypeError{Message: "unknown module kind"}
	}

	b.natives[specifier] = ns
	return ns, nil
}

// schemeAndRest splits a specifier like "node:fs" into ("node", "fs").
// Specifiers with no scheme (relative/bare imports) return ok=false;
// resolving those is a module-resolution-algorithm concern the provider
// chain's own Resolve implementations are expected to handle, not this
// helper.
func schemeAndRest(specifier string) (scheme, rest string, ok bool) {
	scheme, rest, found := strings.Cut(specifier, ":")
	if !found {
		return "", "", false
	}
	return scheme, rest, true
}

// SchemeProvider is a ModuleProvider for the common case spec.md §4.6
// names explicitly: a single custom protocol (e.g. `node:`, `otter:`)
// whose specifiers are all `scheme:rest`, resolved by a host-supplied
// loader keyed on rest.
type SchemeProvider struct {
	Scheme string
	Loader func(rest string) (ModuleRecord, error)
}

// NewSchemeProvider builds a SchemeProvider for scheme (without the
// trailing colon), backed by loader.
func NewSchemeProvider(scheme string, loader func(rest string) (ModuleRecord, error)) *SchemeProvider {
	return &SchemeProvider{Scheme: scheme, Loader: loader}
}

func (s *SchemeProvider) Resolve(specifier string) (string, bool) {
	scheme, rest, ok := schemeAndRest(specifier)
	if !ok || scheme != s.Scheme {
		return "", false
	}
	return rest, true
}

func (s *SchemeProvider) Load(url string) (ModuleRecord, error) {
	return s.Loader(url)
}
