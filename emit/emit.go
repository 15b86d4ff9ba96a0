// Package emit implements the Symbol Emitter: for one assembly's worth of
// types, it declares every backend symbol Opcode Lowering and Exception
// Lowering later reference by handle rather than by name — the runtime
// helper shims, per-method forward/import declarations, static-field
// storage, string literals, and runtime type handles — and implements the
// exception-type resolution Exception & Protected-Region Lowering needs to
// build a throw_new or a runtime-check throw.
//
// This mirrors a linker's symbol table: nothing here emits instructions
// into a method body (that is Opcode Lowering's job, driven by package
// jit); emit only reserves the names and handles that body will call
// through.
package emit

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

// Emitter is the per-assembly symbol table: one is built before any method
// in the assembly is lowered, and handed (via Shim and DeclareMethod) to
// every method's lower.Context.
type Emitter struct {
	Mod backend.Module
	Reg *types.Registry

	shim lower.Shim

	functions map[*types.Method]backend.Function
	protos    map[*types.Method]*sig.Prototype
	statics   map[*types.Field]backend.Address

	// excTypes maps a fully-qualified exception type name
	// ("System.NullReferenceException") to its Type, populated by
	// RegisterExceptionType. The loader is expected to hand these in
	// during assembly setup, the same way it bootstraps
	// types.Registry.Primitives; the JIT core never invents exception
	// types itself.
	excTypes map[string]*types.Type
}

// New builds an Emitter for mod, declaring the fixed set of runtime helper
// shims every lowered method may call through.
func New(mod backend.Module, reg *types.Registry) (*Emitter, error) {
	e := &Emitter{
		Mod:       mod,
		Reg:       reg,
		functions: make(map[*types.Method]backend.Function),
		protos:    make(map[*types.Method]*sig.Prototype),
		statics:   make(map[*types.Field]backend.Address),
		excTypes:  make(map[string]*types.Type),
	}
	shim, err := e.declareShims()
	if err != nil {
		return nil, err
	}
	e.shim = shim
	return e, nil
}

// Shim returns the runtime helper handles every method's lower.Context
// shares for this assembly.
func (e *Emitter) Shim() lower.Shim { return e.shim }

func (e *Emitter) declareShims() (lower.Shim, error) {
	ptr := backend.ValPtr
	iptr := backend.ValIPtr

	declare := func(name string, params []backend.ValueKind, hasResult bool) (backend.Function, error) {
		var results []backend.ValueKind
		if hasResult {
			results = []backend.ValueKind{ptr}
		}
		f, err := e.Mod.DeclareExternal(name, params, results)
		if err != nil {
			return nil, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindOutOfResources, err, "declare runtime helper "+name)
		}
		return f, nil
	}

	var shim lower.Shim
	var err error

	if shim.Memcpy, err = declare("memcpy", []backend.ValueKind{ptr, ptr, iptr}, false); err != nil {
		return shim, err
	}
	if shim.Memset, err = declare("memset", []backend.ValueKind{ptr, iptr}, false); err != nil {
		return shim, err
	}
	if shim.ManagedMemcpy, err = declare("managed_memcpy", []backend.ValueKind{ptr, ptr}, false); err != nil {
		return shim, err
	}
	if shim.ManagedRefMemcpy, err = declare("managed_ref_memcpy", []backend.ValueKind{ptr, ptr}, false); err != nil {
		return shim, err
	}
	if shim.Isinstance, err = declare("isinstance", []backend.ValueKind{ptr, ptr}, true); err != nil {
		return shim, err
	}
	if shim.DynamicCastToIface, err = declare("dynamic_cast_obj_to_interface", []backend.ValueKind{ptr, ptr}, true); err != nil {
		return shim, err
	}
	if shim.GetArrayType, err = declare("get_array_type", []backend.ValueKind{ptr}, true); err != nil {
		return shim, err
	}
	if shim.GCNew, err = declare("gc_new", []backend.ValueKind{ptr, iptr}, true); err != nil {
		return shim, err
	}
	return shim, nil
}

// DeclareAssembly declares every method and static field of every type in
// asm: a forward declaration (body filled in later by package jit) for a
// method defined in asm, an import declaration for one that is not, and
// bss storage for each static field. Exception types the assembly defines
// are also registered via RegisterExceptionType, so a throw_new targeting
// a user-defined exception resolves the same way a framework one does.
func (e *Emitter) DeclareAssembly(asm *types.Assembly) error {
	defined := make(map[*types.Type]bool, len(asm.Types))
	for _, t := range asm.Types {
		defined[t] = true
	}

	for _, t := range asm.Types {
		if isExceptionType(t) {
			e.RegisterExceptionType(t)
		}
		for _, f := range t.Fields {
			if !f.IsStatic {
				continue
			}
			if _, err := e.DeclareStaticField(f); err != nil {
				return err
			}
		}
		for _, m := range t.Methods {
			proto, err := sig.Prepare(e.Reg, m, !defined[m.DeclaringType])
			if err != nil {
				return jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindBadFormat, err, "prepare signature for "+m.Name)
			}
			if _, err := e.DeclareMethod(m, proto); err != nil {
				return err
			}
		}
	}
	return nil
}

// isExceptionType reports whether t derives (directly or transitively)
// from a type literally named "Exception", the one piece of naming
// convention this package relies on to spare the loader from tagging every
// exception type explicitly.
func isExceptionType(t *types.Type) bool {
	for c := t; c != nil; c = c.BaseType {
		if c.Name == "Exception" {
			return true
		}
	}
	return false
}

// RegisterExceptionType records t under its fully-qualified name so
// Resolve can find it for a throw_new or a runtime-check throw.
func (e *Emitter) RegisterExceptionType(t *types.Type) {
	e.excTypes[t.Namespace+"."+t.Name] = t
}

// DeclareMethod declares (or returns the cached declaration for) m's
// backend function, using proto's prepared parameter/result shape. Methods
// with no CIL body of their own (internal-call, unmanaged, abstract, or
// genuinely external) get an import declaration; everything else gets a
// forward declaration whose body package jit fills in later via
// Mod.NewBuilder.
func (e *Emitter) DeclareMethod(m *types.Method, proto *sig.Prototype) (backend.Function, error) {
	if f, ok := e.functions[m]; ok {
		return f, nil
	}
	params, results := signatureKinds(proto)
	var f backend.Function
	var err error
	if proto.External {
		f, err = e.Mod.DeclareExternal(m.MangledMethodName(), params, results)
	} else {
		f, err = e.Mod.DeclareFunction(m.MangledMethodName(), params, results)
	}
	if err != nil {
		return nil, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindOutOfResources, err, "declare method "+m.Name)
	}
	e.functions[m] = f
	e.protos[m] = proto
	return f, nil
}

// Proto returns the previously declared prototype for m, if any: package
// jit uses this at every call/callvirt/newobj site instead of rebuilding
// one, so a call site always sees the same External/HasReturnBlock shape
// DeclareAssembly fixed when the function was first declared.
func (e *Emitter) Proto(m *types.Method) (*sig.Prototype, bool) {
	p, ok := e.protos[m]
	return p, ok
}

// Function returns the previously declared backend function for m, if any.
func (e *Emitter) Function(m *types.Method) (backend.Function, bool) {
	f, ok := e.functions[m]
	return f, ok
}

// Functions exposes the full method->function map, for the Module
// Finaliser to patch Method.CompiledFunction and build vtables from.
func (e *Emitter) Functions() map[*types.Method]backend.Function { return e.functions }

// Statics exposes the full field->address map, for the Module Finaliser to
// register GC roots from.
func (e *Emitter) Statics() map[*types.Field]backend.Address { return e.statics }

// DeclareStaticField declares (or returns the cached declaration for) f's
// backing storage.
func (e *Emitter) DeclareStaticField(f *types.Field) (backend.Address, error) {
	if a, ok := e.statics[f]; ok {
		return a, nil
	}
	a, err := e.Mod.DeclareStatic(f.MangledFieldName(), f.FieldType.ManagedSize)
	if err != nil {
		return nil, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindOutOfResources, err, "declare static field "+f.Name)
	}
	e.statics[f] = a
	return a, nil
}

// StaticAddr returns the previously declared address for a static field,
// if any.
func (e *Emitter) StaticAddr(f *types.Field) (backend.Address, bool) {
	a, ok := e.statics[f]
	return a, ok
}

// DeclareStringLiteral interns a ldstr operand, delegating to the module's
// own per-value cache.
func (e *Emitter) DeclareStringLiteral(value string) (backend.Object, error) {
	o, err := e.Mod.DeclareString(value)
	if err != nil {
		return nil, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindOutOfResources, err, "declare string literal")
	}
	return o, nil
}

// TypeHandle returns t's runtime type-handle object, interning it on first
// use. isinst/castclass/box targets and throw_new/catch dispatch all
// resolve a type to this same handle.
func (e *Emitter) TypeHandle(t *types.Type) (backend.Object, error) {
	o, err := e.Mod.DeclareTypeHandle(t.MangledName())
	if err != nil {
		return nil, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindOutOfResources, err, "declare type handle for "+t.Name)
	}
	return o, nil
}

// signatureKinds flattens a Prototype's prepared parameters and result
// shape to the backend.ValueKind lists Mod.DeclareFunction/DeclareExternal
// need.
func signatureKinds(p *sig.Prototype) (params, results []backend.ValueKind) {
	for _, pp := range p.PreparedParams {
		if pp.Kind == sig.ParamBlock {
			params = append(params, backend.ValBlock)
			continue
		}
		params = append(params, lower.ValueKindOf(pp.Type))
	}

	switch p.ResultShape {
	case sig.ResultValue:
		results = []backend.ValueKind{backend.ValPtr, lower.ValueKindOf(p.Method.ReturnType)}
	default:
		results = []backend.ValueKind{backend.ValPtr}
	}
	return params, results
}
