package types

import (
	"fmt"

	"github.com/Itay2805/tinydotnet/jerrors"
)

// Registry is the arena owning every Type for the process lifetime. Types
// are never freed individually; inter-type links are plain pointers tied to
// the Registry's lifetime.
type Registry struct {
	// well-known base types, populated by the loader via Bootstrap before
	// any array_type_of/by_ref_type_of call.
	ObjectType *Type
	ArrayBase  *Type

	prims Primitives
}

// NewRegistry creates an empty registry. The loader is responsible for
// populating ObjectType/ArrayBase and every defined/imported Type before
// handing the assembly to the Symbol Emitter.
func NewRegistry() *Registry {
	return &Registry{}
}

// ArrayTypeOf returns the unique array type with element T, creating it on
// first call. Concurrent callers synchronise on T's monitor with
// double-checked publication: the race loser observes the winner's result
// and drops its own allocation.
func (r *Registry) ArrayTypeOf(elem *Type) (*Type, error) {
	if elem == nil {
		return nil, jerrors.New(jerrors.PhaseTypeLoad, jerrors.KindBadFormat).
			Detail("array_type_of: nil element type").Build()
	}

	elem.monitor.Lock()
	defer elem.monitor.Unlock()

	if elem.arrayType != nil {
		return elem.arrayType, nil
	}

	if r.ArrayBase == nil {
		return nil, jerrors.New(jerrors.PhaseTypeLoad, jerrors.KindNotFound).
			Detail("array_type_of: registry has no ArrayBase bootstrapped").Build()
	}

	arr := &Type{
		Namespace:     elem.Namespace,
		Name:          fmt.Sprintf("%s[]", elem.Name),
		BaseType:      r.ArrayBase,
		IsArray:       true,
		ElementType:   elem,
		StackCategory: CategoryO,
		StackSize:     r.ArrayBase.StackSize,
		ManagedSize:   r.ArrayBase.ManagedSize,
		// An array's vtable has the same shape as Array's: array types
		// never declare their own virtual methods.
		VirtualMethods: r.ArrayBase.VirtualMethods,
		InterfaceImpls: r.ArrayBase.InterfaceImpls,
	}

	elem.arrayType = arr
	return arr, nil
}

// ByRefTypeOf returns the unique managed-reference type pointing at T. Fails
// if T is already a by-ref type (by-ref-to-by-ref is not representable).
func (r *Registry) ByRefTypeOf(base *Type) (*Type, error) {
	if base == nil {
		return nil, jerrors.New(jerrors.PhaseTypeLoad, jerrors.KindBadFormat).
			Detail("by_ref_type_of: nil base type").Build()
	}
	if base.IsByRef {
		return nil, jerrors.New(jerrors.PhaseTypeLoad, jerrors.KindCheckFailed).
			Detail("by_ref_type_of: %s is already a by-ref type", base.Name).Build()
	}

	base.monitor.Lock()
	defer base.monitor.Unlock()

	if base.byRefType != nil {
		return base.byRefType, nil
	}

	ref := &Type{
		Namespace:     base.Namespace,
		Name:          fmt.Sprintf("%s&", base.Name),
		IsByRef:       true,
		ElementType:   base,
		BaseType:      base,
		StackCategory: CategoryRef,
		StackSize:     PointerSize,
		ManagedSize:   base.StackSize,
	}

	base.byRefType = ref
	return ref, nil
}

// Primitives returns the well-known primitive types Bootstrap recorded, for
// callers (the JIT's dispatch loop, the emitter) that need to name e.g.
// Int32 or Object explicitly rather than read it off an operand.
func (r *Registry) Primitives() Primitives { return r.prims }

// PointerSize is the native pointer width in bytes this build targets. It
// is the one place sig.NativeIntSize and the registry agree on machine
// width; see sig/nativesize.go for how it is derived from GOARCH.
var PointerSize = 8
