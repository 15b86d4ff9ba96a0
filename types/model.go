// Package types implements the Type Registry: canonical assembly-qualified
// naming, per-type layout derivation (stack category, managed size, managed
// pointer offsets, vtable shape), array/by-ref type uniquing, and the
// verification/intermediate/reduced/underlying type lattices the rest of
// the JIT reasons in.
//
// The registry plays the role of a type-index resolver: a lazily
// populated, identity-cached map from a declared type to everything the
// rest of the JIT needs derived from it, generalized here from a module's
// import graph to the ECMA-335 type graph; see DESIGN.md.
package types

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// StackCategory is the coarse classification the verifier reasons in,
// rather than concrete types.
type StackCategory int

const (
	CategoryInt32 StackCategory = iota
	CategoryInt64
	CategoryIntPtr
	CategoryFloat
	CategoryO        // object reference
	CategoryRef      // managed pointer (by-ref)
	CategoryValueType
)

func (c StackCategory) String() string {
	switch c {
	case CategoryInt32:
		return "INT32"
	case CategoryInt64:
		return "INT64"
	case CategoryIntPtr:
		return "INTPTR"
	case CategoryFloat:
		return "FLOAT"
	case CategoryO:
		return "O"
	case CategoryRef:
		return "REF"
	case CategoryValueType:
		return "VALUE_TYPE"
	default:
		return "?"
	}
}

// Access is a field/method/type visibility level.
type Access int

const (
	AccessPrivate Access = iota
	AccessFamily         // protected
	AccessAssembly       // internal
	AccessFamilyOrAssembly
	AccessFamilyAndAssembly
	AccessPublic
)

// Type is the Type Registry's node. Every inter-type link (ArrayType,
// ByRefType, BaseType, ElementType, declaring type of a Method/Field) is a
// non-owning handle tied to the Registry's lifetime: types are never freed
// individually, matching arena discipline for the cyclic type
// graph (Type<->ArrayType, Type<->ByRefType, Type<->BaseType,
// Method<->DeclaringType).
type Type struct {
	Namespace      string
	Name           string
	DeclaringType  *Type // non-nil for nested types
	GenericArgs    []*Type

	IsValueType bool
	IsInterface bool
	IsArray     bool
	IsByRef     bool
	IsEnum      bool

	ElementType *Type // for arrays and by-refs
	BaseType    *Type

	arrayType *Type // cached array_type_of(this)
	byRefType *Type // cached by_ref_type_of(this)
	monitor   sync.Mutex
	// pad separates monitor's cache line from StackSize/ManagedSize/
	// StackCategory below, which concurrent lowering goroutines read
	// without taking monitor: a writer spinning on the mutex under
	// contention (two assemblies racing to materialise the same array/
	// by-ref type) would otherwise keep invalidating those readers' cache
	// line on every lock attempt.
	pad cpu.CacheLinePad

	StackSize        int
	ManagedSize      int
	StackAlignment   int
	ManagedAlignment int
	StackCategory    StackCategory

	// ManagedPointerOffsets is the sorted list of byte offsets within a
	// value type where a managed reference lives. Invariant: sorted
	// ascending, no duplicates.
	ManagedPointerOffsets []int

	Fields          []*Field
	Methods         []*Method
	VirtualMethods  []*Method // the vtable's virtual-method slots, in order
	InterfaceImpls  []*InterfaceImpl

	Access Access

	// VTablePtr is the runtime handle patched in by the Module Finaliser;
	// nil until the owning assembly's module has been finalised.
	VTablePtr any
}

// InterfaceImpl records that a concrete type implements an interface, and
// where that interface's virtual methods begin inside the concrete type's
// vtable.
type InterfaceImpl struct {
	Interface      *Type
	VTableOffset   int
	MethodMapping  []*Method // parallel to Interface.VirtualMethods
}

// Field describes a field of a Type.
type Field struct {
	DeclaringType *Type
	FieldType     *Type
	Name          string
	IsStatic      bool
	IsInitOnly    bool
	Offset        int // memory offset for instance fields; symbol for statics is held by emit.Emitter
	Access        Access
}

// Method describes a method of a Type.
type Method struct {
	DeclaringType *Type
	Name          string
	ReturnType    *Type // nil if void
	Parameters    []*Param
	Locals        []*Local
	Body          *MethodBody

	IsStatic             bool
	IsVirtual            bool
	IsAbstract           bool
	IsInternalCall       bool
	IsUnmanaged          bool
	IsRTSpecialName      bool // true for .cctor/.ctor
	IsAggressiveInlining bool

	VTableIndex int // -1 if not virtual
	Access      Access

	// CompiledFunction is the back-pointer to the emitted backend
	// function handle, set by the Module Finaliser; must be non-nil before
	// a successful newobj can target the declaring type's constructor.
	// Left as an opaque handle (backend.Function satisfies it) so this
	// package never imports backend, which itself depends on types for
	// prototype construction.
	CompiledFunction any
}

// Param is a formal parameter.
type Param struct {
	Name string
	Type *Type
}

// Local is a local variable slot.
type Local struct {
	Type *Type
}

// MethodBody holds the raw CIL and its metadata. Instructions is the
// already-decoded, token-resolved instruction stream the Loader produces
// from CIL: decoding the wire bytecode and resolving metadata tokens is the
// Loader's concern (see spec's external-interfaces boundary), so the JIT
// never reads CIL directly, only Instructions.
type MethodBody struct {
	CIL              []byte
	Instructions     []Instruction
	ExceptionClauses []*ExceptionClause
	InitLocals       bool
	MaxStackDepth    int
}

// ExceptionClauseKind distinguishes catch/finally/fault regions. Filter
// clauses are recognised (for rejection) but never produced.
type ExceptionClauseKind int

const (
	ClauseCatch ExceptionClauseKind = iota
	ClauseFinally
	ClauseFault
	ClauseFilter // unsupported; rejected at load with KindCheckFailed
)

// ExceptionClause mirrors one entry of a method's exception-handling table.
type ExceptionClause struct {
	Kind        ExceptionClauseKind
	TryOffset   int
	TryLength   int
	HandlerOffset int
	HandlerLength int
	CatchType   *Type // non-nil iff Kind == ClauseCatch
}
