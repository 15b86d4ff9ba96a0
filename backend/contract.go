// Package backend declares the contracts of every external collaborator
// the JIT itself never implements: the metadata/assembly loader (already
// modelled as populated types.Type graphs, consumed directly), the garbage
// collector, and the low-level MIR code generator. Nothing in this package
// implements a collaborator; it only types the boundary so the rest of the
// JIT can be written, tested, and reasoned about against an interface
// instead of a concrete backend.
//
// The split mirrors an Engine/Resolver boundary: declare the narrow surface
// (allocate, write-barrier, emit-instruction, publish) a concrete MIR
// backend and GC must supply, and test against a sandboxed in-memory
// implementation of that surface rather than a real code generator.
package backend

import "github.com/Itay2805/tinydotnet/types"

// GC is the garbage collector contract.
type GC interface {
	// New allocates size bytes for an object of the given type, returning
	// nil on allocation failure (the OutOfMemoryException path of newobj).
	New(t *types.Type, size int) (Object, error)
	// Update writes a reference into a heap object with a write barrier.
	Update(obj Object, offset int, value Object)
	// UpdateRef writes a reference through a managed-reference (by-ref)
	// address with a write barrier.
	UpdateRef(addr Address, value Object)
	// AddRoot registers a static root with the collector.
	AddRoot(addr Address)
	// HeapFindFast returns the object containing addr, or nil if addr does
	// not point into the managed heap. Used by managed_ref_memcpy to decide
	// whether a by-ref copy target needs a write barrier.
	HeapFindFast(addr Address) Object
	// PublishVTable builds the opaque runtime vtable for a concrete type's
	// virtual-method slots, in slot order, and returns the handle the
	// Module Finaliser stores in types.Type.VTablePtr. New consults
	// VTablePtr (if set) when allocating an instance of that type, so a
	// newobj emitted before finalisation still produces correctly
	// dispatching instances once the type's vtable is patched.
	PublishVTable(t *types.Type, fns []Function) (any, error)
}

// Object is an opaque heap object handle as seen by the backend/GC
// boundary; the JIT never dereferences it directly, only passes it through
// emitted instructions and GC calls.
type Object interface{ objectHandle() }

// Address is an opaque managed-reference (by-ref) address handle.
type Address interface{ addressHandle() }

// Function is the backend's compiled-function handle, the back-pointer
// stored in types.Method.CompiledFunction after the Module Finaliser runs.
type Function interface{ functionHandle() }

// Module is the backend's unit of compilation: one per assembly, built up
// by the Symbol Emitter and published by the Module Finaliser.
type Module interface {
	// DeclareExternal declares an imported/unmanaged/internal-call function
	// by name with the given parameter/result shape.
	DeclareExternal(name string, params, results []ValueKind) (Function, error)
	// DeclareFunction declares a to-be-defined function (a forward
	// declaration); its body is filled in later via a Builder from
	// NewBuilder.
	DeclareFunction(name string, params, results []ValueKind) (Function, error)
	// DeclareStatic reserves bss storage for a static field, returning its
	// symbol handle.
	DeclareStatic(name string, size int) (Address, error)
	// DeclareString interns a user string literal as a linker symbol,
	// returning its object handle.
	DeclareString(value string) (Object, error)
	// DeclareTypeHandle interns the runtime type-handle object for a type,
	// keyed by its mangled name, returning the same cached handle on
	// repeat calls. Used to materialise isinst/castclass/throw targets and
	// the reflective type handle a ldtoken-derived load would produce.
	DeclareTypeHandle(mangledName string) (Object, error)
	// NewBuilder returns an instruction-emission cursor for fn's body.
	NewBuilder(fn Function) Builder
	// Publish hands the constructed module to the shared code context and
	// links it with the backend's lazy-gen interface.
	Publish() error
	// ResolvedAddress returns the runtime address of a published function,
	// valid only after Publish.
	ResolvedAddress(fn Function) (uintptr, error)
}

// ValueKind is the backend's primitive value classification for building
// function prototypes (parallel to types.StackCategory but backend-local so
// this package has no import-cycle on sig/types beyond types.Type itself).
type ValueKind int

const (
	ValI32 ValueKind = iota
	ValI64
	ValIPtr
	ValF32
	ValF64
	ValPtr   // O / REF category
	ValBlock // value-type block argument; paired with an explicit byte size
)

// Label identifies a branch target within a function body.
type Label int

// Reg identifies a backing register (or stack-allocated block address) a
// StackSlot is held in; see stack.Slot.
type Reg int

// MemOperand describes a memory operand with base register, optional
// index*scale, and a displacement, matching the addressing modes the MIR
// backend's instruction factories accept.
type MemOperand struct {
	Base         Reg
	Index        Reg
	HasIndex     bool
	Scale        int
	Displacement int
}

// Builder is the per-function instruction-emission cursor. One exists for
// the duration of lowering a single method body; it is discarded once the
// method's opcodes have all been lowered.
type Builder interface {
	NewLabel() Label
	BindLabel(l Label)

	// NewReg reserves a fresh register number from the function's single
	// counter. Every Reg value used in this function's body, however it
	// was obtained (AllocaBlock, Param, a lowering pass's own scratch
	// allocation), must come from this counter: the execution frame keys
	// live values by Reg alone, so two independently-numbered counters
	// sharing a frame would collide.
	NewReg() Reg

	AllocaBlock(size int) Reg
	Param(i int) Reg

	MoveImmI32(dst Reg, v int32)
	MoveImmI64(dst Reg, v int64)
	MoveImmF32(dst Reg, v float32)
	MoveImmF64(dst Reg, v float64)
	Move(dst, src Reg)

	Ext(dst, src Reg, fromBits, toBits int, signed bool)

	Neg(dst, src Reg, kind ValueKind)
	Not(dst, src Reg, kind ValueKind) // XOR with -1

	Add(dst, a, b Reg, kind ValueKind)
	Sub(dst, a, b Reg, kind ValueKind)
	Mul(dst, a, b Reg, kind ValueKind)
	Div(dst, a, b Reg, kind ValueKind, unsigned bool)
	Mod(dst, a, b Reg, kind ValueKind, unsigned bool)
	And(dst, a, b Reg, kind ValueKind)
	Or(dst, a, b Reg, kind ValueKind)
	Xor(dst, a, b Reg, kind ValueKind)
	Shl(dst, a, b Reg, kind ValueKind)
	Shr(dst, a, b Reg, kind ValueKind, unsigned bool)

	IntToFloat(dst, src Reg, double bool)
	FloatToInt(dst, src Reg, fromDouble bool)
	FloatConv(dst, src Reg, toDouble bool)
	FloatNeg(dst, src Reg, double bool)

	Load(dst Reg, mem MemOperand, kind ValueKind)
	Store(mem MemOperand, src Reg, kind ValueKind)
	LoadAddr(dst Reg, mem MemOperand)

	// LoadSymbolAddr materialises a declared static's address into dst,
	// the bridge from a Module-level DeclareStatic symbol to a register
	// operand Load/Store can index off of.
	LoadSymbolAddr(dst Reg, addr Address)
	// LoadObjectRef materialises a declared string or type-handle object
	// into dst, the bridge from DeclareString/DeclareTypeHandle to a
	// register operand.
	LoadObjectRef(dst Reg, obj Object)
	// LoadFunctionAddr materialises a declared function's address into
	// dst, used for building a vtable's function-pointer entries.
	LoadFunctionAddr(dst Reg, fn Function)

	Br(target Label)
	BrIf(cond Reg, target Label, zero bool) // BT/BF
	Compare(dst Reg, a, b Reg, kind ValueKind, op CompareOp, unsigned bool)
	CompareBranch(a, b Reg, kind ValueKind, op CompareOp, unsigned bool, target Label)
	Switch(selector Reg, targets []Label, fallthrough_ Label)

	Call(fn Function, args []Reg) (resultException, resultValue Reg)
	CallIndirect(addr Reg, params, results []ValueKind, args []Reg) (resultException, resultValue Reg)
	InlineCall(fn Function, args []Reg) (resultException, resultValue Reg)

	Return(vals []Reg)
}

// CompareOp enumerates the comparison predicates the backend's conditional
// branch/compare instruction factories accept.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpGE
	CmpGT
	CmpLE
	CmpLT
)
