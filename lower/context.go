// Package lower implements Opcode Lowering: for each CIL opcode, verify
// operand types against the stack abstract interpreter, then emit backend
// instructions (and runtime calls) implementing the operation's semantics,
// including implicit conversions, null checks, bounds checks, write
// barriers, virtual/interface dispatch, boxing/unboxing, and struct
// value-copies.
//
// This is the largest single component of the translator; it is also the
// one most tightly coupled to every other package (types for the lattice,
// stack for operand typing, backend for emission, emit for the runtime
// shim handles it calls through, except for branch-target validation
// against protected regions). Each opcode family lives in its own file
// (arith.go, convert.go, compare.go, fields.go, locals.go, calls.go,
// arrays.go, cast.go, branch.go) the way a hand-written bytecode
// interpreter's dispatch table is usually split by instruction group
// rather than kept in one function.
package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

// Shim is the set of runtime helper handles a Context needs to emit calls
// to GC barriers and cast/array helpers; built by the emitter once per
// assembly and handed to every method's Context.
type Shim struct {
	Memcpy              backend.Function
	Memset              backend.Function
	ManagedMemcpy        backend.Function
	ManagedRefMemcpy     backend.Function
	Isinstance           backend.Function
	DynamicCastToIface   backend.Function
	GetArrayType         backend.Function
	// GCNew is the imported gc_new(type_handle, size) -> (exception, object)
	// helper newobj calls through; allocation happens when the compiled
	// method actually runs, never while lowering builds its instructions.
	GCNew backend.Function
}

// Thrower is implemented by the except package's region-aware lowerer so
// that an opcode handler in this package (a divide-by-zero guard, a
// failed cast, an out-of-bounds index) can dispatch a typed throw without
// lower importing except; except imports lower instead and registers
// itself here.
type Thrower interface {
	// ThrowNamed dispatches a throw of a freshly constructed instance of
	// the named runtime exception type (used by a guard the opcode
	// handler itself detects, like divide-by-zero or a null receiver).
	ThrowNamed(c *Context, excTypeName string) error
	// Rethrow dispatches propagation of an exception object a call already
	// produced (the post-call exception-register test every Call/
	// CallVirt/CallIndirect site runs), routing it through whichever
	// protected region currently encloses the call site.
	Rethrow(c *Context, exc backend.Reg) error
}

// RegionGuard is implemented by the except package's protected-region map
// so a branch opcode handler in this package can reject a jump that
// illegally enters or leaves a try/catch/finally/fault region, without
// lower importing except.
type RegionGuard interface {
	ValidateBranch(m *types.Method, fromOffset, toOffset int) error
}

// Context is the per-method lowering state: one is created for each
// method body about to be translated and discarded once lowering
// finishes.
type Context struct {
	Reg    *types.Registry
	Mod    backend.Module
	B      backend.Builder
	Stack  *stack.Interpreter
	Method *types.Method
	Proto  *sig.Prototype
	Shim   Shim
	Thrower Thrower
	Regions RegionGuard

	// Locals/Params map a types.Local/types.Param index to its backing
	// register, set up once by InitLocals/BindParams before any opcode is
	// lowered. ParamRegs is indexed the way CIL's ldarg/starg index an
	// instance method's parameters: excluding both the hidden return_block
	// and this prefix params the backend signature prepends; ThisReg holds
	// the latter, valid iff !Method.IsStatic.
	LocalRegs []backend.Reg
	ParamRegs []backend.Reg
	ThisReg   backend.Reg

	// ExcReg holds the running exception register threaded through every
	// call and emitted check in this method.
	ExcReg backend.Reg

	// Offset is the CIL byte offset of the instruction currently being
	// lowered, kept up to date by the per-method dispatch loop before each
	// opcode handler runs. Throw/leave/endfinally lowering needs it to find
	// which protected regions enclose the instruction raising or
	// propagating an exception.
	Offset int
}

// NewContext creates a lowering context for method m using proto as its
// prepared prototype and in as its (already-constructed) operand stack
// interpreter. in's register numbering is rebound to b's own counter: every
// register this method's lowering touches, whether handed out by the stack
// interpreter or allocated directly by the Builder, must share one counter.
func NewContext(reg *types.Registry, mod backend.Module, b backend.Builder, in *stack.Interpreter, m *types.Method, proto *sig.Prototype, shim Shim) *Context {
	in.SetRegAllocator(b.NewReg)
	return &Context{Reg: reg, Mod: mod, B: b, Stack: in, Method: m, Proto: proto, Shim: shim}
}

func (c *Context) alloc() backend.Reg {
	return c.Stack.AllocPublic()
}

func (c *Context) throwNamed(excTypeName string) error {
	if c.Thrower == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1,
			"no thrower wired for runtime check %q", excTypeName)
	}
	return c.Thrower.ThrowNamed(c, excTypeName)
}

func (c *Context) rethrow(exc backend.Reg) error {
	if c.Thrower == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "no thrower wired for call-site exception propagation")
	}
	return c.Thrower.Rethrow(c, exc)
}

func (c *Context) validateBranch(fromOffset, toOffset int) error {
	if c.Regions == nil {
		return nil
	}
	return c.Regions.ValidateBranch(c.Method, fromOffset, toOffset)
}
