package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

// coerceArg emits the implicit coercion CIL allows between an argument's
// stack-typed value and the formal parameter type it is bound to:
// Int32->{SByte,Byte,Boolean,Int16,UInt16} truncates, Int32->IntPtr
// sign-extends, Int32->UIntPtr zero-extends, Single<->Double converts.
// Anything else is passed through unchanged; the stack interpreter has
// already verified assignability.
func (c *Context) coerceArg(v backend.Reg, from, to *types.Type) backend.Reg {
	fc, tc := from.StackCategory, to.StackCategory

	switch {
	case fc == types.CategoryInt32 && tc == types.CategoryInt32 && to.ManagedSize < 4:
		dst := c.alloc()
		c.B.Ext(dst, v, 32, to.ManagedSize*8, signExtendSmallInt(to))
		return dst
	case fc == types.CategoryInt32 && tc == types.CategoryIntPtr:
		dst := c.alloc()
		c.B.Ext(dst, v, 32, 64, to.Name != "UIntPtr")
		return dst
	case fc == types.CategoryFloat && tc == types.CategoryFloat && from.ManagedSize != to.ManagedSize:
		dst := c.alloc()
		c.B.FloatConv(dst, v, to.ManagedSize == 8)
		return dst
	default:
		return v
	}
}

// signExtendSmallInt reports whether truncating to t should sign-extend
// (SByte, Int16) rather than zero-extend (Byte, Boolean, UInt16).
func signExtendSmallInt(t *types.Type) bool {
	switch t.Name {
	case "Byte", "Boolean", "UInt16":
		return false
	default:
		return true
	}
}

// popArgs pops len(params) operands off the stack in reverse (CIL pushes
// arguments left-to-right, so the last one popped is the first argument),
// coercing each to its formal parameter type.
func (c *Context) popArgs(params []sig.PreparedParam) ([]backend.Reg, error) {
	regs := make([]backend.Reg, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		v, err := c.Stack.Pop()
		if err != nil {
			return nil, err
		}
		regs[i] = c.coerceArg(v.Reg, v.Type, params[i].Type)
	}
	return regs, nil
}

// dispatchResult reads a (exception, value) pair back from a Call/
// InlineCall/CallIndirect and tests the exception register: a non-zero
// exception triggers a throw-propagation branch before the value is used
// by anything downstream.
func (c *Context) dispatchResult(exc, val backend.Reg, proto *sig.Prototype) error {
	skip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(exc, zero, backend.ValPtr, backend.CmpEQ, false, skip)
	if err := c.rethrow(exc); err != nil {
		return err
	}
	c.B.BindLabel(skip)

	if proto.ResultShape == sig.ResultValue {
		resultType := proto.Method.ReturnType
		slot, err := c.Stack.Push(resultType)
		if err != nil {
			return err
		}
		c.B.Move(slot.Reg, val)
	}
	return nil
}

// Call lowers call: a direct, non-virtual invocation of target, optionally
// inlined when target.IsAggressiveInlining is set.
func (c *Context) Call(target backend.Function, proto *sig.Prototype) error {
	args, err := c.popArgsForCall(proto)
	if err != nil {
		return err
	}
	var exc, val backend.Reg
	if proto.Method.IsAggressiveInlining {
		exc, val = c.B.InlineCall(target, args)
	} else {
		exc, val = c.B.Call(target, args)
	}
	return c.dispatchResult(exc, val, proto)
}

// popArgsForCall pops the full physical argument list (this receiver, if
// any, followed by the declared parameters) and runs the null check on a
// non-static receiver.
func (c *Context) popArgsForCall(proto *sig.Prototype) ([]backend.Reg, error) {
	regs, err := c.popArgs(proto.PreparedParams)
	if err != nil {
		return nil, err
	}
	if !proto.Method.IsStatic {
		thisIdx := 0
		if proto.HasReturnBlock {
			thisIdx = 1
		}
		if err := c.emitNullCheck(regs[thisIdx]); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

// CallVirt lowers callvirt: looks up the target through the receiver's
// vtable (for a virtual method) or its interface-implementation mapping
// (for an interface method call), instead of calling target directly.
func (c *Context) CallVirt(vtableSlot int, proto *sig.Prototype, indirectParams, indirectResults []backend.ValueKind) error {
	args, err := c.popArgsForCall(proto)
	if err != nil {
		return err
	}

	thisIdx := 0
	if proto.HasReturnBlock {
		thisIdx = 1
	}
	addr := c.loadVTableSlot(args[thisIdx], vtableSlot)

	exc, val := c.B.CallIndirect(addr, indirectParams, indirectResults, args)
	return c.dispatchResult(exc, val, proto)
}

// loadVTableSlot reads the function pointer at the given slot of recv's
// vtable: recv's first word is the vtable-region pointer (or, for an
// interface-typed receiver, the two-word (vtable-region pointer, instance)
// tuple's first word), and the slot indexes into that region.
func (c *Context) loadVTableSlot(recv backend.Reg, slot int) backend.Reg {
	vtable := c.alloc()
	c.B.Load(vtable, backend.MemOperand{Base: recv, Displacement: 0}, backend.ValPtr)
	addr := c.alloc()
	c.B.Load(addr, backend.MemOperand{Base: vtable, Displacement: slot * 8}, backend.ValPtr)
	return addr
}

// NewObj lowers newobj for a reference type: allocates the object through
// the linked gc_new helper (routing to OutOfMemoryException on a null
// result), then calls the constructor on it exactly like a non-virtual
// Call whose first popped argument is the freshly allocated receiver
// instead of one popped from the stack.
func (c *Context) NewObj(t *types.Type, typeHandle backend.Reg, ctor backend.Function, proto *sig.Prototype) error {
	if t.IsValueType && !t.IsEnum {
		return c.newObjValueType(t, ctor, proto)
	}
	if c.Shim.GCNew == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "gc_new helper not linked")
	}

	size := c.alloc()
	c.B.MoveImmI64(size, int64(t.ManagedSize))
	allocExc, recv := c.B.Call(c.Shim.GCNew, []backend.Reg{typeHandle, size})

	allocSkip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(allocExc, zero, backend.ValPtr, backend.CmpEQ, false, allocSkip)
	if err := c.rethrow(allocExc); err != nil {
		return err
	}
	c.B.BindLabel(allocSkip)

	oomSkip := c.B.NewLabel()
	c.B.CompareBranch(recv, zero, backend.ValPtr, backend.CmpNE, false, oomSkip)
	if err := c.throwNamed("System.OutOfMemoryException"); err != nil {
		return err
	}
	c.B.BindLabel(oomSkip)

	ctorArgs, err := c.popArgs(proto.PreparedParams[1:])
	if err != nil {
		return err
	}
	args := append([]backend.Reg{recv}, ctorArgs...)

	exc, _ := c.B.Call(ctor, args)
	skip := c.B.NewLabel()
	c.B.CompareBranch(exc, zero, backend.ValPtr, backend.CmpEQ, false, skip)
	if err := c.rethrow(exc); err != nil {
		return err
	}
	c.B.BindLabel(skip)

	slot, err := c.Stack.Push(t)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, recv)
	return nil
}

// newObjValueType lowers newobj on a value type: the instance is a
// zero-filled stack block, not a heap allocation, so there is no
// OutOfMemoryException path.
func (c *Context) newObjValueType(t *types.Type, ctor backend.Function, proto *sig.Prototype) error {
	block := c.B.AllocaBlock(t.ManagedSize)
	size := c.alloc()
	c.B.MoveImmI64(size, int64(t.ManagedSize))
	if err := c.emitBarrierCall(c.Shim.Memset, []backend.Reg{block, size}); err != nil {
		return err
	}

	ctorArgs, err := c.popArgs(proto.PreparedParams[1:])
	if err != nil {
		return err
	}
	args := append([]backend.Reg{block}, ctorArgs...)

	exc, _ := c.B.Call(ctor, args)
	skip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(exc, zero, backend.ValPtr, backend.CmpEQ, false, skip)
	if err := c.rethrow(exc); err != nil {
		return err
	}
	c.B.BindLabel(skip)

	slot, err := c.Stack.Push(t)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, block)
	return nil
}
