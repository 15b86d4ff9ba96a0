package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// IsInst lowers isinst: pops an object reference, pushes either the same
// reference (narrowed to targetType) or null, never throwing. A null
// source passes through as null per isinst's no-op-on-null rule.
func (c *Context) IsInst(targetType *types.Type, targetHandle backend.Reg, toInterface bool) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	result, err := c.dynamicCast(v.Reg, targetHandle, toInterface)
	if err != nil {
		return err
	}

	slot, err := c.Stack.Push(targetType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, result)
	return nil
}

// CastClass lowers castclass: like isinst, but a failed cast of a non-null
// source throws InvalidCastException instead of producing null.
func (c *Context) CastClass(targetType *types.Type, targetHandle backend.Reg, toInterface bool) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	result, err := c.dynamicCast(v.Reg, targetHandle, toInterface)
	if err != nil {
		return err
	}

	failSkip := c.B.NewLabel()
	nullSkip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(v.Reg, zero, backend.ValPtr, backend.CmpEQ, false, nullSkip)
	c.B.CompareBranch(result, zero, backend.ValPtr, backend.CmpNE, false, failSkip)
	if err := c.throwNamed("System.InvalidCastException"); err != nil {
		return err
	}
	c.B.BindLabel(nullSkip)
	c.B.BindLabel(failSkip)

	slot, err := c.Stack.Push(targetType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, result)
	return nil
}

// dynamicCast dispatches to the isinstance helper for a concrete-class
// target or the dynamic_cast_to_interface helper for an interface target,
// returning the narrowed reference (or null on failure/null input).
func (c *Context) dynamicCast(recv, targetHandle backend.Reg, toInterface bool) (backend.Reg, error) {
	fn := c.Shim.Isinstance
	if toInterface {
		fn = c.Shim.DynamicCastToIface
	}
	if fn == nil {
		return 0, jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "cast helper not linked")
	}
	_, result := c.B.Call(fn, []backend.Reg{recv, targetHandle})
	return result, nil
}

// Box lowers box: allocates a boxed instance of the value type and copies
// the popped value into it through the linked gc_new helper, the same
// allocation path NewObj uses; a reference-type operand is a no-op (box on
// an already-reference-typed value leaves the reference unchanged).
func (c *Context) Box(valueType, boxedType *types.Type, typeHandle backend.Reg) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	if !valueType.IsValueType {
		slot, err := c.Stack.Push(boxedType)
		if err != nil {
			return err
		}
		c.B.Move(slot.Reg, v.Reg)
		return nil
	}

	if c.Shim.GCNew == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "gc_new helper not linked")
	}
	size := c.alloc()
	c.B.MoveImmI64(size, int64(valueType.ManagedSize))
	allocExc, recv := c.B.Call(c.Shim.GCNew, []backend.Reg{typeHandle, size})

	skip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(allocExc, zero, backend.ValPtr, backend.CmpEQ, false, skip)
	if err := c.rethrow(allocExc); err != nil {
		return err
	}
	c.B.BindLabel(skip)

	oomSkip := c.B.NewLabel()
	c.B.CompareBranch(recv, zero, backend.ValPtr, backend.CmpNE, false, oomSkip)
	if err := c.throwNamed("System.OutOfMemoryException"); err != nil {
		return err
	}
	c.B.BindLabel(oomSkip)

	if len(valueType.ManagedPointerOffsets) > 0 {
		if err := c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{recv, v.Reg}); err != nil {
			return err
		}
	} else {
		if err := c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{recv, v.Reg, size}); err != nil {
			return err
		}
	}

	slot, err := c.Stack.Push(boxedType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, recv)
	return nil
}

// UnboxAny lowers unbox.any: null-checks the boxed instance and copies
// valueType.ManagedSize bytes of it onto the stack as a value the same way
// ldobj does. It emits no check that the box actually holds valueType, so
// a box of another type raises no InvalidCastException.
func (c *Context) UnboxAny(valueType *types.Type) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	if err := c.emitNullCheck(v.Reg); err != nil {
		return err
	}

	block := c.B.AllocaBlock(valueType.ManagedSize)
	slot, err := c.Stack.Push(valueType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, block)

	if len(valueType.ManagedPointerOffsets) > 0 {
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{block, v.Reg})
	}
	size := c.alloc()
	c.B.MoveImmI64(size, int64(valueType.ManagedSize))
	return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{block, v.Reg, size})
}
