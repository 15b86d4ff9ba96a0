package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// emitNullCheck emits a skip-label conditional jump around a
// NullReferenceException throw when recv is zero.
func (c *Context) emitNullCheck(recv backend.Reg) error {
	skip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(recv, zero, backend.ValPtr, backend.CmpNE, false, skip)
	if err := c.throwNamed("System.NullReferenceException"); err != nil {
		return err
	}
	c.B.BindLabel(skip)
	return nil
}

// fieldMem builds the memory operand addressing field f at base (an
// object pointer or a managed-reference address, both held in a GPR).
func fieldMem(base backend.Reg, f *types.Field) backend.MemOperand {
	return backend.MemOperand{Base: base, Displacement: f.Offset}
}

// StoreField lowers stfld: the receiver and value are already popped by
// the caller (value first per CIL's push-this-then-value stack order, so
// the caller pops value then obj); writes go through the precise write
// barrier whenever f's type (or, for a value-typed field, any of its
// managed-pointer offsets) carries a reference.
func (c *Context) StoreField(obj, value backend.Reg, objType *types.Type, f *types.Field, valueType *types.Type) error {
	if err := c.emitNullCheck(obj); err != nil {
		return err
	}
	// backend.GC's Update/UpdateRef operate on opaque handles the finalizer
	// and newobj paths already hold; within lowering the write barrier is
	// reached the same way any other runtime helper is, as an emitted call
	// to a linked shim function.
	return c.emitFieldStore(obj, value, f, valueType, false)
}

func (c *Context) emitFieldStore(obj, value backend.Reg, f *types.Field, valueType *types.Type, throughByRef bool) error {
	mem := fieldMem(obj, f)

	switch {
	case valueType.StackCategory == types.CategoryO:
		// reference-typed field: gc_update(obj, offset, value) or, through a
		// by-ref receiver, gc_update_ref(addr, value).
		if throughByRef {
			return c.emitBarrierCall(c.Shim.ManagedRefMemcpy, []backend.Reg{obj, value})
		}
		c.B.Store(mem, value, backend.ValPtr)
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{obj, value})
	case valueType.IsValueType && !valueType.IsEnum && len(valueType.ManagedPointerOffsets) > 0:
		// value-typed field containing managed pointers: copy through the
		// managed-pointer-offset table rather than a raw store.
		fn := c.Shim.ManagedMemcpy
		if throughByRef {
			fn = c.Shim.ManagedRefMemcpy
		}
		return c.emitBarrierCall(fn, []backend.Reg{obj, value})
	case valueType.IsValueType && !valueType.IsEnum:
		// pure unmanaged value type: ordinary memcpy of managed_size bytes.
		size := c.alloc()
		c.B.MoveImmI64(size, int64(valueType.ManagedSize))
		return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{obj, value, size})
	default:
		c.B.Store(mem, value, kindOf(valueType))
		return nil
	}
}

func (c *Context) emitBarrierCall(fn backend.Function, args []backend.Reg) error {
	if fn == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "runtime write-barrier helper not linked")
	}
	c.B.Call(fn, args)
	return nil
}

// LoadField lowers ldfld: requires a non-null check on reference
// receivers; small-integer fields are sign- or zero-extended to Int32.
func (c *Context) LoadField(obj backend.Reg, f *types.Field, int32Type *types.Type) error {
	if err := c.emitNullCheck(obj); err != nil {
		return err
	}
	mem := fieldMem(obj, f)
	if f.FieldType.IsValueType && !f.FieldType.IsEnum {
		return c.loadValueType(mem, f.FieldType)
	}

	slot, err := c.Stack.Push(widenSmallInt(f.FieldType, int32Type))
	if err != nil {
		return err
	}
	c.B.Load(slot.Reg, mem, kindOf(f.FieldType))
	return nil
}

// loadValueType copies a VALUE_TYPE found at mem onto the operand stack: a
// fresh stack-allocated block is the destination, addressed and copied
// through the same write-barrier dispatch a field store uses, since the
// source may itself contain managed pointers.
func (c *Context) loadValueType(mem backend.MemOperand, t *types.Type) error {
	srcAddr := c.alloc()
	c.B.LoadAddr(srcAddr, mem)
	return c.copyValueTypeOnto(srcAddr, t)
}

// copyValueTypeOnto pushes a fresh stack-allocated copy of the VALUE_TYPE t
// found at srcAddr, an already-held address register (a local's or
// parameter's backing block, or one just computed by loadValueType):
// ldloc/ldarg on a struct must copy its value, never alias the original
// storage, so every load of a VALUE_TYPE goes through this regardless of
// where its source lives.
func (c *Context) copyValueTypeOnto(srcAddr backend.Reg, t *types.Type) error {
	block := c.B.AllocaBlock(t.ManagedSize)
	slot, err := c.Stack.Push(t)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, block)

	if len(t.ManagedPointerOffsets) > 0 {
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{block, srcAddr})
	}
	size := c.alloc()
	c.B.MoveImmI64(size, int64(t.ManagedSize))
	return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{block, srcAddr, size})
}

// widenSmallInt returns Int32 for sub-Int32 stack categories, t otherwise,
// honouring the stack-width rule that small integer loads widen.
func widenSmallInt(t, int32Type *types.Type) *types.Type {
	if t.StackCategory == types.CategoryInt32 && t.ManagedSize < 4 {
		return int32Type
	}
	return t
}

// LoadFieldAddr lowers ldflda: produces a managed reference by
// adding the field's memory offset to the object base.
func (c *Context) LoadFieldAddr(obj backend.Reg, f *types.Field, byRefType *types.Type) error {
	mem := fieldMem(obj, f)
	slot, err := c.Stack.Push(byRefType)
	if err != nil {
		return err
	}
	c.B.LoadAddr(slot.Reg, mem)
	return nil
}

// StoreStatic lowers stsfld: writes the statically-declared field symbol.
// isCctor must be true for init-only fields; the caller (the dispatcher
// reading types.Method.IsRTSpecialName) enforces that stsfld into an
// init-only field is reachable only from the declaring type's class
// constructor.
func (c *Context) StoreStatic(addr backend.Reg, value backend.Reg, f *types.Field, isCctor bool) error {
	if f.IsInitOnly && !isCctor {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1,
			"stsfld into init-only field %s outside its declaring type's class constructor", f.Name)
	}
	switch {
	case f.FieldType.StackCategory == types.CategoryO:
		return c.emitBarrierCall(c.Shim.ManagedRefMemcpy, []backend.Reg{addr, value})
	case f.FieldType.IsValueType && !f.FieldType.IsEnum && len(f.FieldType.ManagedPointerOffsets) > 0:
		return c.emitBarrierCall(c.Shim.ManagedRefMemcpy, []backend.Reg{addr, value})
	case f.FieldType.IsValueType && !f.FieldType.IsEnum:
		size := c.alloc()
		c.B.MoveImmI64(size, int64(f.FieldType.ManagedSize))
		return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{addr, value, size})
	default:
		c.B.Store(backend.MemOperand{Base: addr}, value, kindOf(f.FieldType))
		return nil
	}
}

// LoadStatic lowers ldsfld.
func (c *Context) LoadStatic(addr backend.Reg, f *types.Field, int32Type *types.Type) error {
	mem := backend.MemOperand{Base: addr}
	if f.FieldType.IsValueType && !f.FieldType.IsEnum {
		return c.loadValueType(mem, f.FieldType)
	}

	slot, err := c.Stack.Push(widenSmallInt(f.FieldType, int32Type))
	if err != nil {
		return err
	}
	c.B.Load(slot.Reg, mem, kindOf(f.FieldType))
	return nil
}
