package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// BindParams binds each formal parameter to the backing register the
// backend's calling convention already placed it in. The physical backend
// parameter list is proto.PreparedParams, which may prepend a return_block
// pointer and/or this ahead of the CIL-visible parameters; BindParams skips
// past those before indexing ParamRegs the way ldarg/starg do.
func (c *Context) BindParams() {
	offset := 0
	if c.Proto.HasReturnBlock {
		offset++
	}
	if !c.Method.IsStatic {
		c.ThisReg = c.B.Param(offset)
		offset++
	}
	c.ParamRegs = make([]backend.Reg, len(c.Method.Parameters))
	for i := range c.Method.Parameters {
		c.ParamRegs[i] = c.B.Param(offset + i)
	}
}

// InitLocals allocates a backing register (or, for value types, a stack
// block) for every local and zero-fills it. A method whose body does not
// set init-locals is rejected: uninitialised locals are never lowered.
func (c *Context) InitLocals() error {
	if !c.Method.Body.InitLocals {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "method body does not set init-locals")
	}

	c.LocalRegs = make([]backend.Reg, len(c.Method.Locals))
	for i, l := range c.Method.Locals {
		reg, err := c.zeroInitLocal(l.Type)
		if err != nil {
			return err
		}
		c.LocalRegs[i] = reg
	}
	return nil
}

// zeroInitLocal allocates and zero-fills one local's storage per its
// stack category: references and INT32/INT64/INTPTR locals get a
// move-immediate zero, Single/Double a float zero, anything else (a value
// type with no direct register representation) a zero-filled block of
// stack_size bytes.
func (c *Context) zeroInitLocal(t *types.Type) (backend.Reg, error) {
	switch t.StackCategory {
	case types.CategoryO, types.CategoryRef, types.CategoryInt32:
		reg := c.alloc()
		c.B.MoveImmI32(reg, 0)
		return reg, nil
	case types.CategoryInt64, types.CategoryIntPtr:
		reg := c.alloc()
		c.B.MoveImmI64(reg, 0)
		return reg, nil
	case types.CategoryFloat:
		reg := c.alloc()
		if t.ManagedSize == 8 {
			c.B.MoveImmF64(reg, 0)
		} else {
			c.B.MoveImmF32(reg, 0)
		}
		return reg, nil
	default:
		block := c.B.AllocaBlock(t.StackSize)
		size := c.alloc()
		c.B.MoveImmI64(size, int64(t.StackSize))
		if err := c.emitBarrierCall(c.Shim.Memset, []backend.Reg{block, size}); err != nil {
			return 0, err
		}
		return block, nil
	}
}

// LoadLocal lowers ldloc: pushes the local's current value, widening
// sub-Int32 categories the same way a field load does.
func (c *Context) LoadLocal(index int, int32Type *types.Type) error {
	if index < 0 || index >= len(c.LocalRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "ldloc index %d out of range", index)
	}
	t := c.Method.Locals[index].Type
	if t.IsValueType && !t.IsEnum {
		return c.copyValueTypeOnto(c.LocalRegs[index], t)
	}

	slot, err := c.Stack.Push(widenSmallInt(t, int32Type))
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, c.LocalRegs[index])
	return nil
}

// StoreLocal lowers stloc: pops the value and overwrites the local's
// backing register (value-type locals overwrite the block in place via a
// managed/plain copy chosen the same way field stores are).
func (c *Context) StoreLocal(index int) error {
	if index < 0 || index >= len(c.LocalRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "stloc index %d out of range", index)
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	t := c.Method.Locals[index].Type
	dst := c.LocalRegs[index]

	switch {
	case t.IsValueType && !t.IsEnum && len(t.ManagedPointerOffsets) > 0:
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{dst, v.Reg})
	case t.IsValueType && !t.IsEnum:
		size := c.alloc()
		c.B.MoveImmI64(size, int64(t.ManagedSize))
		return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{dst, v.Reg, size})
	default:
		c.B.Move(dst, v.Reg)
		return nil
	}
}

// LoadLocalAddr lowers ldloca: produces a managed reference to the local's
// backing storage.
func (c *Context) LoadLocalAddr(index int, byRefType *types.Type) error {
	if index < 0 || index >= len(c.LocalRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "ldloca index %d out of range", index)
	}
	slot, err := c.Stack.Push(byRefType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, c.LocalRegs[index])
	return nil
}

// LoadArg lowers ldarg.
func (c *Context) LoadArg(index int, int32Type *types.Type) error {
	if index < 0 || index >= len(c.ParamRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "ldarg index %d out of range", index)
	}
	t := c.Method.Parameters[index].Type
	if t.IsValueType && !t.IsEnum {
		return c.copyValueTypeOnto(c.ParamRegs[index], t)
	}

	slot, err := c.Stack.Push(widenSmallInt(t, int32Type))
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, c.ParamRegs[index])
	return nil
}

// StoreArg lowers starg.
func (c *Context) StoreArg(index int) error {
	if index < 0 || index >= len(c.ParamRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "starg index %d out of range", index)
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	t := c.Method.Parameters[index].Type
	dst := c.ParamRegs[index]

	switch {
	case t.IsValueType && !t.IsEnum && len(t.ManagedPointerOffsets) > 0:
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{dst, v.Reg})
	case t.IsValueType && !t.IsEnum:
		size := c.alloc()
		c.B.MoveImmI64(size, int64(t.ManagedSize))
		return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{dst, v.Reg, size})
	default:
		c.B.Move(dst, v.Reg)
		return nil
	}
}

// LoadArgAddr lowers ldarga.
func (c *Context) LoadArgAddr(index int, byRefType *types.Type) error {
	if index < 0 || index >= len(c.ParamRegs) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "ldarga index %d out of range", index)
	}
	slot, err := c.Stack.Push(byRefType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, c.ParamRegs[index])
	return nil
}
