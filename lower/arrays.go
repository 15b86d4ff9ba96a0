package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// arrayLengthOffset and arrayDataOffset are the fixed layout of every array
// object: a length field followed by the element data, mirroring the
// layout ManagedSize/ManagedPointerOffsets already assume for any other
// reference type.
const (
	arrayLengthOffset = 0
	arrayDataOffset   = 8
)

// NewArr lowers newarr: pops the requested length, validates it is
// non-negative, and allocates length*elemSize + header bytes through the
// linked gc_new helper, the same allocation path NewObj uses.
func (c *Context) NewArr(elemType, arrayType *types.Type, typeHandle backend.Reg, int32Type *types.Type) error {
	if c.Shim.GCNew == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "gc_new helper not linked")
	}

	length, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	skip := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI32(zero, 0)
	c.B.CompareBranch(length.Reg, zero, backend.ValI32, backend.CmpGE, false, skip)
	if err := c.throwNamed("System.OverflowException"); err != nil {
		return err
	}
	c.B.BindLabel(skip)

	length64 := c.extendTo32to64(length.Reg)
	elemSize := c.alloc()
	c.B.MoveImmI64(elemSize, int64(elemType.ManagedSize))
	byteLen := c.alloc()
	c.B.Mul(byteLen, length64, elemSize, backend.ValIPtr)
	header := c.alloc()
	c.B.MoveImmI64(header, arrayDataOffset)
	size := c.alloc()
	c.B.Add(size, byteLen, header, backend.ValIPtr)

	allocExc, recv := c.B.Call(c.Shim.GCNew, []backend.Reg{typeHandle, size})
	allocSkip := c.B.NewLabel()
	excZero := c.alloc()
	c.B.MoveImmI64(excZero, 0)
	c.B.CompareBranch(allocExc, excZero, backend.ValPtr, backend.CmpEQ, false, allocSkip)
	if err := c.rethrow(allocExc); err != nil {
		return err
	}
	c.B.BindLabel(allocSkip)

	oomSkip := c.B.NewLabel()
	c.B.CompareBranch(recv, excZero, backend.ValPtr, backend.CmpNE, false, oomSkip)
	if err := c.throwNamed("System.OutOfMemoryException"); err != nil {
		return err
	}
	c.B.BindLabel(oomSkip)

	c.B.Store(backend.MemOperand{Base: recv, Displacement: arrayLengthOffset}, length.Reg, backend.ValI32)

	slot, err := c.Stack.Push(arrayType)
	if err != nil {
		return err
	}
	c.B.Move(slot.Reg, recv)
	return nil
}

// LdLen lowers ldlen: requires a non-null array receiver, pushes the
// IntPtr-widened element count per the array-length push convention.
func (c *Context) LdLen(nativeIntType *types.Type) error {
	arr, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	if err := c.emitNullCheck(arr.Reg); err != nil {
		return err
	}
	slot, err := c.Stack.Push(nativeIntType)
	if err != nil {
		return err
	}
	length32 := c.alloc()
	c.B.Load(length32, backend.MemOperand{Base: arr.Reg, Displacement: arrayLengthOffset}, backend.ValI32)
	c.B.Ext(slot.Reg, length32, 32, 64, false)
	return nil
}

// elemMem builds the bounds-checked memory operand addressing element
// index of an array with elements of size elemSize stored at arr, throwing
// IndexOutOfRangeException when index is out of [0,length).
func (c *Context) elemMem(arr, index backend.Reg, elemSize int) (backend.MemOperand, error) {
	if err := c.emitNullCheck(arr); err != nil {
		return backend.MemOperand{}, err
	}

	length := c.alloc()
	c.B.Load(length, backend.MemOperand{Base: arr, Displacement: arrayLengthOffset}, backend.ValI32)

	zero := c.alloc()
	c.B.MoveImmI32(zero, 0)

	negSkip := c.B.NewLabel()
	c.B.CompareBranch(index, zero, backend.ValI32, backend.CmpGE, false, negSkip)
	if err := c.throwNamed("System.IndexOutOfRangeException"); err != nil {
		return backend.MemOperand{}, err
	}
	c.B.BindLabel(negSkip)

	inRange := c.B.NewLabel()
	c.B.CompareBranch(index, length, backend.ValI32, backend.CmpLT, false, inRange)
	if err := c.throwNamed("System.IndexOutOfRangeException"); err != nil {
		return backend.MemOperand{}, err
	}
	c.B.BindLabel(inRange)

	return backend.MemOperand{Base: arr, Index: index, HasIndex: true, Scale: elemSize, Displacement: arrayDataOffset}, nil
}

// emitArrayStoreCheck implements stelem.ref's covariant array-store check:
// a reference-typed array variable's static element type may be broader
// than the actual array instance's (array covariance allows a string[] to
// be held in an object[]-typed local), so the value being stored is tested
// against the array's actual runtime element type via get_array_type, not
// elemType's own static handle. A null value always passes.
func (c *Context) emitArrayStoreCheck(arr, value backend.Reg) error {
	if c.Shim.GetArrayType == nil || c.Shim.Isinstance == nil {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "array-store check helpers not linked")
	}
	done := c.B.NewLabel()
	zero := c.alloc()
	c.B.MoveImmI64(zero, 0)
	c.B.CompareBranch(value, zero, backend.ValPtr, backend.CmpEQ, false, done)

	_, elemHandle := c.B.Call(c.Shim.GetArrayType, []backend.Reg{arr})
	_, matches := c.B.Call(c.Shim.Isinstance, []backend.Reg{value, elemHandle})
	c.B.CompareBranch(matches, zero, backend.ValPtr, backend.CmpNE, false, done)
	if err := c.throwNamed("System.ArrayTypeMismatchException"); err != nil {
		return err
	}
	c.B.BindLabel(done)
	return nil
}

// StElem lowers stelem: pops value, index, array (in that reverse order),
// routing the write through the same write-barrier dispatch a field store
// uses.
func (c *Context) StElem(elemType *types.Type) error {
	value, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	index, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	arr, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	mem, err := c.elemMem(arr.Reg, index.Reg, elemType.ManagedSize)
	if err != nil {
		return err
	}

	switch {
	case elemType.StackCategory == types.CategoryO:
		if err := c.emitArrayStoreCheck(arr.Reg, value.Reg); err != nil {
			return err
		}
		c.B.Store(mem, value.Reg, backend.ValPtr)
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{arr.Reg, value.Reg})
	case elemType.IsValueType && !elemType.IsEnum && len(elemType.ManagedPointerOffsets) > 0:
		return c.emitBarrierCall(c.Shim.ManagedMemcpy, []backend.Reg{arr.Reg, value.Reg})
	case elemType.IsValueType && !elemType.IsEnum:
		size := c.alloc()
		c.B.MoveImmI64(size, int64(elemType.ManagedSize))
		return c.emitBarrierCall(c.Shim.Memcpy, []backend.Reg{arr.Reg, value.Reg, size})
	default:
		c.B.Store(mem, value.Reg, kindOf(elemType))
		return nil
	}
}

// LdElem lowers ldelem: pops index, array, pushes the widened element
// value.
func (c *Context) LdElem(elemType *types.Type, int32Type *types.Type) error {
	index, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	arr, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	mem, err := c.elemMem(arr.Reg, index.Reg, elemType.ManagedSize)
	if err != nil {
		return err
	}

	if elemType.IsValueType && !elemType.IsEnum {
		return c.loadValueType(mem, elemType)
	}

	slot, err := c.Stack.Push(widenSmallInt(elemType, int32Type))
	if err != nil {
		return err
	}
	c.B.Load(slot.Reg, mem, kindOf(elemType))
	return nil
}

// LdElemA lowers ldelema: pops index, array, pushes a managed reference to
// the element.
func (c *Context) LdElemA(elemType, byRefType *types.Type) error {
	index, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	arr, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	mem, err := c.elemMem(arr.Reg, index.Reg, elemType.ManagedSize)
	if err != nil {
		return err
	}

	slot, err := c.Stack.Push(byRefType)
	if err != nil {
		return err
	}
	c.B.LoadAddr(slot.Reg, mem)
	return nil
}
