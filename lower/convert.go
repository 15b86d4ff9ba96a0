package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// ConvTarget names the fixed target stack type a conv.* opcode produces.
type ConvTarget int

const (
	ConvI4 ConvTarget = iota
	ConvI8
	ConvIPtr
	ConvR4
	ConvR8
)

// Convert lowers one conv.* opcode: pops one operand and pushes a value of
// the fixed target stack type. A FLOAT source converting to a small
// integer first converts to a native int then truncates; conv.r4/conv.r8
// from a float uses a single<->double conversion, from an integer uses
// int->float.
func (c *Context) Convert(target ConvTarget, resultType *types.Type) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	slot, err := c.Stack.Push(resultType)
	if err != nil {
		return err
	}
	dst := slot.Reg

	switch target {
	case ConvR4, ConvR8:
		toDouble := target == ConvR8
		if v.Type.StackCategory == types.CategoryFloat {
			c.B.FloatConv(dst, v.Reg, toDouble)
		} else {
			c.B.IntToFloat(dst, v.Reg, toDouble)
		}
		return nil
	}

	src := v.Reg
	if v.Type.StackCategory == types.CategoryFloat {
		// float -> native int, then truncate to the requested width below.
		native := c.alloc()
		c.B.FloatToInt(native, v.Reg, v.Type.ManagedSize == 8)
		src = native
		v.Type = c.nativeIntPlaceholder()
	}

	switch target {
	case ConvI4:
		c.truncateOrExtend(dst, src, v.Type, 32)
	case ConvI8, ConvIPtr:
		c.truncateOrExtend(dst, src, v.Type, 64)
	}
	return nil
}

// nativeIntPlaceholder is a synthetic INTPTR-category type used only to
// drive truncateOrExtend's width decision after a float->int conversion;
// it is never pushed onto the operand stack.
func (c *Context) nativeIntPlaceholder() *types.Type {
	return &types.Type{Name: "<native-int>", StackCategory: types.CategoryIntPtr, ManagedSize: 8}
}

// truncateOrExtend emits the narrowing or widening move needed to produce
// a toBits-wide result from src, whose source width is inferred from its
// stack category.
func (c *Context) truncateOrExtend(dst, src backend.Reg, srcType *types.Type, toBits int) {
	fromBits := 32
	switch srcType.StackCategory {
	case types.CategoryInt64, types.CategoryIntPtr:
		fromBits = 64
	}
	if fromBits == toBits {
		c.B.Move(dst, src)
		return
	}
	c.B.Ext(dst, src, fromBits, toBits, true)
}

// RejectUnsupportedConversion returns a check-failed error for a conv.*
// opcode this translator does not implement (checked arithmetic
// conversions, unsigned-overflow variants): these are an explicitly open
// question left unresolved upstream, so unknown variants are rejected
// rather than guessed at.
func (c *Context) RejectUnsupportedConversion(name string) error {
	return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "unsupported conversion opcode %q", name)
}
