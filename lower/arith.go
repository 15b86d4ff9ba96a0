package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// ArithOp enumerates the binary arithmetic/bitwise opcodes that share a
// single lowering path (add/sub/mul/div/rem/and/or/xor).
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
)

// widenedKind picks the operation width for a binary arithmetic op from
// the pair of operand stack categories: (INT32,INT32)->32-bit;
// (INTPTR,INT32) or (INT32,INTPTR)->extend the 32-bit side to 64, result
// INTPTR; (INT64,INT64)->64-bit; (FLOAT,FLOAT)->double if either operand
// is double, else single. Integer-only ops reject FLOAT operands.
func widenedKind(a, b *types.Type) (backend.ValueKind, *types.Type, error) {
	ac, bc := a.StackCategory, b.StackCategory

	if ac == types.CategoryFloat || bc == types.CategoryFloat {
		if ac != bc {
			return 0, nil, jerrors.CheckFailed(jerrors.PhaseLower, "", -1, "cannot mix FLOAT with non-FLOAT operand in arithmetic")
		}
		if a.ManagedSize == 8 || b.ManagedSize == 8 {
			return backend.ValF64, a, nil
		}
		return backend.ValF32, a, nil
	}

	switch {
	case ac == types.CategoryInt64 && bc == types.CategoryInt64:
		return backend.ValI64, a, nil
	case ac == types.CategoryIntPtr || bc == types.CategoryIntPtr:
		if ac == types.CategoryInt32 || bc == types.CategoryInt32 || (ac == types.CategoryIntPtr && bc == types.CategoryIntPtr) {
			if ac == types.CategoryIntPtr {
				return backend.ValIPtr, a, nil
			}
			return backend.ValIPtr, b, nil
		}
		return 0, nil, jerrors.CheckFailed(jerrors.PhaseLower, "", -1, "incompatible operand categories for arithmetic: %s / %s", ac, bc)
	case ac == types.CategoryInt32 && bc == types.CategoryInt32:
		return backend.ValI32, a, nil
	default:
		return 0, nil, jerrors.CheckFailed(jerrors.PhaseLower, "", -1, "incompatible operand categories for arithmetic: %s / %s", ac, bc)
	}
}

// extendTo32to64 emits a sign-extension of src (currently a 32-bit value)
// to a fresh 64-bit register when a binary op widens an INT32 operand to
// INTPTR width.
func (c *Context) extendTo32to64(src backend.Reg) backend.Reg {
	dst := c.alloc()
	c.B.Ext(dst, src, 32, 64, true)
	return dst
}

// Arith lowers one binary arithmetic/bitwise opcode: pops the right then
// left operand, picks the operation width, emits the divide-by-zero guard
// for Div/Rem, and pushes the INT32/INT64/INTPTR/FLOAT result.
func (c *Context) Arith(op ArithOp, unsigned bool) error {
	rhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	lhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	if (op == OpAnd || op == OpOr || op == OpXor) && (lhs.Type.StackCategory == types.CategoryFloat || rhs.Type.StackCategory == types.CategoryFloat) {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "bitwise op on FLOAT operand")
	}

	kind, resultType, err := widenedKind(lhs.Type, rhs.Type)
	if err != nil {
		return err
	}

	a, b := lhs.Reg, rhs.Reg
	if kind == backend.ValIPtr {
		if lhs.Type.StackCategory == types.CategoryInt32 {
			a = c.extendTo32to64(a)
		}
		if rhs.Type.StackCategory == types.CategoryInt32 {
			b = c.extendTo32to64(b)
		}
	}

	if op == OpDiv || op == OpRem {
		if err := c.emitDivideByZeroGuard(b, kind); err != nil {
			return err
		}
	}

	slot, err := c.Stack.Push(resultType)
	if err != nil {
		return err
	}
	dst := slot.Reg

	switch op {
	case OpAdd:
		c.B.Add(dst, a, b, kind)
	case OpSub:
		c.B.Sub(dst, a, b, kind)
	case OpMul:
		c.B.Mul(dst, a, b, kind)
	case OpDiv:
		c.B.Div(dst, a, b, kind, unsigned)
	case OpRem:
		c.B.Mod(dst, a, b, kind, unsigned)
	case OpAnd:
		c.B.And(dst, a, b, kind)
	case OpOr:
		c.B.Or(dst, a, b, kind)
	case OpXor:
		c.B.Xor(dst, a, b, kind)
	}
	return nil
}

// Neg lowers unary negate.
func (c *Context) Neg() error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	kind := kindOf(v.Type)
	slot, err := c.Stack.Push(v.Type)
	if err != nil {
		return err
	}
	if v.Type.StackCategory == types.CategoryFloat {
		c.B.FloatNeg(slot.Reg, v.Reg, v.Type.ManagedSize == 8)
	} else {
		c.B.Neg(slot.Reg, v.Reg, kind)
	}
	return nil
}

// Not lowers bitwise-not as XOR with -1.
func (c *Context) Not() error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	if v.Type.StackCategory == types.CategoryFloat {
		return jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "bitwise-not on FLOAT operand")
	}
	kind := kindOf(v.Type)
	slot, err := c.Stack.Push(v.Type)
	if err != nil {
		return err
	}
	c.B.Not(slot.Reg, v.Reg, kind)
	return nil
}

// ValueKindOf exposes the stack-category-to-backend-kind mapping lowering
// uses internally, for the emitter's own signature-shape building.
func ValueKindOf(t *types.Type) backend.ValueKind { return kindOf(t) }

func kindOf(t *types.Type) backend.ValueKind {
	switch t.StackCategory {
	case types.CategoryInt64:
		return backend.ValI64
	case types.CategoryIntPtr:
		return backend.ValIPtr
	case types.CategoryFloat:
		if t.ManagedSize == 8 {
			return backend.ValF64
		}
		return backend.ValF32
	case types.CategoryO, types.CategoryRef:
		return backend.ValPtr
	default:
		return backend.ValI32
	}
}

// emitDivideByZeroGuard emits a compare-and-branch that routes to a
// DivideByZeroException throw before the dividend is observably touched,
// per the boundary-behaviour requirement that the exception fires before
// any side effect of the dividend.
func (c *Context) emitDivideByZeroGuard(divisor backend.Reg, kind backend.ValueKind) error {
	skip := c.B.NewLabel()
	zero := c.alloc()
	switch kind {
	case backend.ValI64, backend.ValIPtr:
		c.B.MoveImmI64(zero, 0)
	default:
		c.B.MoveImmI32(zero, 0)
	}
	c.B.CompareBranch(divisor, zero, kind, backend.CmpNE, false, skip)
	if err := c.throwNamed("System.DivideByZeroException"); err != nil {
		return err
	}
	c.B.BindLabel(skip)
	return nil
}
