package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

// compareKind applies the same category coercion as arithmetic (promote
// int32 against intptr by zero-extension), and restricts object
// references to equality/inequality only and by-refs to straight compare.
func (c *Context) compareKind(lhs, rhs stack.Slot, op backend.CompareOp) (backend.ValueKind, backend.Reg, backend.Reg, error) {
	lc, rc := lhs.Type.StackCategory, rhs.Type.StackCategory

	if lc == types.CategoryO || rc == types.CategoryO {
		if lc != rc {
			return 0, 0, 0, jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "cannot compare O-category operand with non-O operand")
		}
		if op != backend.CmpEQ && op != backend.CmpNE {
			return 0, 0, 0, jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "only equality/inequality allowed on object references")
		}
		return backend.ValPtr, lhs.Reg, rhs.Reg, nil
	}

	if lc == types.CategoryRef || rc == types.CategoryRef {
		if lc != rc {
			return 0, 0, 0, jerrors.CheckFailed(jerrors.PhaseLower, c.Method.Name, -1, "cannot compare by-ref operand with non-by-ref operand")
		}
		return backend.ValPtr, lhs.Reg, rhs.Reg, nil
	}

	kind, _, err := widenedKind(lhs.Type, rhs.Type)
	if err != nil {
		return 0, 0, 0, err
	}
	a, b := lhs.Reg, rhs.Reg
	if kind == backend.ValIPtr {
		if lc == types.CategoryInt32 {
			a = c.alloc()
			c.B.Ext(a, lhs.Reg, 32, 64, false)
		}
		if rc == types.CategoryInt32 {
			b = c.alloc()
			c.B.Ext(b, rhs.Reg, 32, 64, false)
		}
	}
	return kind, a, b, nil
}

// Compare lowers ceq/cgt/clt and their unsigned variants: pops two
// operands, pushes an Int32 0/1 result.
func (c *Context) Compare(op backend.CompareOp, unsigned bool, int32Type *types.Type) error {
	rhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	lhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}

	kind, a, b, err := c.compareKind(lhs, rhs, op)
	if err != nil {
		return err
	}

	slot, err := c.Stack.Push(int32Type)
	if err != nil {
		return err
	}
	c.B.Compare(slot.Reg, a, b, kind, op, unsigned)
	return nil
}

// CompareBranch lowers a compare-and-branch opcode (beq/bne/bge/bgt/ble/
// blt and unsigned variants): pops two operands and emits a conditional
// branch to target, validated by the caller against the protected-region
// map before this is called.
func (c *Context) CompareBranch(op backend.CompareOp, unsigned bool, target backend.Label) error {
	rhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	lhs, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	kind, a, b, err := c.compareKind(lhs, rhs, op)
	if err != nil {
		return err
	}
	c.B.CompareBranch(a, b, kind, op, unsigned, target)
	return nil
}
